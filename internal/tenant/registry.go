// Package tenant owns the in-memory tenant configuration and notification
// state, and writes both through a storage.Store.
package tenant

import (
	"context"
	"errors"
	"sync"
	"time"

	"tailwatch/internal/config"
	"tailwatch/internal/model"
	"tailwatch/internal/storage"
	logx "tailwatch/pkg/logx"
)

var ErrNotFound = errors.New("tenant not found")

// Registry is the single owner of tenant config and notification state.
// All accessors return copies.
//
// Lock order: saveMu before mu.
type Registry struct {
	store storage.Store
	log   logx.Logger

	saveMu  sync.Mutex // serializes tenant document writes and reloads
	stateMu sync.Mutex // serializes state document writes

	mu      sync.RWMutex
	order   []string
	tenants map[string]model.Tenant
	states  map[string]*model.NotificationState
}

func NewRegistry(store storage.Store, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		store:   store,
		log:     log,
		tenants: map[string]model.Tenant{},
		states:  map[string]*model.NotificationState{},
	}
}

// Load reads both documents. An unreadable tenant document is an error; an
// unreadable state document is logged and state starts empty.
func (r *Registry) Load(ctx context.Context) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	tenants, err := r.store.LoadTenants(ctx)
	if err != nil {
		return err
	}
	states, err := r.store.LoadStates(ctx)
	if err != nil {
		r.log.Error("notification state unreadable; starting empty", logx.Err(err))
		states = map[string]*model.NotificationState{}
	}

	r.mu.Lock()
	r.setTenantsLocked(tenants)
	r.states = states
	r.mu.Unlock()

	r.log.Info("tenants loaded", logx.Int("tenants", len(tenants)), logx.Int("states", len(states)))
	return nil
}

// Reload re-reads the tenant document only. Notification state in memory is
// authoritative and kept.
func (r *Registry) Reload(ctx context.Context) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	tenants, err := r.store.LoadTenants(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.setTenantsLocked(tenants)
	r.mu.Unlock()
	r.log.Info("tenants reloaded", logx.Int("tenants", len(tenants)))
	return nil
}

func (r *Registry) setTenantsLocked(tenants []model.Tenant) {
	r.order = r.order[:0]
	r.tenants = make(map[string]model.Tenant, len(tenants))
	for _, t := range tenants {
		if _, dup := r.tenants[t.ID]; !dup {
			r.order = append(r.order, t.ID)
		}
		r.tenants[t.ID] = t.Clone()
	}
}

// Tenants returns every tenant in discovery order.
func (r *Registry) Tenants() []model.Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Tenant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tenants[id].Clone())
	}
	return out
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Get(id string) (model.Tenant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[id]
	if !ok {
		return model.Tenant{}, false
	}
	return t.Clone(), true
}

// Update applies fn to tenant id (creating it when absent) and persists the
// tenant document. An error from fn discards the change. A persistence
// failure is logged; the in-memory change stands.
func (r *Registry) Update(ctx context.Context, id string, fn func(t *model.Tenant) error) (model.Tenant, error) {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.Lock()
	t, exists := r.tenants[id]
	if !exists {
		t = model.Tenant{ID: id, PollInterval: model.DefaultPollInterval}
	} else {
		t = t.Clone()
	}
	if err := fn(&t); err != nil {
		r.mu.Unlock()
		return model.Tenant{}, err
	}
	t.ID = id
	if !exists {
		r.order = append(r.order, id)
	}
	r.tenants[id] = t
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if err := r.store.SaveTenants(ctx, snapshot); err != nil {
		r.log.Error("persist tenants failed", logx.String("tenant", id), logx.Err(err))
	}
	return t.Clone(), nil
}

// UpdateExisting is Update for tenants that must already exist.
func (r *Registry) UpdateExisting(ctx context.Context, id string, fn func(t *model.Tenant) error) (model.Tenant, error) {
	if _, ok := r.Get(id); !ok {
		return model.Tenant{}, ErrNotFound
	}
	return r.Update(ctx, id, fn)
}

func (r *Registry) snapshotLocked() []model.Tenant {
	out := make([]model.Tenant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tenants[id].Clone())
	}
	return out
}

// State returns a copy of the tenant's notification state (empty if none).
func (r *Registry) State(id string) *model.NotificationState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if st, ok := r.states[id]; ok && st != nil {
		return st.Clone()
	}
	return model.NewNotificationState()
}

func (r *Registry) stateLocked(id string) *model.NotificationState {
	st, ok := r.states[id]
	if !ok || st == nil {
		st = model.NewNotificationState()
		r.states[id] = st
	}
	if st.Devices == nil {
		st.Devices = map[string]bool{}
	}
	return st
}

func (r *Registry) SetDeviceNotified(id, device string, offline bool) {
	r.mu.Lock()
	r.stateLocked(id).Devices[device] = offline
	r.mu.Unlock()
}

func (r *Registry) SetLastAuthError(id string, at time.Time) {
	r.mu.Lock()
	r.stateLocked(id).LastAuthError = at.Unix()
	r.mu.Unlock()
}

func (r *Registry) SetLastAPIError(id string, at time.Time) {
	r.mu.Lock()
	r.stateLocked(id).LastAPIError = at.Unix()
	r.mu.Unlock()
}

// PersistStates writes every tenant's notification state.
func (r *Registry) PersistStates(ctx context.Context) error {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	r.mu.RLock()
	snapshot := make(map[string]*model.NotificationState, len(r.states))
	for id, st := range r.states {
		snapshot[id] = st.Clone()
	}
	r.mu.RUnlock()

	if err := r.store.SaveStates(ctx, snapshot); err != nil {
		r.log.Error("persist notification state failed", logx.Err(err))
		return err
	}
	return nil
}

// Configured reports whether any tenant has an API key.
func (r *Registry) Configured() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tenants {
		if t.Configured() {
			return true
		}
	}
	return false
}

// AnyActive reports whether some configured tenant is not stopped.
func (r *Registry) AnyActive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tenants {
		if t.Configured() && !t.MonitoringStopped {
			return true
		}
	}
	return false
}

// FirstInterval is the poll interval of the first-discovered tenant. The
// loop interval is process-wide, so the other tenants' values are ignored
// at startup.
func (r *Registry) FirstInterval() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return time.Duration(model.DefaultPollInterval) * time.Second
	}
	return r.tenants[r.order[0]].Interval()
}

// Watch reloads the tenant document when it is edited on disk. It is a
// no-op for stores without a file path.
func (r *Registry) Watch(ctx context.Context) error {
	w, ok := r.store.(storage.Watchable)
	if !ok {
		return nil
	}
	return config.WatchFile(ctx, w.TenantsPath(), r.log, 0, func() {
		if err := r.Reload(ctx); err != nil {
			r.log.Warn("tenant document reload failed", logx.String("path", w.TenantsPath()), logx.Err(err))
		}
	})
}
