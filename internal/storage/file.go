package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"tailwatch/internal/model"
	logx "tailwatch/pkg/logx"
)

// fileStore keeps the two documents side by side in one directory:
//
//   - <dir>/server_config.json       guild id -> tenant config
//   - <dir>/notification_state.json  guild id -> flat device map
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	closed bool

	tenantsPath string
	statesPath  string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{
		log:         log,
		tenantsPath: filepath.Join(dir, TenantsFile),
		statesPath:  filepath.Join(dir, StatesFile),
	}, nil
}

func (s *fileStore) TenantsPath() string { return s.tenantsPath }

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) LoadTenants(ctx context.Context) ([]model.Tenant, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	b, err := os.ReadFile(s.tenantsPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tenants, err := decodeTenants(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.tenantsPath, err)
	}
	return tenants, nil
}

func (s *fileStore) SaveTenants(ctx context.Context, tenants []model.Tenant) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	b, err := encodeTenants(tenants)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return writeFileAtomic(s.tenantsPath, b)
}

func (s *fileStore) LoadStates(ctx context.Context) (map[string]*model.NotificationState, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	b, err := os.ReadFile(s.statesPath)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]*model.NotificationState{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := map[string]*model.NotificationState{}
	if len(bytes.TrimSpace(b)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", s.statesPath, err)
	}
	return out, nil
}

func (s *fileStore) SaveStates(ctx context.Context, states map[string]*model.NotificationState) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	b, err := json.MarshalIndent(states, "", "    ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return writeFileAtomic(s.statesPath, b)
}

// writeFileAtomic replaces path with data via <path>.tmp, fsync and rename.
// The destination is never truncated in place.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// decodeTenants reads the guild-keyed object, keeping document order.
func decodeTenants(b []byte) ([]model.Tenant, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("tenant document must be a JSON object")
	}

	var out []model.Tenant
	seen := map[string]int{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		id, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key token %v", tok)
		}
		var t model.Tenant
		if err := dec.Decode(&t); err != nil {
			return nil, fmt.Errorf("tenant %s: %w", id, err)
		}
		t.ID = id
		// Duplicate keys: last value wins, first position is kept.
		if i, dup := seen[id]; dup {
			out[i] = t
			continue
		}
		seen[id] = len(out)
		out = append(out, t)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeTenants(tenants []model.Tenant) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString("{")
	for i, t := range tenants {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n    ")
		kb, err := json.Marshal(t.ID)
		if err != nil {
			return nil, err
		}
		vb, err := json.MarshalIndent(t, "    ", "    ")
		if err != nil {
			return nil, err
		}
		b.Write(kb)
		b.WriteString(": ")
		b.Write(vb)
	}
	if len(tenants) > 0 {
		b.WriteString("\n")
	}
	b.WriteString("}\n")
	return b.Bytes(), nil
}

// sortedStateIDs is shared by the database drivers for deterministic writes.
func sortedStateIDs(states map[string]*model.NotificationState) []string {
	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
