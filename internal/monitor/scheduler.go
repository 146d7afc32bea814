package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/remeh/sizedwaitgroup"

	"tailwatch/internal/eventbus"
	"tailwatch/internal/inventory"
	"tailwatch/internal/model"
	kit "tailwatch/internal/transport"
	logx "tailwatch/pkg/logx"
)

const (
	DefaultMaxBatch         = 10
	DefaultBurstPauseAfter  = 3
	DefaultBurstPause       = 500 * time.Millisecond
	DefaultAlertSuppression = time.Hour
)

// Registry is the tenant state the scheduler reads and advances.
type Registry interface {
	IDs() []string
	Get(id string) (model.Tenant, bool)
	Update(ctx context.Context, id string, fn func(t *model.Tenant) error) (model.Tenant, error)
	State(id string) *model.NotificationState
	SetDeviceNotified(id, device string, offline bool)
	SetLastAuthError(id string, at time.Time)
	SetLastAPIError(id string, at time.Time)
	PersistStates(ctx context.Context) error
}

type Limiter interface {
	Acquire(ctx context.Context) error
}

type SchedulerConfig struct {
	MaxBatch         int
	BurstPauseAfter  int
	BurstPause       time.Duration
	AlertSuppression time.Duration
	// Concurrency > 1 fans tenants out within a tick.
	Concurrency int
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.MaxBatch <= 0 {
		c.MaxBatch = DefaultMaxBatch
	}
	if c.BurstPauseAfter <= 0 {
		c.BurstPauseAfter = DefaultBurstPauseAfter
	}
	if c.BurstPause < 0 {
		c.BurstPause = 0
	} else if c.BurstPause == 0 {
		c.BurstPause = DefaultBurstPause
	}
	if c.AlertSuppression <= 0 {
		c.AlertSuppression = DefaultAlertSuppression
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	return c
}

// Result summarizes one tenant cycle.
type Result struct {
	Tenant   string
	Skipped  string // reason, empty when the cycle ran
	Events   int    // after prioritization
	Sent     int
	Failed   int
	Alerted  bool
	Err      error
	Duration time.Duration
}

type Scheduler struct {
	cfg     SchedulerConfig
	reg     Registry
	fetcher inventory.Fetcher
	msg     kit.Messenger
	lim     Limiter
	bus     eventbus.Bus
	log     logx.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Scheduler)

func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

func WithBus(b eventbus.Bus) Option {
	return func(s *Scheduler) { s.bus = b }
}

func NewScheduler(cfg SchedulerConfig, reg Registry, fetcher inventory.Fetcher, msg kit.Messenger, lim Limiter, log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		cfg:     cfg.withDefaults(),
		reg:     reg,
		fetcher: fetcher,
		msg:     msg,
		lim:     lim,
		log:     log,
		now:     time.Now,
		sleep:   sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RunTick runs one cycle for every tenant in registry order. A failing
// tenant never prevents the others from running.
func (s *Scheduler) RunTick(ctx context.Context) []Result {
	ids := s.reg.IDs()
	results := make([]Result, len(ids))

	if s.cfg.Concurrency <= 1 {
		for i, id := range ids {
			if ctx.Err() != nil {
				results[i] = Result{Tenant: id, Skipped: "cancelled"}
				continue
			}
			results[i] = s.RunTenant(ctx, id)
		}
	} else {
		swg := sizedwaitgroup.New(s.cfg.Concurrency)
		for i, id := range ids {
			if ctx.Err() != nil || swg.AddWithContext(ctx) != nil {
				results[i] = Result{Tenant: id, Skipped: "cancelled"}
				continue
			}
			go func(i int, id string) {
				defer swg.Done()
				results[i] = s.RunTenant(ctx, id)
			}(i, id)
		}
		swg.Wait()
	}

	s.publish(eventbus.Event{Type: eventbus.TypeTickFinished, Data: map[string]int{"tenants": len(ids)}})
	return results
}

// RunTenant runs one cycle for tenant id. Panics are recovered and reported
// in Result.Err.
func (s *Scheduler) RunTenant(ctx context.Context, id string) (res Result) {
	start := s.now()
	res.Tenant = id
	log := s.log.With(logx.String("tenant", id))

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic: %v", r)
			log.Error("tenant cycle panicked",
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			s.publish(eventbus.Event{Type: eventbus.TypeTenantFailed, Tenant: id, Error: res.Err.Error()})
		}
		res.Duration = s.now().Sub(start)
	}()

	t, ok := s.reg.Get(id)
	switch {
	case !ok || !t.Configured():
		res.Skipped = "unconfigured"
		return res
	case t.MonitoringStopped:
		res.Skipped = "stopped"
		log.Debug("skip tenant; monitoring stopped")
		return res
	}

	dest, err := s.destination(ctx, t, log)
	if err != nil {
		res.Skipped = "no destination"
		log.Warn("skip tenant; no notification channel", logx.Err(err))
		return res
	}

	list, err := s.fetcher.FetchDevices(ctx, t.APIKey)
	if err != nil {
		res.Err = err
		res.Alerted = s.alert(ctx, t.ID, dest, err, log)
		return res
	}

	now := s.now()
	events := Detect(list.Devices, t.Devices, s.reg.State(id), now, log)
	if n := len(events); n > s.cfg.MaxBatch {
		events = Prioritize(events, s.cfg.MaxBatch)
		log.Warn("notification batch truncated", logx.Int("candidates", n), logx.Int("sending", len(events)))
	}
	res.Events = len(events)

	pause := len(events) > s.cfg.BurstPauseAfter
	for _, ev := range events {
		if err := s.lim.Acquire(ctx); err != nil {
			res.Err = err
			break
		}
		if err := s.msg.Send(ctx, dest, ev.Message); err != nil {
			res.Failed++
			log.Error("send notification failed", logx.String("device", ev.Device), logx.Err(err))
			s.publish(eventbus.Event{Type: eventbus.TypeNotifyFailed, Tenant: id, Device: ev.Device, Error: err.Error()})
			continue
		}
		res.Sent++
		s.reg.SetDeviceNotified(id, ev.Device, ev.Offline)
		s.publish(eventbus.Event{Type: eventbus.TypeNotifySent, Tenant: id, Device: ev.Device, Data: map[string]bool{"offline": ev.Offline}})
		if pause {
			if err := s.sleep(ctx, s.cfg.BurstPause); err != nil {
				res.Err = err
				break
			}
		}
	}

	_ = s.reg.PersistStates(ctx)
	if res.Events > 0 {
		log.Info("tenant cycle done",
			logx.Int("events", res.Events),
			logx.Int("sent", res.Sent),
			logx.Int("failed", res.Failed),
		)
	}
	return res
}

// destination resolves where notifications go and records any fallback.
func (s *Scheduler) destination(ctx context.Context, t model.Tenant, log logx.Logger) (string, error) {
	current := t.Destination.String()
	dest, err := s.msg.ResolveDestination(ctx, t.ID, current)
	if err != nil {
		return "", err
	}
	if dest == "" {
		return "", kit.ErrNoDestination
	}
	if dest != current {
		if current != "" {
			log.Warn("notification channel not found; falling back", logx.String("old", current), logx.String("new", dest))
		}
		if _, err := s.reg.Update(ctx, t.ID, func(tn *model.Tenant) error {
			tn.Destination = model.ChannelID(dest)
			return nil
		}); err != nil {
			log.Error("store fallback channel failed", logx.Err(err))
		}
	}
	return dest, nil
}

// alert tells the operator about a failed fetch at most once per
// suppression window. It reports whether an alert was delivered.
func (s *Scheduler) alert(ctx context.Context, id, dest string, fetchErr error, log logx.Logger) bool {
	var (
		text string
		last int64
		mark func(string, time.Time)
		kind string
	)
	st := s.reg.State(id)
	var authErr *inventory.AuthError
	switch {
	case errors.As(fetchErr, &authErr):
		text, last, mark, kind = AuthAlert(authErr.Status), st.LastAuthError, s.reg.SetLastAuthError, "auth"
	case errors.Is(fetchErr, inventory.ErrUnavailable):
		text, last, mark, kind = UnavailableAlert, st.LastAPIError, s.reg.SetLastAPIError, "unavailable"
	default:
		// Cancelled or otherwise unexpected; nothing to tell the operator.
		log.Warn("fetch aborted", logx.Err(fetchErr))
		return false
	}

	now := s.now()
	if now.Unix()-last <= int64(s.cfg.AlertSuppression/time.Second) {
		log.Debug("operator alert suppressed", logx.String("kind", kind), logx.Err(fetchErr))
		return false
	}
	if err := s.lim.Acquire(ctx); err != nil {
		return false
	}
	if err := s.msg.Send(ctx, dest, text); err != nil {
		log.Error("send operator alert failed", logx.String("kind", kind), logx.Err(err))
		return false
	}
	mark(id, now)
	_ = s.reg.PersistStates(ctx)
	s.publish(eventbus.Event{Type: eventbus.TypeAlertSent, Tenant: id, Data: map[string]string{"kind": kind}, Error: fetchErr.Error()})
	return true
}

func (s *Scheduler) publish(e eventbus.Event) {
	if s.bus == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = s.now()
	}
	s.bus.Publish(e)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
