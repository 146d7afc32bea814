// Package pollloop drives the periodic monitor tick.
//
// The loop is either stopped or running. While running it fires one tick on
// start and then once per interval. Ticks never overlap and stopping never
// aborts a tick already in flight.
package pollloop

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	logx "tailwatch/pkg/logx"
)

// TickFunc runs one tick. id is unique per tick and meant for logging.
type TickFunc func(ctx context.Context, id string)

type Option func(*Loop)

// WithSchedule replaces cron.Every. Tests use it for sub-second intervals.
func WithSchedule(fn func(d time.Duration) cron.Schedule) Option {
	return func(l *Loop) {
		if fn != nil {
			l.schedule = fn
		}
	}
}

type Loop struct {
	tick     TickFunc
	log      logx.Logger
	schedule func(d time.Duration) cron.Schedule

	mu       sync.Mutex
	interval time.Duration
	running  bool
	gen      uint64
	ctx      context.Context
	c        *cron.Cron
	lastTick time.Time

	busy     atomic.Bool
	inflight sync.WaitGroup
	skipped  atomic.Uint64
}

func New(interval time.Duration, tick TickFunc, log logx.Logger, opts ...Option) *Loop {
	if interval <= 0 {
		interval = time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	l := &Loop{
		tick:     tick,
		log:      log,
		interval: interval,
		schedule: func(d time.Duration) cron.Schedule { return cron.Every(d) },
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Start moves the loop to running and fires one tick right away. Ticks run
// with ctx. It returns false when the loop was already running.
func (l *Loop) Start(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return false
	}
	l.ctx = ctx
	l.startLocked()
	l.log.Info("poll loop started", logx.Duration("interval", l.interval))
	return true
}

func (l *Loop) startLocked() {
	l.running = true
	l.gen++
	gen := l.gen

	c := cron.New()
	c.Schedule(l.schedule(l.interval), cron.FuncJob(func() { l.fire(gen) }))
	c.Start()
	l.c = c

	go l.fire(gen)
}

// Stop prevents further ticks. It returns false when the loop was not
// running.
func (l *Loop) Stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return false
	}
	l.stopLocked()
	l.log.Info("poll loop stopped")
	return true
}

func (l *Loop) stopLocked() {
	l.running = false
	l.gen++
	if l.c != nil {
		// Stop does not wait for a running job.
		l.c.Stop()
		l.c = nil
	}
}

// SetInterval changes the interval. A running loop restarts, which resets
// the phase and fires a tick immediately. It reports whether a restart
// happened.
func (l *Loop) SetInterval(d time.Duration) bool {
	if d <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.interval = d
	if !l.running {
		return false
	}
	l.stopLocked()
	l.startLocked()
	l.log.Info("poll loop restarted", logx.Duration("interval", d))
	return true
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Loop) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

// LastTick is when the most recent tick started (zero if none).
func (l *Loop) LastTick() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastTick
}

// Skipped counts ticks dropped because the previous one was still running.
func (l *Loop) Skipped() uint64 { return l.skipped.Load() }

// Wait blocks until the in-flight tick (if any) finishes or ctx is done.
func (l *Loop) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) fire(gen uint64) {
	l.mu.Lock()
	if !l.running || gen != l.gen {
		l.mu.Unlock()
		return
	}
	ctx := l.ctx
	l.inflight.Add(1)
	l.mu.Unlock()
	defer l.inflight.Done()

	if !l.busy.CompareAndSwap(false, true) {
		l.skipped.Add(1)
		l.log.Warn("previous tick still running; skipping")
		return
	}
	defer l.busy.Store(false)

	id := uuid.NewString()
	start := time.Now()
	l.mu.Lock()
	l.lastTick = start
	l.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			l.log.Error("tick panicked; stopping poll loop",
				logx.String("tick", id),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			l.mu.Lock()
			if l.running && gen == l.gen {
				l.stopLocked()
			}
			l.mu.Unlock()
		}
	}()

	l.log.Debug("tick started", logx.String("tick", id))
	l.tick(ctx, id)
	l.log.Debug("tick finished", logx.String("tick", id), logx.Duration("dur", time.Since(start)))
}
