// Package ratelimit paces outbound chat messages.
//
// The limiter combines a sliding window of recent send timestamps with a
// server-imposed "retry after" deadline learned from response headers.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBurst   = 5
	DefaultRate    = 0.5 // messages per second once the burst is used
	DefaultWindow  = 60 * time.Second
	DefaultHistory = 100
)

type Config struct {
	Burst   int
	Rate    float64
	Window  time.Duration
	History int
}

func (c Config) withDefaults() Config {
	if c.Burst <= 0 {
		c.Burst = DefaultBurst
	}
	if c.Rate <= 0 {
		c.Rate = DefaultRate
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.History <= 0 {
		c.History = DefaultHistory
	}
	if c.History < c.Burst {
		c.History = c.Burst
	}
	return c
}

// Limiter is safe for concurrent use. Acquirers are served one at a time so
// a burst from several tenants cannot interleave inside the window check.
type Limiter struct {
	cfg Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	acquireMu sync.Mutex

	mu         sync.Mutex
	sent       []time.Time // oldest first, at most cfg.History entries
	retryAfter time.Time
}

type Option func(*Limiter)

// WithClock replaces time.Now and the context-aware sleep. Tests use a fake
// clock whose sleep advances now.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		sleep: sleepCtx,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Acquire blocks until one more message may be sent. The only error is the
// context's.
//
// A pending retry-after deadline is honoured first. Waiting it out consumes
// the call without recording a send.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.acquireMu.Lock()
	defer l.acquireMu.Unlock()

	l.mu.Lock()
	now := l.now()
	if !l.retryAfter.IsZero() && l.retryAfter.After(now) {
		wait := l.retryAfter.Sub(now)
		l.mu.Unlock()
		return l.sleep(ctx, wait)
	}
	l.pruneLocked(now)

	var wait time.Duration
	if n := len(l.sent); n >= l.cfg.Burst {
		interval := time.Duration(float64(time.Second) / l.cfg.Rate)
		elapsed := now.Sub(l.sent[n-l.cfg.Burst])
		if d := interval - elapsed; d > 0 {
			wait = d
		}
	}
	l.mu.Unlock()

	if wait > 0 {
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}

	l.mu.Lock()
	l.recordLocked(l.now())
	l.mu.Unlock()
	return nil
}

// UpdateFromResponse learns a retry-after deadline from REST response
// headers. It reports whether a deadline was set.
//
//   - Retry-After: seconds until the next request may be made
//   - X-RateLimit-Remaining: 0 with X-RateLimit-Reset-After: seconds until the bucket resets
func (l *Limiter) UpdateFromResponse(h http.Header) bool {
	if h == nil {
		return false
	}
	if d, ok := parseSeconds(h.Get("Retry-After")); ok {
		l.Block(d)
		return true
	}
	remaining := strings.TrimSpace(h.Get("X-RateLimit-Remaining"))
	if remaining == "" {
		return false
	}
	if n, err := strconv.Atoi(remaining); err != nil || n != 0 {
		return false
	}
	if d, ok := parseSeconds(h.Get("X-RateLimit-Reset-After")); ok {
		l.Block(d)
		return true
	}
	return false
}

// Block sets the retry-after deadline to now+d. A later deadline already in
// place is kept.
func (l *Limiter) Block(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	until := l.now().Add(d)
	if until.After(l.retryAfter) {
		l.retryAfter = until
	}
	l.mu.Unlock()
}

// RetryAfter returns the current deadline (zero if none).
func (l *Limiter) RetryAfter() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.retryAfter
}

// Recent returns how many sends fall inside the window.
func (l *Limiter) Recent() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now())
	return len(l.sent)
}

func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	i := 0
	for i < len(l.sent) && l.sent[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.sent = append(l.sent[:0], l.sent[i:]...)
	}
}

func (l *Limiter) recordLocked(ts time.Time) {
	if len(l.sent) >= l.cfg.History {
		l.sent = append(l.sent[:0], l.sent[len(l.sent)-l.cfg.History+1:]...)
	}
	l.sent = append(l.sent, ts)
}

func parseSeconds(raw string) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return time.Duration(f * float64(time.Second)), true
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
