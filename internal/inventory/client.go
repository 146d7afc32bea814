// Package inventory fetches the device list of a Tailscale tailnet.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "tailwatch/pkg/logx"
)

const (
	DefaultEndpoint     = "https://api.tailscale.com/api/v2/tailnet/-/devices"
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRetries   = 2
	DefaultRetryBackoff = time.Second

	bodyExcerpt = 200
	maxBody     = 8 << 20
)

// ErrUnavailable means every attempt failed with a transient error. The last
// cause is wrapped.
var ErrUnavailable = errors.New("inventory unavailable")

// AuthError is returned for 401/403 responses. It is never retried.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("inventory auth rejected (HTTP %d)", e.Status)
}

// Device is one node as reported by the inventory API.
type Device struct {
	ID              string   `json:"id,omitempty"`
	Name            string   `json:"name"`
	Hostname        string   `json:"hostname,omitempty"`
	MachineHostname string   `json:"machineHostname,omitempty"`
	OS              string   `json:"os,omitempty"`
	LastSeen        string   `json:"lastSeen"`
	Addresses       []string `json:"addresses,omitempty"`
	ClientVersion   string   `json:"clientVersion,omitempty"`
}

// DeviceList preserves the order returned by the API.
type DeviceList struct {
	Devices []Device `json:"devices"`
}

// Names returns device names in list order.
func (l *DeviceList) Names() []string {
	if l == nil {
		return nil
	}
	out := make([]string, 0, len(l.Devices))
	for _, d := range l.Devices {
		out = append(out, d.Name)
	}
	return out
}

// Fetcher is what the monitor and chat commands depend on.
type Fetcher interface {
	FetchDevices(ctx context.Context, apiKey string) (*DeviceList, error)
}

type Config struct {
	Endpoint     string
	Timeout      time.Duration // per attempt
	// MaxRetries is the number of extra attempts after the first; nil means
	// DefaultMaxRetries.
	MaxRetries   *int
	RetryBackoff time.Duration
}

// Retries returns a MaxRetries value.
func Retries(n int) *int { return &n }

type Client struct {
	cfg   Config
	http  *http.Client
	log   logx.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

// WithHTTPClient overrides the transport, e.g. one dialing through a
// CachingResolver.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

func NewClient(cfg Config, log logx.Logger, opts ...Option) *Client {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	retries := DefaultMaxRetries
	if cfg.MaxRetries != nil {
		retries = max(0, *cfg.MaxRetries)
	}
	cfg.MaxRetries = &retries
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{
		cfg:   cfg,
		http:  &http.Client{},
		log:   log,
		sleep: sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchDevices returns the tailnet's devices.
//
// 401/403 yield *AuthError at once. Any other non-200 status, timeout or
// connection error is retried up to MaxRetries times with a fixed backoff,
// after which ErrUnavailable is returned.
func (c *Client) FetchDevices(ctx context.Context, apiKey string) (*DeviceList, error) {
	var lastErr error
	attempts := *c.cfg.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		list, err := c.fetchOnce(ctx, apiKey)
		if err == nil {
			return list, nil
		}
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		c.log.Warn("inventory fetch failed",
			logx.Int("attempt", attempt),
			logx.Int("attempts", attempts),
			logx.Err(err),
		)
		if attempt < attempts {
			if err := c.sleep(ctx, c.cfg.RetryBackoff); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, apiKey string) (*DeviceList, error) {
	actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, c.cfg.Endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(apiKey, "")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.log.Error("inventory auth rejected",
			logx.Int("status", resp.StatusCode),
			logx.String("body", excerpt(body)),
		)
		return nil, &AuthError{Status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, excerpt(body))
	}

	var list DeviceList
	if err := decodeJSON(body, &list); err != nil {
		return nil, fmt.Errorf("decode devices: %w", err)
	}
	return &list, nil
}

func excerpt(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > bodyExcerpt {
		return s[:bodyExcerpt]
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
