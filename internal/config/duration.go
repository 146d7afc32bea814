package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses raw, with path naming the key in errors. Empty
// is zero; negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// durations collects the first parse error across several fields.
type durations struct{ err error }

func (p *durations) get(path, raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault(path, raw, def)
	if err != nil && p.err == nil {
		p.err = err
	}
	return d
}

// Validate checks every duration field.
func (c *Config) Validate() error {
	var p durations
	p.get("discord.request_timeout", c.Discord.RequestTimeout, 0)
	p.get("inventory.timeout", c.Inventory.Timeout, 0)
	p.get("inventory.retry_backoff", c.Inventory.RetryBackoff, 0)
	p.get("inventory.dns_cache_ttl", c.Inventory.DNSCacheTTL, 0)
	p.get("ratelimit.window", c.RateLimit.Window, 0)
	p.get("monitor.burst_pause", c.Monitor.BurstPause, 0)
	p.get("monitor.alert_suppression", c.Monitor.AlertSuppression, 0)
	p.get("storage.busy_timeout", c.Storage.BusyTimeout, 0)
	p.get("ops.read_timeout", c.Ops.ReadTimeout, 0)
	p.get("ops.write_timeout", c.Ops.WriteTimeout, 0)
	if d := p.get("monitor.default_interval", c.Monitor.DefaultInterval, 0); d > 0 && d < time.Minute {
		return fmt.Errorf("monitor.default_interval: must be at least 60s")
	}
	if p.err != nil {
		return p.err
	}
	if c.Inventory.MaxRetries != nil && *c.Inventory.MaxRetries < 0 {
		return fmt.Errorf("inventory.max_retries: must be >= 0")
	}
	if c.RateLimit.RatePerSec < 0 {
		return fmt.Errorf("ratelimit.rate_per_sec: must be >= 0")
	}
	return nil
}

// Duration returns a validated duration field or def. Call after Validate.
func Duration(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}
