// Package model holds tailwatch's persisted data types and their JSON
// document formats.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPollInterval applies when a tenant has no interval set.
	DefaultPollInterval = 60
	// MinPollInterval is the smallest interval accepted from operators.
	MinPollInterval = 60
)

// Tenant is one monitored Discord guild.
type Tenant struct {
	ID string `json:"-"`

	APIKey string `json:"api_key"`
	// PollInterval is in seconds.
	PollInterval int `json:"poll_interval"`
	// Devices is the explicit allow-list. Nil means monitor every device.
	Devices []string `json:"devices"`
	// Destination is the notification channel.
	Destination       ChannelID `json:"notification_channel_id,omitempty"`
	MonitoringStopped bool      `json:"monitoring_stopped,omitempty"`
}

// Interval returns the poll interval as a duration, falling back to the default.
func (t Tenant) Interval() time.Duration {
	if t.PollInterval <= 0 {
		return DefaultPollInterval * time.Second
	}
	return time.Duration(t.PollInterval) * time.Second
}

// Configured reports whether setup has stored an API credential.
func (t Tenant) Configured() bool { return strings.TrimSpace(t.APIKey) != "" }

// MonitorsAll reports whether the tenant has no explicit allow-list.
func (t Tenant) MonitorsAll() bool { return len(t.Devices) == 0 }

// Clone returns a deep copy.
func (t Tenant) Clone() Tenant {
	cp := t
	if t.Devices != nil {
		cp.Devices = append([]string(nil), t.Devices...)
	}
	return cp
}

// ChannelID is a Discord snowflake. Older documents store it as a JSON
// number; it is always written back as a number when numeric.
type ChannelID string

func (c ChannelID) String() string { return string(c) }

func (c ChannelID) MarshalJSON() ([]byte, error) {
	s := strings.TrimSpace(string(c))
	if s == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseUint(s, 10, 64); err == nil {
		return []byte(s), nil
	}
	return json.Marshal(s)
}

func (c *ChannelID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = ChannelID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("channel id: %w", err)
	}
	if _, err := strconv.ParseUint(n.String(), 10, 64); err != nil {
		return fmt.Errorf("channel id %q: not a snowflake", n.String())
	}
	*c = ChannelID(n.String())
	return nil
}
