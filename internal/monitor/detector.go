// Package monitor turns device inventories into transition notifications and
// delivers them per tenant.
package monitor

import (
	"errors"
	"fmt"
	"time"

	"tailwatch/internal/inventory"
	"tailwatch/internal/model"
	logx "tailwatch/pkg/logx"
)

const (
	OfflineThreshold = 6 * time.Minute

	// LastSeenLayout is the inventory API timestamp format (UTC, second precision).
	LastSeenLayout = "2006-01-02T15:04:05Z"

	displayLayout = "2006-01-02 15:04:05"
)

var ErrParseLastSeen = errors.New("unparseable lastSeen")

type Status int

const (
	StatusUnknown Status = iota
	StatusOnline
	StatusOffline
)

func (s Status) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Event is one online/offline transition ready to send.
type Event struct {
	Device  string
	Message string
	Offline bool
}

// Observation is a classified device, used by Detect and the chat commands.
type Observation struct {
	Device   inventory.Device
	Status   Status
	LastSeen time.Time
	Since    time.Duration
}

// Minutes is whole minutes since last seen, floored.
func (o Observation) Minutes() int {
	return int(o.Since / time.Minute)
}

func (o Observation) LastSeenText() string {
	return o.LastSeen.UTC().Format(displayLayout)
}

// ParseLastSeen parses an inventory timestamp.
func ParseLastSeen(raw string) (time.Time, error) {
	ts, err := time.Parse(LastSeenLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %v", ErrParseLastSeen, raw, err)
	}
	return ts.UTC(), nil
}

// Classify reports whether d is online at now. A device is offline only when
// it has been unseen for strictly more than OfflineThreshold.
func Classify(d inventory.Device, now time.Time) (Observation, error) {
	obs := Observation{Device: d}
	ts, err := ParseLastSeen(d.LastSeen)
	if err != nil {
		return obs, err
	}
	obs.LastSeen = ts
	obs.Since = now.Sub(ts)
	if obs.Since > OfflineThreshold {
		obs.Status = StatusOffline
	} else {
		obs.Status = StatusOnline
	}
	return obs, nil
}

// Allowed reports whether name passes allow. An empty allow-list admits every
// device.
func Allowed(allow []string, name string) bool {
	if len(allow) == 0 {
		return true
	}
	for _, a := range allow {
		if a == name {
			return true
		}
	}
	return false
}

// Detect returns the transitions implied by devices against state, in device
// order. It never mutates state. Devices with a malformed lastSeen are logged
// and skipped.
func Detect(devices []inventory.Device, allow []string, state *model.NotificationState, now time.Time, log logx.Logger) []Event {
	var out []Event
	for _, d := range devices {
		if !Allowed(allow, d.Name) {
			continue
		}
		obs, err := Classify(d, now)
		if err != nil {
			if !log.IsZero() {
				log.Error("skip device", logx.String("device", d.Name), logx.Err(err))
			}
			continue
		}

		offline := obs.Status == StatusOffline
		notified := false
		if state != nil {
			notified, _ = state.Offline(d.Name)
		}

		switch {
		case offline && !notified:
			out = append(out, Event{Device: d.Name, Message: OfflineMessage(obs), Offline: true})
		case !offline && notified:
			out = append(out, Event{Device: d.Name, Message: OnlineMessage(obs), Offline: false})
		}
	}
	return out
}

// Prioritize caps events at limit, keeping every offline event and filling the
// rest with online events in arrival order.
func Prioritize(events []Event, limit int) []Event {
	if limit <= 0 || len(events) <= limit {
		return events
	}
	var offline, online []Event
	for _, e := range events {
		if e.Offline {
			offline = append(offline, e)
		} else {
			online = append(online, e)
		}
	}
	room := limit - len(offline)
	if room < 0 {
		room = 0
	}
	if room < len(online) {
		online = online[:room]
	}
	return append(offline, online...)
}
