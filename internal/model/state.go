package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

const (
	keyLastAuthError = "last_auth_error"
	keyLastAPIError  = "last_api_error"
)

// NotificationState is the per-tenant record of what has been announced.
//
// A device key is present only after a notification was delivered for it;
// the value is true when the last delivered notification was "offline".
// LastAuthError and LastAPIError are epoch seconds of the last delivered
// operator alert (0 = never).
type NotificationState struct {
	Devices       map[string]bool
	LastAuthError int64
	LastAPIError  int64
}

func NewNotificationState() *NotificationState {
	return &NotificationState{Devices: map[string]bool{}}
}

// Offline reports the last announced status for a device. known is false if
// nothing was ever sent for it.
func (s *NotificationState) Offline(device string) (offline, known bool) {
	if s == nil || s.Devices == nil {
		return false, false
	}
	offline, known = s.Devices[device]
	return offline, known
}

func (s *NotificationState) Clone() *NotificationState {
	if s == nil {
		return NewNotificationState()
	}
	cp := &NotificationState{
		Devices:       make(map[string]bool, len(s.Devices)),
		LastAuthError: s.LastAuthError,
		LastAPIError:  s.LastAPIError,
	}
	for k, v := range s.Devices {
		cp.Devices[k] = v
	}
	return cp
}

// MarshalJSON writes the flat document form:
//
//	{"laptop": true, "nas": false, "last_auth_error": 1700000000}
func (s NotificationState) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, len(s.Devices))
	for k := range s.Devices {
		names = append(names, k)
	}
	sort.Strings(names)

	var b bytes.Buffer
	b.WriteByte('{')
	first := true
	writeKey := func(k string) error {
		if !first {
			b.WriteByte(',')
		}
		first = false
		kb, err := json.Marshal(k)
		if err != nil {
			return err
		}
		b.Write(kb)
		b.WriteByte(':')
		return nil
	}
	for _, name := range names {
		if err := writeKey(name); err != nil {
			return nil, err
		}
		if s.Devices[name] {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	}
	if s.LastAuthError != 0 {
		if err := writeKey(keyLastAuthError); err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "%d", s.LastAuthError)
	}
	if s.LastAPIError != 0 {
		if err := writeKey(keyLastAPIError); err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "%d", s.LastAPIError)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

func (s *NotificationState) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := NotificationState{Devices: make(map[string]bool, len(raw))}
	for k, v := range raw {
		switch k {
		case keyLastAuthError, keyLastAPIError:
			ts, err := decodeEpoch(v)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			if k == keyLastAuthError {
				out.LastAuthError = ts
			} else {
				out.LastAPIError = ts
			}
		default:
			var offline bool
			if err := json.Unmarshal(v, &offline); err != nil {
				return fmt.Errorf("device %q: %w", k, err)
			}
			out.Devices[k] = offline
		}
	}
	*s = out
	return nil
}

// decodeEpoch accepts integer or fractional seconds.
func decodeEpoch(v json.RawMessage) (int64, error) {
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return 0, err
	}
	return int64(f), nil
}
