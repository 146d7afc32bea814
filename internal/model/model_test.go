package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestChannelIDAcceptsNumberAndString(t *testing.T) {
	cases := []struct {
		in   string
		want ChannelID
	}{
		{`{"notification_channel_id": 123456789012345678}`, "123456789012345678"},
		{`{"notification_channel_id": "42"}`, "42"},
		{`{"notification_channel_id": null}`, ""},
		{`{}`, ""},
	}
	for _, tc := range cases {
		var tn Tenant
		if err := json.Unmarshal([]byte(tc.in), &tn); err != nil {
			t.Fatalf("%s: %v", tc.in, err)
		}
		if tn.Destination != tc.want {
			t.Fatalf("%s: got %q want %q", tc.in, tn.Destination, tc.want)
		}
	}

	b, err := json.Marshal(Tenant{APIKey: "k", PollInterval: 60, Destination: "987"})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"api_key":"k","poll_interval":60,"devices":null,"notification_channel_id":987}`
	if string(b) != want {
		t.Fatalf("got %s want %s", b, want)
	}
}

func TestTenantInterval(t *testing.T) {
	if got := (Tenant{}).Interval(); got != time.Minute {
		t.Fatalf("default interval=%v", got)
	}
	if got := (Tenant{PollInterval: 300}).Interval(); got != 5*time.Minute {
		t.Fatalf("interval=%v", got)
	}
}

func TestNotificationStateFlatDocument(t *testing.T) {
	in := `{"laptop": true, "nas": false, "last_auth_error": 1700000000, "last_api_error": 1700000100.5}`
	var st NotificationState
	if err := json.Unmarshal([]byte(in), &st); err != nil {
		t.Fatal(err)
	}
	if len(st.Devices) != 2 || !st.Devices["laptop"] || st.Devices["nas"] {
		t.Fatalf("devices=%v", st.Devices)
	}
	if st.LastAuthError != 1700000000 || st.LastAPIError != 1700000100 {
		t.Fatalf("alerts=%d/%d", st.LastAuthError, st.LastAPIError)
	}

	out, err := json.Marshal(st)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"laptop":true,"nas":false,"last_auth_error":1700000000,"last_api_error":1700000100}`
	if string(out) != want {
		t.Fatalf("got %s want %s", out, want)
	}

	if off, known := st.Offline("laptop"); !off || !known {
		t.Fatalf("laptop offline=%v known=%v", off, known)
	}
	if _, known := st.Offline("router"); known {
		t.Fatal("router should be unknown")
	}
}

func TestNotificationStateRejectsBadDeviceValue(t *testing.T) {
	var st NotificationState
	if err := json.Unmarshal([]byte(`{"laptop": "yes"}`), &st); err == nil {
		t.Fatal("expected error")
	}
}
