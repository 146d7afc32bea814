package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "monitor"))
	log.Info("tick done", Int("tenants", 3), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if m["comp"] != "monitor" || m["message"] != "tick done" {
		t.Fatalf("unexpected line: %v", m)
	}
	if m["tenants"].(float64) != 3 {
		t.Fatalf("tenants=%v", m["tenants"])
	}
	if _, ok := m["caller"]; !ok {
		t.Fatalf("caller missing: %v", m)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Error("ignored")
	if Nop().IsZero() {
		t.Fatal("Nop should not be zero")
	}
}

func TestFormatChannelLine(t *testing.T) {
	line := []byte(`{"level":"warn","message":"send failed","tenant":"42","time":"x"}`)
	got := formatChannelLine(line)
	if !strings.HasPrefix(got, "```\n[WARN] send failed") {
		t.Fatalf("got %q", got)
	}
	if !strings.Contains(got, "- tenant=42") || strings.Contains(got, "time=") {
		t.Fatalf("got %q", got)
	}
	if !strings.HasSuffix(got, "\n```") {
		t.Fatalf("got %q", got)
	}

	long := []byte(`{"level":"error","message":"` + strings.Repeat("a", 5000) + `"}`)
	if n := len(formatChannelLine(long)); n > maxChannelMessage {
		t.Fatalf("len=%d", n)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in, LevelInfo); got != want {
			t.Fatalf("parseLevel(%q)=%v want %v", in, got, want)
		}
	}
}
