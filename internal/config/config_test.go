package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newManager(t *testing.T, name, body string, env map[string]string) *ConfigManager {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if body != "" {
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	m := NewConfigManager(path)
	m.getenv = func(k string) string { return env[k] }
	return m
}

func TestParseFormats(t *testing.T) {
	cases := []struct {
		name string
		file string
		body string
	}{
		{"json", "c.json", `{"discord":{"token":"abc"},"monitor":{"max_batch":4},"storage":{"driver":"bolt","path":"x.db"}}`},
		{"yaml", "c.yaml", "discord:\n  token: abc\nmonitor:\n  max_batch: 4\nstorage:\n  driver: bolt\n  path: x.db\n"},
		{"toml", "c.toml", "[discord]\ntoken = \"abc\"\n[monitor]\nmax_batch = 4\n[storage]\ndriver = \"bolt\"\npath = \"x.db\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := newManager(t, tc.file, tc.body, nil).Parse()
			if err != nil {
				t.Fatal(err)
			}
			if cfg.Discord.Token != "abc" || cfg.Monitor.MaxBatch != 4 || cfg.Storage.Driver != "bolt" {
				t.Fatalf("cfg=%+v", cfg)
			}
			// Defaults survive for omitted keys.
			if cfg.Discord.CommandPrefix != "!" || cfg.Logging.Level != "info" {
				t.Fatalf("defaults lost: %+v", cfg)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"unknown field", `{"discord":{"tokn":"x"}}`},
		{"trailing data", `{"discord":{}}{"x":1}`},
		{"bad duration", `{"inventory":{"timeout":"soon"}}`},
		{"negative duration", `{"monitor":{"burst_pause":"-1s"}}`},
		{"interval below minimum", `{"monitor":{"default_interval":"30s"}}`},
		{"negative retries", `{"inventory":{"max_retries":-1}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := newManager(t, "c.json", tc.body, nil).Parse(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestMissingFileUsesDefaultsAndEnv(t *testing.T) {
	m := newManager(t, "absent.json", "", map[string]string{
		EnvToken:     "envtok",
		EnvConfigDir: "/data",
		EnvLogLevel:  "debug",
	})
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Discord.Token != "envtok" || cfg.Storage.Dir != "/data" || cfg.Logging.Level != "debug" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if m.Get() != cfg {
		t.Fatal("Load did not commit")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	m := newManager(t, "c.json", `{"discord":{"token":"file"}}`, map[string]string{EnvToken: "env"})
	cfg, err := m.Parse()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Discord.Token != "env" {
		t.Fatalf("token=%q", cfg.Discord.Token)
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	m := newManager(t, "c.json", `{"logging":{"level":"info"}}`, nil)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	if changed, err := m.Reload(); err != nil || changed {
		t.Fatalf("unchanged reload: changed=%v err=%v", changed, err)
	}
	if err := os.WriteFile(m.Path(), []byte(`{"logging":{"level":"debug"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if changed, err := m.Reload(); err != nil || !changed {
		t.Fatalf("changed=%v err=%v", changed, err)
	}
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("level=%q", cfg.Logging.Level)
		}
	default:
		t.Fatal("no config published")
	}
}

func TestWatchPublishesEdits(t *testing.T) {
	m := newManager(t, "c.json", `{"monitor":{"max_batch":1}}`, nil)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher a moment to register before editing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(m.Path(), []byte(`{"monitor":{"max_batch":7}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-ch:
		if cfg.Monitor.MaxBatch != 7 {
			t.Fatalf("max_batch=%d", cfg.Monitor.MaxBatch)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not publish")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	a := Default()
	b := Default()
	b.Discord.Token = "secret"
	b.Logging.Level = "debug"
	b.Monitor.MaxBatch = 3

	sections, attrs := SummarizeConfigChange(a, b)
	want := []string{"discord", "logging", "monitor"}
	if len(sections) != len(want) {
		t.Fatalf("sections=%v", sections)
	}
	for i := range want {
		if sections[i] != want[i] {
			t.Fatalf("sections=%v", sections)
		}
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if got := RestartRequired(sections); len(got) != 2 {
		t.Fatalf("restart=%v", got)
	}
	if s, _ := SummarizeConfigChange(a, Default()); len(s) != 0 {
		t.Fatalf("no-op diff=%v", s)
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("", 5*time.Second); got != 5*time.Second {
		t.Fatalf("got %v", got)
	}
	if got := Duration("2m", time.Second); got != 2*time.Minute {
		t.Fatalf("got %v", got)
	}
	if got := Duration("junk", time.Second); got != time.Second {
		t.Fatalf("got %v", got)
	}
}
