package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"tailwatch/internal/inventory"
	"tailwatch/internal/model"
	"tailwatch/internal/storage"
	"tailwatch/internal/tenant"
	kit "tailwatch/internal/transport"
	"tailwatch/internal/transport/router"
	logx "tailwatch/pkg/logx"
)

const guild = "g1"

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	texts  []string
	embeds []kit.Embed
}

func (r *recorder) SendText(_ context.Context, _ string, text string) error {
	r.mu.Lock()
	r.texts = append(r.texts, text)
	r.mu.Unlock()
	return nil
}

func (r *recorder) SendEmbed(_ context.Context, _ string, e kit.Embed) error {
	r.mu.Lock()
	r.embeds = append(r.embeds, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.texts) == 0 {
		return ""
	}
	return r.texts[len(r.texts)-1]
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.texts, r.embeds = nil, nil
	r.mu.Unlock()
}

type fakeFetcher struct {
	mu      sync.Mutex
	devices []inventory.Device
	err     error
	calls   int
}

func (f *fakeFetcher) FetchDevices(context.Context, string) (*inventory.DeviceList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &inventory.DeviceList{Devices: append([]inventory.Device(nil), f.devices...)}, nil
}

type fakeLoop struct {
	running  bool
	interval time.Duration
	starts   int
}

func (l *fakeLoop) Start() bool {
	if l.running {
		return false
	}
	l.running = true
	l.starts++
	return true
}

func (l *fakeLoop) Stop() bool {
	was := l.running
	l.running = false
	return was
}

func (l *fakeLoop) SetInterval(d time.Duration) bool {
	l.interval = d
	return l.running
}

func (l *fakeLoop) Running() bool           { return l.running }
func (l *fakeLoop) Interval() time.Duration { return l.interval }

type harness struct {
	reg     *tenant.Registry
	fetcher *fakeFetcher
	loop    *fakeLoop
	rec     *recorder
	rt      *router.Router
	reloads int
}

func newHarness(t *testing.T, mutate func(d *CommandDeps)) *harness {
	t.Helper()
	st, err := storage.Open(storage.Config{Dir: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	reg := tenant.NewRegistry(st, logx.Nop())
	if err := reg.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	h := &harness{
		reg:     reg,
		fetcher: &fakeFetcher{},
		loop:    &fakeLoop{interval: time.Minute},
		rec:     &recorder{},
		rt:      router.New(router.Config{}, logx.Nop()),
	}
	d := CommandDeps{
		Registry: reg,
		Fetcher:  h.fetcher,
		Loop:     h.loop,
		Reload: func(context.Context) error {
			h.reloads++
			return nil
		},
		Now:     func() time.Time { return testNow },
		Started: testNow.Add(-90 * time.Minute),
	}
	if mutate != nil {
		mutate(&d)
	}
	NewCommands(d, logx.Nop()).Register(h.rt)
	return h
}

func (h *harness) send(text string) {
	h.sendAs(text, false)
}

func (h *harness) sendAs(text string, admin bool) {
	h.rt.Dispatch(context.Background(), router.Message{
		GuildID:   guild,
		ChannelID: "c1",
		AuthorID:  "u1",
		IsAdmin:   admin,
		Text:      text,
	}, h.rec)
}

func (h *harness) seed(t *testing.T, devices []string) {
	t.Helper()
	if _, err := h.reg.Update(context.Background(), guild, func(tn *model.Tenant) error {
		tn.APIKey = "tskey-abcdefghij1234"
		tn.PollInterval = 120
		tn.Devices = devices
		tn.Destination = "c1"
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) tenant(t *testing.T) model.Tenant {
	t.Helper()
	tn, ok := h.reg.Get(guild)
	if !ok {
		t.Fatal("tenant missing")
	}
	return tn
}

func seen(ago time.Duration) string {
	return testNow.Add(-ago).Format("2006-01-02T15:04:05Z")
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t, nil)
	h.send("!nope")
	if got := h.rec.last(); got != `❌ Error: Command "nope" is not found` {
		t.Fatalf("got %q", got)
	}
}

func TestSetupMissingKeyRepliesWithHelp(t *testing.T) {
	h := newHarness(t, nil)
	h.send("!setup")
	if len(h.rec.texts) != 2 {
		t.Fatalf("texts=%q", h.rec.texts)
	}
	if h.rec.texts[0] != "❌ Missing required argument: api_key" || h.rec.texts[1] != setupHelp {
		t.Fatalf("texts=%q", h.rec.texts)
	}
}

func TestSetupConfiguresTenantAndStartsLoop(t *testing.T) {
	h := newHarness(t, nil)
	h.send("!setup tskey-abcdefghij1234 120 laptop, nas")

	tn := h.tenant(t)
	if tn.APIKey != "tskey-abcdefghij1234" || tn.PollInterval != 120 || tn.Destination != "c1" {
		t.Fatalf("tenant=%+v", tn)
	}
	if len(tn.Devices) != 2 || tn.Devices[0] != "laptop" || tn.Devices[1] != "nas" {
		t.Fatalf("devices=%q", tn.Devices)
	}
	if !h.loop.running || h.loop.interval != 2*time.Minute {
		t.Fatalf("loop running=%v interval=%v", h.loop.running, h.loop.interval)
	}
	if h.fetcher.calls != 1 {
		t.Fatalf("validation fetches=%d", h.fetcher.calls)
	}
	if got := h.rec.last(); got != msgLoopStarted {
		t.Fatalf("last=%q", got)
	}

	// A second setup keeps the loop and says so.
	h.rec.reset()
	h.send("!setup tskey-abcdefghij1234")
	if !strings.Contains(h.rec.last(), "already running") {
		t.Fatalf("last=%q", h.rec.last())
	}
	if got := h.tenant(t); !got.MonitorsAll() || got.PollInterval != model.DefaultPollInterval {
		t.Fatalf("tenant=%+v", got)
	}
}

func TestSetupRejects(t *testing.T) {
	cases := []struct {
		name     string
		text     string
		fetchErr error
		want     string
		fetches  int
	}{
		{"short interval", "!setup key 30", nil, msgMinInterval, 0},
		{"bad key", "!setup key", &inventory.AuthError{Status: 401}, msgInvalidKey, 1},
		{"non-numeric interval", "!setup key soon", nil, `❌ Error executing command: poll_interval must be a whole number of seconds, got "soon"`, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.fetcher.err = tc.fetchErr
			h.send(tc.text)
			if got := h.rec.last(); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
			if h.fetcher.calls != tc.fetches {
				t.Fatalf("fetches=%d", h.fetcher.calls)
			}
			if _, ok := h.reg.Get(guild); ok {
				t.Fatal("tenant must not be stored")
			}
			if h.loop.running {
				t.Fatal("loop must not start")
			}
		})
	}
}

func TestCommandsRequireSetup(t *testing.T) {
	for _, text := range []string{"!start", "!devices", "!config", "!channel", "!interval 120", "!ping laptop", "!add laptop", "!remove laptop"} {
		t.Run(text, func(t *testing.T) {
			h := newHarness(t, nil)
			h.send(text)
			if got := h.rec.last(); got != msgNotSetUp {
				t.Fatalf("got %q", got)
			}
		})
	}
}

func TestMissingArguments(t *testing.T) {
	cases := map[string]string{
		"!interval": "seconds",
		"!add":      "devices",
		"!remove":   "devices",
		"!ping":     "device_name",
	}
	for text, arg := range cases {
		h := newHarness(t, nil)
		h.send(text)
		if got := h.rec.last(); got != "❌ Missing required argument: "+arg {
			t.Fatalf("%s: got %q", text, got)
		}
	}
}

func TestStopAndStart(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, nil)
	h.loop.running = true

	h.send("!stop")
	if !h.tenant(t).MonitoringStopped || h.loop.running {
		t.Fatalf("stopped=%v running=%v", h.tenant(t).MonitoringStopped, h.loop.running)
	}
	if got := h.rec.last(); got != "⏹️ Device monitoring has been stopped." {
		t.Fatalf("got %q", got)
	}

	h.send("!stop")
	if got := h.rec.last(); got != "ℹ️ Monitoring is not currently running." {
		t.Fatalf("got %q", got)
	}

	h.send("!start")
	if h.tenant(t).MonitoringStopped || !h.loop.running {
		t.Fatal("start did not resume")
	}
	if h.loop.interval != 2*time.Minute {
		t.Fatalf("interval=%v", h.loop.interval)
	}
	if got := h.rec.last(); got != msgLoopStarted {
		t.Fatalf("got %q", got)
	}
}

func TestStopWithoutTenantStillStopsLoop(t *testing.T) {
	h := newHarness(t, nil)
	h.loop.running = true
	h.send("!stop")
	if h.loop.running {
		t.Fatal("loop still running")
	}
	if _, ok := h.reg.Get(guild); ok {
		t.Fatal("stop must not create a tenant")
	}
}

func TestIntervalUpdates(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, nil)
	h.loop.running = true

	h.send("!interval 300")
	if h.tenant(t).PollInterval != 300 || h.loop.interval != 5*time.Minute {
		t.Fatalf("tenant=%d loop=%v", h.tenant(t).PollInterval, h.loop.interval)
	}
	if !strings.Contains(h.rec.last(), "Monitoring restarted") {
		t.Fatalf("got %q", h.rec.last())
	}

	h.send("!interval 59")
	if got := h.rec.last(); got != msgMinInterval {
		t.Fatalf("got %q", got)
	}
	if h.tenant(t).PollInterval != 300 {
		t.Fatal("rejected interval was stored")
	}

	h.loop.running = false
	h.send("!interval 90")
	if !strings.Contains(h.rec.last(), "not currently running") {
		t.Fatalf("got %q", h.rec.last())
	}
}

func TestChannelUpdatesDestination(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, nil)
	h.rt.Dispatch(context.Background(), router.Message{GuildID: guild, ChannelID: "c9", Text: "!channel"}, h.rec)
	if got := h.tenant(t).Destination; got != "c9" {
		t.Fatalf("destination=%q", got)
	}
}

func TestAddRemoveFlow(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, nil)
	h.fetcher.devices = []inventory.Device{
		{Name: "laptop", LastSeen: seen(time.Minute)},
		{Name: "nas", LastSeen: seen(time.Minute)},
		{Name: "phone", LastSeen: seen(time.Minute)},
	}

	h.send("!add tv")
	if !strings.HasPrefix(h.rec.last(), "❌ Currently monitoring all devices") {
		t.Fatalf("got %q", h.rec.last())
	}

	h.send("!remove laptop, nas,phone")
	if !h.tenant(t).MonitorsAll() {
		t.Fatalf("devices=%q", h.tenant(t).Devices)
	}
	if got := h.rec.last(); got != "❌ That would remove every device. Still monitoring all devices." {
		t.Fatalf("got %q", got)
	}

	h.send("!remove nas")
	if got := h.tenant(t).Devices; len(got) != 2 || got[0] != "laptop" || got[1] != "phone" {
		t.Fatalf("devices=%q", got)
	}
	if got := h.rec.last(); got != "Now monitoring 2 device(s): laptop, phone" {
		t.Fatalf("got %q", got)
	}

	h.send("!add tv, laptop")
	if got := h.tenant(t).Devices; len(got) != 3 || got[2] != "tv" {
		t.Fatalf("devices=%q", got)
	}

	h.send("!remove ghost")
	if got := h.rec.last(); got != "❌ None of the specified devices were in your monitoring list." {
		t.Fatalf("got %q", got)
	}

	h.send("!remove laptop")
	if got := h.rec.last(); got != "✅ Removed 1 device(s) from monitoring. Still monitoring: phone, tv" {
		t.Fatalf("got %q", got)
	}

	h.send("!remove phone,tv")
	if !h.tenant(t).MonitorsAll() {
		t.Fatalf("devices=%q", h.tenant(t).Devices)
	}
	if got := h.rec.last(); got != "✅ All devices removed from selective monitoring. Now monitoring all devices." {
		t.Fatalf("got %q", got)
	}
}

func TestConfigMasksKey(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, []string{"laptop", "nas"})
	h.send("!config")
	if len(h.rec.embeds) != 1 {
		t.Fatalf("embeds=%d", len(h.rec.embeds))
	}
	f := h.rec.embeds[0].Fields
	if f[0].Value != "`tskey***********1234`" {
		t.Fatalf("key=%q", f[0].Value)
	}
	if f[1].Value != "120 seconds" || f[2].Value != "Stopped" || f[3].Value != "laptop, nas" {
		t.Fatalf("fields=%+v", f)
	}
}

func TestMaskKey(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", ""},
		{"short", "*****"},
		{"123456789", "*********"},
		{"abcde12345wxyz", "abcde*****wxyz"},
	}
	for _, tc := range cases {
		if got := MaskKey(tc.in); got != tc.want {
			t.Fatalf("MaskKey(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestDevicesEmbed(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, nil)
	h.fetcher.devices = []inventory.Device{
		{Name: "laptop", LastSeen: seen(2 * time.Minute)},
		{Name: "nas", LastSeen: seen(10 * time.Minute)},
		{Name: "router", LastSeen: "junk"},
	}
	h.send("!devices")
	if len(h.rec.embeds) != 1 {
		t.Fatalf("embeds=%d", len(h.rec.embeds))
	}
	f := h.rec.embeds[0].Fields
	want := []string{"laptop - 🔵 Online", "nas - 🔴 Offline", "router - ❓ Unknown"}
	if len(f) != len(want) {
		t.Fatalf("fields=%+v", f)
	}
	for i := range want {
		if f[i].Name != want[i] {
			t.Fatalf("field %d = %q want %q", i, f[i].Name, want[i])
		}
	}
	if f[1].Value != "Last seen: "+testNow.Add(-10*time.Minute).Format("2006-01-02 15:04:05")+" UTC (10 mins ago)" {
		t.Fatalf("value=%q", f[1].Value)
	}
}

func TestDevicesEmptyAndPaged(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, nil)
	h.send("!devices")
	if got := h.rec.embeds[0].Description; got != "No devices found in your Tailscale account." {
		t.Fatalf("got %q", got)
	}

	h.rec.reset()
	for i := 0; i < 30; i++ {
		h.fetcher.devices = append(h.fetcher.devices, inventory.Device{Name: fmt.Sprintf("node-%02d", i), LastSeen: seen(time.Minute)})
	}
	h.send("!devices")
	if len(h.rec.embeds) != 2 || len(h.rec.embeds[0].Fields) != 25 || len(h.rec.embeds[1].Fields) != 5 {
		t.Fatalf("pages=%d", len(h.rec.embeds))
	}
}

func TestDevicesFetchFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, nil)
	h.fetcher.err = inventory.ErrUnavailable
	h.send("!devices")
	if got := h.rec.last(); got != msgFetchFailed {
		t.Fatalf("got %q", got)
	}
}

func TestPing(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, nil)
	h.fetcher.devices = []inventory.Device{
		{Name: "nas", LastSeen: seen(30 * time.Minute), OS: "linux", MachineHostname: "nas.local"},
	}

	h.send("!ping nas")
	if h.rec.texts[0] != "Checking status of device: `nas`..." {
		t.Fatalf("texts=%q", h.rec.texts)
	}
	if len(h.rec.embeds) != 1 {
		t.Fatalf("embeds=%d", len(h.rec.embeds))
	}
	e := h.rec.embeds[0]
	if e.Description != "🔴 Device is offline" || e.Color != kit.ColorRed || len(e.Fields) != 4 {
		t.Fatalf("embed=%+v", e)
	}

	h.send("!ping ghost")
	if got := h.rec.last(); got != "❌ Device 'ghost' not found in your Tailscale network." {
		t.Fatalf("got %q", got)
	}
}

func TestStatus(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	var entries []inventory.CacheEntry
	for i := 0; i < 60; i++ {
		entries = append(entries, inventory.CacheEntry{
			Host:  fmt.Sprintf("host-%02d.example.com", i),
			Addrs: []string{"203.0.113.10", "203.0.113.11", "2001:db8::10"},
		})
	}
	h := newHarness(t, func(d *CommandDeps) {
		d.GatewayURL = gw.URL
		d.HTTP = gw.Client()
		d.DNS = func() []inventory.CacheEntry { return entries }
	})
	h.seed(t, nil)
	h.loop.running = true
	h.fetcher.devices = []inventory.Device{
		{Name: "laptop", LastSeen: seen(time.Minute)},
		{Name: "nas", LastSeen: seen(time.Hour)},
	}

	h.send("!status")
	if h.rec.texts[0] != "Checking system and device status... This may take a moment." {
		t.Fatalf("first=%q", h.rec.texts[0])
	}
	chunks := h.rec.texts[1:]
	if len(chunks) < 2 {
		t.Fatalf("expected chunked status, got %d", len(chunks))
	}
	var joined strings.Builder
	for _, c := range chunks {
		if !strings.HasPrefix(c, "```") || !strings.HasSuffix(c, "```") {
			t.Fatalf("chunk not fenced: %q", c)
		}
		if n := len([]rune(c)) - 6; n > statusChunkLimit {
			t.Fatalf("chunk too long: %d", n)
		}
		joined.WriteString(strings.Trim(c, "`"))
	}
	body := joined.String()
	for _, want := range []string{"host-00.example.com", "✅ Discord API: Connected", "Monitoring: Running"} {
		if !strings.Contains(body, want) {
			t.Fatalf("status missing %q", want)
		}
	}

	if len(h.rec.embeds) != 1 {
		t.Fatalf("embeds=%d", len(h.rec.embeds))
	}
	if got := h.rec.embeds[0].Fields[0].Value; got != "🔵 Online: 1 | 🔴 Offline: 1 | ❓ Unknown: 0" {
		t.Fatalf("summary=%q", got)
	}
}

func TestStatusGatewayError(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer gw.Close()
	h := newHarness(t, func(d *CommandDeps) {
		d.GatewayURL = gw.URL
		d.HTTP = gw.Client()
	})
	h.send("!status")
	if !strings.Contains(h.rec.texts[1], "Discord API: Error (Status 502)") {
		t.Fatalf("status=%q", h.rec.texts[1])
	}
	if !strings.Contains(h.rec.last(), "not set up") {
		t.Fatalf("last=%q", h.rec.last())
	}
}

func TestReloadConfigRequiresAdmin(t *testing.T) {
	h := newHarness(t, nil)
	h.send("!reload_config")
	if !strings.Contains(h.rec.last(), "Administrator") || h.reloads != 0 {
		t.Fatalf("got %q reloads=%d", h.rec.last(), h.reloads)
	}
	h.sendAs("!reload_config", true)
	if h.rec.last() != "✅ Configuration reloaded from disk." || h.reloads != 1 {
		t.Fatalf("got %q reloads=%d", h.rec.last(), h.reloads)
	}
}

func TestReloadConfigFailure(t *testing.T) {
	h := newHarness(t, func(d *CommandDeps) {
		d.Reload = func(context.Context) error { return errors.New("corrupt") }
	})
	h.sendAs("!reload_config", true)
	if !strings.HasPrefix(h.rec.last(), "❌ Failed to reload") {
		t.Fatalf("got %q", h.rec.last())
	}
}

func TestHelpEmbed(t *testing.T) {
	h := newHarness(t, nil)
	h.send("!help")
	if len(h.rec.embeds) != 1 || len(h.rec.embeds[0].Fields) != 4 {
		t.Fatalf("embeds=%+v", h.rec.embeds)
	}
}

func TestSplitDevices(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{" , ,", nil},
		{"a", []string{"a"}},
		{"a, b ,c", []string{"a", "b", "c"}},
	}
	for _, tc := range cases {
		got := splitDevices(tc.in)
		if len(got) != len(tc.want) {
			t.Fatalf("%q: got %q", tc.in, got)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%q: got %q", tc.in, got)
			}
		}
	}
}

func TestChunkString(t *testing.T) {
	if got := chunkString("", 3); len(got) != 0 {
		t.Fatalf("got %q", got)
	}
	got := chunkString("abcdefg", 3)
	if len(got) != 3 || got[0] != "abc" || got[2] != "g" {
		t.Fatalf("got %q", got)
	}
	// Runes, not bytes.
	if got := chunkString("ééé", 2); len(got) != 2 || got[0] != "éé" {
		t.Fatalf("got %q", got)
	}
}
