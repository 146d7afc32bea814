package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hako/durafmt"

	"tailwatch/internal/inventory"
	"tailwatch/internal/model"
	"tailwatch/internal/monitor"
	"tailwatch/internal/tenant"
	kit "tailwatch/internal/transport"
	"tailwatch/internal/transport/router"
	logx "tailwatch/pkg/logx"
)

const (
	msgNotSetUp         = "❌ This server is not set up yet. Use `!setup` first."
	msgFetchFailed      = "❌ Error fetching device data. Please check your API key."
	msgInvalidKey       = "❌ Invalid API key or connection error. Please check your Tailscale API key and try again."
	msgMinInterval      = "❌ Polling interval must be at least 60 seconds to avoid rate limiting."
	msgLoopStarted      = "🔄 Device monitoring has started!"
	msgRemoveEverything = "❌ That would remove every device. Still monitoring all devices."
	msgRestarted        = "🟢 **Tailscale Monitor Bot has (re)started**\nDevice monitoring is active. Type `!help` to see available commands."
	presenceText        = "Tailscale devices | !help"
	discordGateway      = "https://discord.com/api/v10/gateway"
	maxEmbedFields      = 25
	maxFieldValue       = 1024
	statusChunkLimit    = 1900
)

const setupHelp = "**Tailscale Monitor Bot - Setup Instructions**\n\n" +
	"To set up the bot, you need a Tailscale API key.\n\n" +
	"**How to get an API key:**\n" +
	"1. Go to https://login.tailscale.com/admin/settings/keys\n" +
	"2. Look under 'API access tokens'\n" +
	"3. Create a new API key with appropriate permissions\n\n" +
	"**Command usage:**\n" +
	"`!setup <api_key> [poll_interval_in_seconds] [device1,device2,...]`\n\n" +
	"- `poll_interval` defaults to 60 seconds if not specified\n" +
	"- If no devices are specified, all devices will be monitored"

// Loop is the poll loop as the commands see it. Start binds the loop to
// the app lifetime, not to the command's context.
type Loop interface {
	Start() bool
	Stop() bool
	SetInterval(d time.Duration) bool
	Running() bool
	Interval() time.Duration
}

// CommandDeps are the collaborators of the chat commands.
type CommandDeps struct {
	Registry *tenant.Registry
	Fetcher  inventory.Fetcher
	Loop     Loop
	// DNS lists resolver cache entries for !status.
	DNS func() []inventory.CacheEntry
	// HTTP is used for the gateway reachability check.
	HTTP       *http.Client
	GatewayURL string
	// Reload re-reads the tenant document from disk.
	Reload  func(ctx context.Context) error
	Now     func() time.Time
	Started time.Time
}

type Commands struct {
	d   CommandDeps
	log logx.Logger
}

func NewCommands(d CommandDeps, log logx.Logger) *Commands {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Started.IsZero() {
		d.Started = d.Now()
	}
	if d.HTTP == nil {
		d.HTTP = &http.Client{Timeout: 10 * time.Second}
	}
	if d.GatewayURL == "" {
		d.GatewayURL = discordGateway
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Commands{d: d, log: log}
}

// Register adds every command to rt.
func (c *Commands) Register(rt *router.Router) {
	rt.Register(
		router.Command{Name: "setup", Usage: "<api_key> [poll_interval] [device1,device2,...]", Description: "Configure monitoring for this server", MissingHelp: setupHelp, Handle: c.setup},
		router.Command{Name: "start", Description: "Start the monitoring loop", Handle: c.start},
		router.Command{Name: "stop", Description: "Stop the monitoring loop", Handle: c.stop},
		router.Command{Name: "interval", Usage: "<seconds>", Description: "Change the polling interval", Handle: c.interval},
		router.Command{Name: "channel", Description: "Use this channel for notifications", Handle: c.channel},
		router.Command{Name: "devices", Description: "List monitored devices", Handle: c.devices},
		router.Command{Name: "add", Usage: "<device1,device2,...>", Description: "Add devices to monitoring", Handle: c.add},
		router.Command{Name: "remove", Usage: "<device1,device2,...>", Description: "Remove devices from monitoring", Handle: c.remove},
		router.Command{Name: "ping", Usage: "<device>", Description: "Check one device", Handle: c.ping},
		router.Command{Name: "config", Description: "Show this server's configuration", Handle: c.config},
		router.Command{Name: "status", Description: "Connectivity and device summary", Handle: c.status},
		router.Command{Name: "reload_config", Access: router.AccessAdmin, Description: "Reload tenant configuration from disk", Handle: c.reloadConfig},
		router.Command{Name: "help", Description: "Show help", Handle: c.help},
	)
}

// tenantFor returns the guild's tenant when setup has run.
func (c *Commands) tenantFor(req *router.Request) (model.Tenant, bool) {
	t, ok := c.d.Registry.Get(req.GuildID)
	return t, ok && t.Configured()
}

// startLoop applies the process-wide interval and starts the loop.
func (c *Commands) startLoop() bool {
	if c.d.Loop.Running() {
		return false
	}
	c.d.Loop.SetInterval(c.d.Registry.FirstInterval())
	return c.d.Loop.Start()
}

func (c *Commands) setup(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return router.Missing("api_key")
	}
	apiKey := req.Args[0]
	interval := model.DefaultPollInterval
	if len(req.Args) > 1 {
		n, err := strconv.Atoi(req.Args[1])
		if err != nil {
			return fmt.Errorf("poll_interval must be a whole number of seconds, got %q", req.Args[1])
		}
		interval = n
	}
	if interval < model.MinPollInterval {
		return req.Reply(ctx, msgMinInterval)
	}
	devices := splitDevices(req.RestAfter(2))

	if err := req.Reply(ctx, "Processing setup command... This may take a moment."); err != nil {
		req.Logger.Warn("setup acknowledgement failed", logx.Err(err))
	}
	if _, err := c.d.Fetcher.FetchDevices(ctx, apiKey); err != nil {
		req.Logger.Warn("setup key validation failed", logx.Err(err))
		return req.Reply(ctx, msgInvalidKey)
	}

	if _, err := c.d.Registry.Update(ctx, req.GuildID, func(t *model.Tenant) error {
		t.APIKey = apiKey
		t.PollInterval = interval
		t.Devices = devices
		t.Destination = model.ChannelID(req.ChannelID)
		t.MonitoringStopped = false
		return nil
	}); err != nil {
		return err
	}
	req.Logger.Info("tenant configured", logx.Int("interval", interval), logx.Int("devices", len(devices)))

	if err := req.Reply(ctx, fmt.Sprintf("ℹ️ Notifications will be sent to <#%s>", req.ChannelID)); err != nil {
		return err
	}
	list := "All devices"
	if len(devices) > 0 {
		list = strings.Join(devices, ", ")
	}
	if err := req.Reply(ctx, fmt.Sprintf("✅ Configuration updated for this server:\n- Polling interval: %d seconds\n- Devices: %s", interval, list)); err != nil {
		return err
	}
	if c.startLoop() {
		return req.Reply(ctx, msgLoopStarted)
	}
	return req.Reply(ctx, "ℹ️ Device monitoring was already running and will continue with the updated configuration.")
}

func (c *Commands) start(ctx context.Context, req *router.Request) error {
	if _, ok := c.tenantFor(req); !ok {
		return req.Reply(ctx, msgNotSetUp)
	}
	if _, err := c.d.Registry.Update(ctx, req.GuildID, func(t *model.Tenant) error {
		t.MonitoringStopped = false
		return nil
	}); err != nil {
		return err
	}
	if c.startLoop() {
		return req.Reply(ctx, msgLoopStarted)
	}
	return req.Reply(ctx, "ℹ️ Monitoring is already running.")
}

func (c *Commands) stop(ctx context.Context, req *router.Request) error {
	if _, err := c.d.Registry.UpdateExisting(ctx, req.GuildID, func(t *model.Tenant) error {
		t.MonitoringStopped = true
		return nil
	}); err != nil && !errors.Is(err, tenant.ErrNotFound) {
		return err
	}
	if c.d.Loop.Stop() {
		return req.Reply(ctx, "⏹️ Device monitoring has been stopped.")
	}
	return req.Reply(ctx, "ℹ️ Monitoring is not currently running.")
}

func (c *Commands) interval(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return router.Missing("seconds")
	}
	seconds, err := strconv.Atoi(req.Args[0])
	if err != nil {
		return fmt.Errorf("seconds must be a whole number, got %q", req.Args[0])
	}
	if _, ok := c.tenantFor(req); !ok {
		return req.Reply(ctx, msgNotSetUp)
	}
	if seconds < model.MinPollInterval {
		return req.Reply(ctx, msgMinInterval)
	}
	if _, err := c.d.Registry.UpdateExisting(ctx, req.GuildID, func(t *model.Tenant) error {
		t.PollInterval = seconds
		return nil
	}); err != nil {
		return err
	}
	if c.d.Loop.SetInterval(time.Duration(seconds) * time.Second) {
		return req.Reply(ctx, fmt.Sprintf("✅ Polling interval updated to %d seconds. Monitoring restarted.", seconds))
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Polling interval updated to %d seconds. Monitoring is not currently running.", seconds))
}

func (c *Commands) channel(ctx context.Context, req *router.Request) error {
	if _, ok := c.tenantFor(req); !ok {
		return req.Reply(ctx, msgNotSetUp)
	}
	if _, err := c.d.Registry.UpdateExisting(ctx, req.GuildID, func(t *model.Tenant) error {
		t.Destination = model.ChannelID(req.ChannelID)
		return nil
	}); err != nil {
		return err
	}
	return req.Reply(ctx, "✅ Notification channel updated! All Tailscale device notifications will now be sent to this channel.")
}

// fetch reports ok=false after replying with the standard failure text.
func (c *Commands) fetch(ctx context.Context, req *router.Request, t model.Tenant) ([]inventory.Device, bool, error) {
	list, err := c.d.Fetcher.FetchDevices(ctx, t.APIKey)
	if err != nil {
		req.Logger.Warn("device fetch failed", logx.Err(err))
		return nil, false, req.Reply(ctx, msgFetchFailed)
	}
	return list.Devices, true, nil
}

func (c *Commands) devices(ctx context.Context, req *router.Request) error {
	t, ok := c.tenantFor(req)
	if !ok {
		return req.Reply(ctx, msgNotSetUp)
	}
	devices, ok, err := c.fetch(ctx, req, t)
	if !ok {
		return err
	}
	now := c.d.Now()
	var fields []kit.EmbedField
	for _, d := range devices {
		if !monitor.Allowed(t.Devices, d.Name) {
			continue
		}
		obs, err := monitor.Classify(d, now)
		if err != nil {
			fields = append(fields, kit.EmbedField{Name: d.Name + " - ❓ Unknown", Value: "Error: " + err.Error()})
			continue
		}
		status := "🔵 Online"
		if obs.Status == monitor.StatusOffline {
			status = "🔴 Offline"
		}
		fields = append(fields, kit.EmbedField{
			Name:  d.Name + " - " + status,
			Value: fmt.Sprintf("Last seen: %s UTC (%d mins ago)", obs.LastSeenText(), obs.Minutes()),
		})
	}
	e := kit.Embed{Title: "Tailscale Devices", Description: "Current status of your Tailscale devices", Color: kit.ColorBlue}
	if len(fields) == 0 {
		e.Description = emptyDevicesText(t)
		return req.ReplyEmbed(ctx, e)
	}
	return replyFields(ctx, req, e, fields)
}

func emptyDevicesText(t model.Tenant) string {
	if t.MonitorsAll() {
		return "No devices found in your Tailscale account."
	}
	return "No devices found matching your monitoring list."
}

// replyFields sends e once per maxEmbedFields fields.
func replyFields(ctx context.Context, req *router.Request, e kit.Embed, fields []kit.EmbedField) error {
	for len(fields) > 0 {
		n := min(len(fields), maxEmbedFields)
		page := e
		page.Fields = fields[:n]
		if err := req.ReplyEmbed(ctx, page); err != nil {
			return err
		}
		fields = fields[n:]
		e.Description = ""
	}
	return nil
}

func (c *Commands) add(ctx context.Context, req *router.Request) error {
	requested := splitDevices(req.Rest)
	if len(requested) == 0 {
		return router.Missing("devices")
	}
	t, ok := c.tenantFor(req)
	if !ok {
		return req.Reply(ctx, msgNotSetUp)
	}
	if t.MonitorsAll() {
		return req.Reply(ctx, "❌ Currently monitoring all devices. Use `!remove` first to switch to selective monitoring.")
	}
	updated, err := c.d.Registry.UpdateExisting(ctx, req.GuildID, func(t *model.Tenant) error {
		for _, d := range requested {
			if !contains(t.Devices, d) {
				t.Devices = append(t.Devices, d)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Added %d device(s) to monitoring list. Now monitoring: %s",
		len(requested), strings.Join(updated.Devices, ", ")))
}

func (c *Commands) remove(ctx context.Context, req *router.Request) error {
	requested := splitDevices(req.Rest)
	if len(requested) == 0 {
		return router.Missing("devices")
	}
	t, ok := c.tenantFor(req)
	if !ok {
		return req.Reply(ctx, msgNotSetUp)
	}

	if t.MonitorsAll() {
		devices, ok, err := c.fetch(ctx, req, t)
		if !ok {
			return err
		}
		keep := make([]string, 0, len(devices))
		for _, d := range devices {
			if !contains(requested, d.Name) {
				keep = append(keep, d.Name)
			}
		}
		if len(keep) == 0 {
			return req.Reply(ctx, msgRemoveEverything)
		}
		if _, err := c.d.Registry.UpdateExisting(ctx, req.GuildID, func(t *model.Tenant) error {
			t.Devices = keep
			return nil
		}); err != nil {
			return err
		}
		if err := req.Reply(ctx, "✅ Switched from monitoring all devices to selective monitoring."); err != nil {
			return err
		}
		return req.Reply(ctx, fmt.Sprintf("Now monitoring %d device(s): %s", len(keep), strings.Join(keep, ", ")))
	}

	var removed int
	updated, err := c.d.Registry.UpdateExisting(ctx, req.GuildID, func(t *model.Tenant) error {
		var keep []string
		for _, d := range t.Devices {
			if contains(requested, d) {
				removed++
				continue
			}
			keep = append(keep, d)
		}
		if removed == 0 {
			return errNothingRemoved
		}
		if len(keep) == 0 {
			keep = nil
		}
		t.Devices = keep
		return nil
	})
	if errors.Is(err, errNothingRemoved) {
		return req.Reply(ctx, "❌ None of the specified devices were in your monitoring list.")
	}
	if err != nil {
		return err
	}
	if updated.MonitorsAll() {
		return req.Reply(ctx, "✅ All devices removed from selective monitoring. Now monitoring all devices.")
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Removed %d device(s) from monitoring. Still monitoring: %s",
		removed, strings.Join(updated.Devices, ", ")))
}

var errNothingRemoved = errors.New("no listed device matched")

func (c *Commands) ping(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return router.Missing("device_name")
	}
	name := req.Args[0]
	t, ok := c.tenantFor(req)
	if !ok {
		return req.Reply(ctx, msgNotSetUp)
	}
	if err := req.Reply(ctx, fmt.Sprintf("Checking status of device: `%s`...", name)); err != nil {
		return err
	}
	devices, ok, err := c.fetch(ctx, req, t)
	if !ok {
		return err
	}
	for _, d := range devices {
		if d.Name != name {
			continue
		}
		obs, err := monitor.Classify(d, c.d.Now())
		if err != nil {
			return req.Reply(ctx, "❌ Error processing device data: "+err.Error())
		}
		e := kit.Embed{Title: "Device Status: " + d.Name, Description: "🟢 Device is online", Color: kit.ColorGreen}
		if obs.Status == monitor.StatusOffline {
			e.Description, e.Color = "🔴 Device is offline", kit.ColorRed
		}
		e.Fields = []kit.EmbedField{
			{Name: "Last Seen", Value: obs.LastSeenText() + " UTC", Inline: true},
			{Name: "Time Since Last Seen", Value: fmt.Sprintf("%d minute(s) ago", obs.Minutes()), Inline: true},
		}
		if d.OS != "" {
			e.Fields = append(e.Fields, kit.EmbedField{Name: "OS", Value: d.OS, Inline: true})
		}
		if d.MachineHostname != "" {
			e.Fields = append(e.Fields, kit.EmbedField{Name: "Hostname", Value: d.MachineHostname, Inline: true})
		}
		return req.ReplyEmbed(ctx, e)
	}
	return req.Reply(ctx, fmt.Sprintf("❌ Device '%s' not found in your Tailscale network.", name))
}

func (c *Commands) config(ctx context.Context, req *router.Request) error {
	t, ok := c.tenantFor(req)
	if !ok {
		return req.Reply(ctx, msgNotSetUp)
	}
	status := "Stopped"
	if c.d.Loop.Running() {
		status = "Running"
	}
	devices := "All devices"
	if !t.MonitorsAll() {
		devices = strings.Join(t.Devices, ", ")
	}
	return req.ReplyEmbed(ctx, kit.Embed{
		Title: "Tailscale Monitor Configuration",
		Color: kit.ColorBlue,
		Fields: []kit.EmbedField{
			{Name: "API Key", Value: "`" + MaskKey(t.APIKey) + "`"},
			{Name: "Poll Interval", Value: fmt.Sprintf("%d seconds", int(t.Interval()/time.Second)), Inline: true},
			{Name: "Status", Value: status, Inline: true},
			{Name: "Monitored Devices", Value: truncate(devices, maxFieldValue)},
		},
	})
}

// MaskKey keeps the first 5 and last 4 characters. Keys too short to hide
// anything are masked entirely.
func MaskKey(key string) string {
	r := []rune(key)
	if len(r) <= 9 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:5]) + strings.Repeat("*", len(r)-9) + string(r[len(r)-4:])
}

func (c *Commands) status(ctx context.Context, req *router.Request) error {
	if err := req.Reply(ctx, "Checking system and device status... This may take a moment."); err != nil {
		return err
	}

	lines := []string{"📋 **DNS Cache Status:**"}
	if c.d.DNS != nil {
		for _, e := range c.d.DNS() {
			lines = append(lines, fmt.Sprintf("- %s: %s", e.Host, strings.Join(e.Addrs, ", ")))
		}
	}
	lines = append(lines, "", "📡 **Current Connectivity:**", c.gatewayLine(ctx))
	loop := "Stopped"
	if c.d.Loop.Running() {
		loop = "Running (every " + durafmt.Parse(c.d.Loop.Interval()).LimitFirstN(2).String() + ")"
	}
	lines = append(lines,
		"- 🔁 Monitoring: "+loop,
		"- ⏱️ Uptime: "+durafmt.Parse(c.d.Now().Sub(c.d.Started).Truncate(time.Second)).LimitFirstN(2).String(),
	)
	for _, chunk := range chunkString(strings.Join(lines, "\n"), statusChunkLimit) {
		if err := req.Reply(ctx, "```"+chunk+"```"); err != nil {
			return err
		}
	}

	t, ok := c.tenantFor(req)
	if !ok {
		return req.Reply(ctx, "❌ This server is not set up for Tailscale monitoring. Use `!setup` first.")
	}
	devices, ok, err := c.fetch(ctx, req, t)
	if !ok {
		return err
	}

	now := c.d.Now()
	var online, offline, unknown []string
	for _, d := range devices {
		if !monitor.Allowed(t.Devices, d.Name) {
			continue
		}
		obs, err := monitor.Classify(d, now)
		switch {
		case err != nil:
			unknown = append(unknown, fmt.Sprintf("**%s** - Error: %s", d.Name, err))
		case obs.Status == monitor.StatusOffline:
			offline = append(offline, fmt.Sprintf("**%s** - Last seen: %s UTC (%d mins ago)", d.Name, obs.LastSeenText(), obs.Minutes()))
		default:
			online = append(online, fmt.Sprintf("**%s** - %d mins ago", d.Name, obs.Minutes()))
		}
	}

	e := kit.Embed{Title: "Tailscale Device Status", Description: "Current status of monitored Tailscale devices", Color: kit.ColorBlue}
	e.Fields = append(e.Fields, kit.EmbedField{
		Name:  "📊 Summary",
		Value: fmt.Sprintf("🔵 Online: %d | 🔴 Offline: %d | ❓ Unknown: %d", len(online), len(offline), len(unknown)),
	})
	if len(online) > 0 {
		e.Fields = append(e.Fields, kit.EmbedField{Name: "🔵 Online Devices", Value: truncate(strings.Join(online, "\n"), maxFieldValue)})
	}
	if len(offline) > 0 {
		e.Fields = append(e.Fields, kit.EmbedField{Name: "🔴 Offline Devices", Value: truncate(strings.Join(offline, "\n"), maxFieldValue)})
	}
	if len(unknown) > 0 {
		e.Fields = append(e.Fields, kit.EmbedField{Name: "❓ Unknown Status", Value: truncate(strings.Join(unknown, "\n"), maxFieldValue)})
	}
	if len(e.Fields) == 1 {
		e.Description = emptyDevicesText(t)
	}
	return req.ReplyEmbed(ctx, e)
}

func (c *Commands) gatewayLine(ctx context.Context) string {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.d.GatewayURL, nil)
	if err != nil {
		return "- ❌ Discord API: " + err.Error()
	}
	resp, err := c.d.HTTP.Do(hreq)
	if err != nil {
		return "- ❌ Discord API: " + err.Error()
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("- ❌ Discord API: Error (Status %d)", resp.StatusCode)
	}
	return "- ✅ Discord API: Connected"
}

func (c *Commands) reloadConfig(ctx context.Context, req *router.Request) error {
	if c.d.Reload == nil {
		return req.Reply(ctx, "❌ Failed to reload configuration from disk. Check logs.")
	}
	if err := c.d.Reload(ctx); err != nil {
		req.Logger.Error("tenant reload failed", logx.Err(err))
		return req.Reply(ctx, "❌ Failed to reload configuration from disk. Check logs.")
	}
	return req.Reply(ctx, "✅ Configuration reloaded from disk.")
}

func (c *Commands) help(ctx context.Context, req *router.Request) error {
	return req.ReplyEmbed(ctx, kit.Embed{
		Title:       "Tailscale Monitor Bot",
		Description: "A bot to monitor your Tailscale devices and notify you when they go offline or come back online.",
		Color:       kit.ColorBlue,
		Fields: []kit.EmbedField{
			{Name: "⚙️ Setup & Configuration", Value: "**!setup** `<api_key> [poll_interval] [device1,device2,...]`\n" +
				"Configure the bot to monitor your Tailscale devices.\n" +
				"• Get your API key from: [Tailscale Admin Panel](https://login.tailscale.com/admin/settings/keys)\n" +
				"• `poll_interval` (optional): Check frequency in seconds (default: 60)\n" +
				"• `devices` (optional): Comma-separated list of device names"},
			{Name: "📱 Device Management", Value: "**!devices** - List all monitored devices and their current status\n" +
				"**!add** `<device1,device2,...>` - Add devices to monitoring\n" +
				"**!remove** `<device1,device2,...>` - Remove devices from monitoring\n" +
				"**!ping** `<device>` - Check if a specific device is online"},
			{Name: "🔎 Monitoring Controls", Value: "**!start** - Start the monitoring loop\n" +
				"**!stop** - Stop the monitoring loop\n" +
				"**!interval** `<seconds>` - Change the polling interval\n" +
				"**!channel** - Set current channel for notifications"},
			{Name: "🛠️ Utilities", Value: "**!status** - Check bot's network connectivity\n" +
				"**!config** - Show current configuration\n" +
				"**!reload_config** - Reload server configuration from disk (admin)\n" +
				"**!help** - Show this help message"},
		},
		Footer: "Tailscale Monitor Bot v1.0 | Made with ❤️",
	})
}

// splitDevices parses a comma-separated device list. Empty input is nil.
func splitDevices(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}

// chunkString splits s into pieces of at most n runes.
func chunkString(s string, n int) []string {
	r := []rune(s)
	var out []string
	for len(r) > n {
		out = append(out, string(r[:n]))
		r = r[n:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}
