package config

import (
	"reflect"

	logx "tailwatch/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and safe fields
// for logging. Secrets (bot token, ops token) are only reported as set or
// unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Discord != newCfg.Discord {
		changed = append(changed, "discord")
		attrs = append(attrs,
			logx.Bool("discord.token_changed", oldCfg.Discord.Token != newCfg.Discord.Token),
			logx.String("discord.command_prefix", newCfg.Discord.CommandPrefix),
			logx.Bool("discord.log_channel_set", newCfg.Discord.LogChannelID != ""),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.discord_enabled", newCfg.Logging.Discord.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Inventory, newCfg.Inventory) {
		changed = append(changed, "inventory")
		attrs = append(attrs,
			logx.String("inventory.timeout", newCfg.Inventory.Timeout),
			logx.String("inventory.dns_cache_ttl", newCfg.Inventory.DNSCacheTTL),
			logx.Int("inventory.fallback_hosts", len(newCfg.Inventory.FallbackHosts)),
		)
	}
	if oldCfg.RateLimit != newCfg.RateLimit {
		changed = append(changed, "ratelimit")
		attrs = append(attrs,
			logx.Int("ratelimit.burst", newCfg.RateLimit.Burst),
			logx.Float64("ratelimit.rate_per_sec", newCfg.RateLimit.RatePerSec),
		)
	}
	if !reflect.DeepEqual(oldCfg.Monitor, newCfg.Monitor) {
		changed = append(changed, "monitor")
		attrs = append(attrs,
			logx.String("monitor.default_interval", newCfg.Monitor.DefaultInterval),
			logx.Int("monitor.max_batch", newCfg.Monitor.MaxBatch),
			logx.Int("monitor.concurrency", newCfg.Monitor.Concurrency),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.dir", newCfg.Storage.Dir),
		)
	}
	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.Ops.Addr),
			logx.Bool("ops.token_set", newCfg.Ops.Token != ""),
			logx.Bool("ops.pprof", newCfg.Ops.Pprof),
		)
	}
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect on restart.
// Logging is applied live.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		if s != "logging" {
			out = append(out, s)
		}
	}
	return out
}
