package app

import (
	"fmt"
	"strings"
	"time"

	"tailwatch/internal/config"
	"tailwatch/internal/inventory"
	"tailwatch/internal/monitor"
	"tailwatch/internal/observability/opsserver"
	"tailwatch/internal/ratelimit"
	"tailwatch/internal/storage"
	"tailwatch/internal/transport/discord"
	logx "tailwatch/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "file", "json":
		return storage.Config{Driver: "file", Dir: sc.Dir}, nil
	case "bolt", "bbolt":
		if strings.TrimSpace(sc.Path) == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
		return storage.Config{Driver: "bolt", Path: sc.Path}, nil
	case "sqlite", "sqlite3":
		if strings.TrimSpace(sc.Path) == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: sc.Path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Channel: logx.ChannelConfig{
			Enabled:    lc.Discord.Enabled && strings.TrimSpace(cfg.Discord.LogChannelID) != "",
			ChannelID:  strings.TrimSpace(cfg.Discord.LogChannelID),
			MinLevel:   lc.Discord.MinLevel,
			RatePerSec: lc.Discord.RatePerSec,
		},
	}
}

func mapInventoryConfig(cfg *config.Config) inventory.Config {
	ic := cfg.Inventory
	return inventory.Config{
		Endpoint:     ic.Endpoint,
		Timeout:      config.Duration(ic.Timeout, 0),
		MaxRetries:   ic.MaxRetries,
		RetryBackoff: config.Duration(ic.RetryBackoff, 0),
	}
}

func mapResolverConfig(cfg *config.Config) inventory.ResolverConfig {
	return inventory.ResolverConfig{
		TTL:      config.Duration(cfg.Inventory.DNSCacheTTL, 0),
		Fallback: cfg.Inventory.FallbackHosts,
	}
}

func mapRateLimitConfig(cfg *config.Config) ratelimit.Config {
	rc := cfg.RateLimit
	return ratelimit.Config{
		Burst:   rc.Burst,
		Rate:    rc.RatePerSec,
		Window:  config.Duration(rc.Window, 0),
		History: rc.History,
	}
}

func mapSchedulerConfig(cfg *config.Config) monitor.SchedulerConfig {
	mc := cfg.Monitor
	return monitor.SchedulerConfig{
		MaxBatch:         mc.MaxBatch,
		BurstPauseAfter:  mc.BurstPauseAfter,
		BurstPause:       config.Duration(mc.BurstPause, 0),
		AlertSuppression: config.Duration(mc.AlertSuppression, 0),
		Concurrency:      mc.Concurrency,
	}
}

func mapDiscordConfig(cfg *config.Config) discord.Config {
	return discord.Config{
		Token:          cfg.Discord.Token,
		RequestTimeout: config.Duration(cfg.Discord.RequestTimeout, 0),
	}
}

func mapOpsConfig(cfg *config.Config) opsserver.Config {
	oc := cfg.Ops
	return opsserver.Config{
		Enabled:       oc.Enabled,
		Addr:          oc.Addr,
		Token:         oc.Token,
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
		ReadTimeout:   config.Duration(oc.ReadTimeout, 0),
		WriteTimeout:  config.Duration(oc.WriteTimeout, 0),
	}
}

// defaultLoopInterval is used when no tenant exists yet.
func defaultLoopInterval(cfg *config.Config) time.Duration {
	return config.Duration(cfg.Monitor.DefaultInterval, time.Minute)
}

// watchTenants defaults to on.
func watchTenants(cfg *config.Config) bool {
	return cfg.Monitor.WatchTenants == nil || *cfg.Monitor.WatchTenants
}
