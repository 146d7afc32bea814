package config

// Config is the process configuration. Per-guild tenant settings live in
// the tenant document under the storage directory, not here.
//
// All durations are Go duration strings (e.g. "500ms", "30s", "10m").
type Config struct {
	Discord   DiscordConfig   `json:"discord"`
	Logging   LoggingConfig   `json:"logging"`
	Inventory InventoryConfig `json:"inventory"`
	RateLimit RateLimitConfig `json:"ratelimit"`
	Monitor   MonitorConfig   `json:"monitor"`
	Storage   StorageConfig   `json:"storage"`
	Ops       OpsConfig       `json:"ops"`
}

type DiscordConfig struct {
	// Token may be left empty and supplied via DISCORD_BOT_TOKEN.
	Token         string `json:"token"`
	CommandPrefix string `json:"command_prefix,omitempty"`
	// LogChannelID receives log lines when logging.discord is enabled.
	LogChannelID   string `json:"log_channel_id,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"`
	// CommandConcurrency caps concurrently running command handlers.
	CommandConcurrency int `json:"command_concurrency,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Discord LoggingDiscord `json:"discord"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingDiscord struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type InventoryConfig struct {
	Endpoint string `json:"endpoint,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	// MaxRetries is the number of extra attempts; nil means 2.
	MaxRetries   *int   `json:"max_retries,omitempty"`
	RetryBackoff string `json:"retry_backoff,omitempty"`
	DNSCacheTTL  string `json:"dns_cache_ttl,omitempty"`
	// FallbackHosts maps host to a fixed IP used when resolution fails.
	// Omitted means the built-in Discord table.
	FallbackHosts map[string]string `json:"fallback_hosts,omitempty"`
}

type RateLimitConfig struct {
	Burst      int     `json:"burst,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Window     string  `json:"window,omitempty"`
	History    int     `json:"history,omitempty"`
}

type MonitorConfig struct {
	DefaultInterval  string `json:"default_interval,omitempty"`
	MaxBatch         int    `json:"max_batch,omitempty"`
	BurstPauseAfter  int    `json:"burst_pause_after,omitempty"`
	BurstPause       string `json:"burst_pause,omitempty"`
	AlertSuppression string `json:"alert_suppression,omitempty"`
	Concurrency      int    `json:"concurrency,omitempty"`
	// WatchTenants reloads the tenant document when it is edited by hand.
	WatchTenants *bool `json:"watch_tenants,omitempty"`
}

// StorageConfig selects the StateStore driver.
//
//	"storage": { "driver": "file", "dir": "." }
//	"storage": { "driver": "bolt", "path": "./tailwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Dir         string `json:"dir,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// OpsConfig controls the operator HTTP server. Binding a non-loopback
// address requires a token or allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
}

// Default is used when no config file exists.
func Default() *Config {
	return &Config{
		Discord: DiscordConfig{CommandPrefix: "!"},
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Driver: "file", Dir: "."},
		Ops:     OpsConfig{Addr: "127.0.0.1:6060"},
	}
}
