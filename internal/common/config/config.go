// Package config provides configuration management for the dashboard backend.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the dashboard backend.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Overview  OverviewConfig  `mapstructure:"overview"`
	Collector CollectorConfig `mapstructure:"collector"`
	Timeline  TimelineConfig  `mapstructure:"timeline"`
	Usage     UsageConfig     `mapstructure:"usage"`
	Storage   StorageConfig   `mapstructure:"storage"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// WorkerConfig holds the polling client and safety monitor configuration.
type WorkerConfig struct {
	BaseURL        string `mapstructure:"baseUrl"`
	TimeoutMs      int    `mapstructure:"timeoutMs"`      // per-call budget for health/state/orders/control
	PollMs         int    `mapstructure:"pollMs"`         // safety monitor tick period
	DownDebounceMs int    `mapstructure:"downDebounceMs"` // grace period before a disconnect is committed
	KickTimeoutMs  int    `mapstructure:"kickTimeoutMs"`  // max wait for a request-triggered refresh
}

// OverviewConfig holds the cache rebuild configuration.
type OverviewConfig struct {
	RefreshMs    int `mapstructure:"refreshMs"`
	CmdTimeoutMs int `mapstructure:"cmdTimeoutMs"`
}

// CollectorConfig holds the external status collector configuration.
type CollectorConfig struct {
	StatusCommand     string `mapstructure:"statusCommand"`
	AgentsCommand     string `mapstructure:"agentsCommand"`
	Project           string `mapstructure:"project"`
	TaskFile          string `mapstructure:"taskFile"`
	StatePointFile    string `mapstructure:"statePointFile"`
	RuntimeStatusFile string `mapstructure:"runtimeStatusFile"`
	RuntimeStateFile  string `mapstructure:"runtimeStateFile"`
}

// TimelineConfig holds the activity timeline view defaults.
type TimelineConfig struct {
	DefaultLimit int `mapstructure:"defaultLimit"`
	DefaultHours int `mapstructure:"defaultHours"`
	MaxCap       int `mapstructure:"maxCap"`
}

// UsageConfig holds the token usage accounting configuration.
type UsageConfig struct {
	DailyWindowHours  int   `mapstructure:"dailyWindowHours"`
	WeeklyWindowHours int   `mapstructure:"weeklyWindowHours"`
	WarnThreshold     int64 `mapstructure:"warnThreshold"`
	CriticalThreshold int64 `mapstructure:"criticalThreshold"`
}

// StorageConfig holds the durable state directory layout.
type StorageConfig struct {
	Dir string `mapstructure:"dir"`
}

// NATSConfig holds NATS messaging configuration. An empty URL selects the
// in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// Timeout returns the per-call budget as a time.Duration.
func (w *WorkerConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutMs) * time.Millisecond
}

// PollPeriod returns the monitor tick period as a time.Duration.
func (w *WorkerConfig) PollPeriod() time.Duration {
	return time.Duration(w.PollMs) * time.Millisecond
}

// DownDebounce returns the disconnect grace period as a time.Duration.
func (w *WorkerConfig) DownDebounce() time.Duration {
	return time.Duration(w.DownDebounceMs) * time.Millisecond
}

// KickTimeout returns the request-triggered refresh budget as a time.Duration.
func (w *WorkerConfig) KickTimeout() time.Duration {
	return time.Duration(w.KickTimeoutMs) * time.Millisecond
}

// RefreshPeriod returns the cache rebuild period as a time.Duration.
func (o *OverviewConfig) RefreshPeriod() time.Duration {
	return time.Duration(o.RefreshMs) * time.Millisecond
}

// CmdTimeout returns the collector command budget as a time.Duration.
func (o *OverviewConfig) CmdTimeout() time.Duration {
	return time.Duration(o.CmdTimeoutMs) * time.Millisecond
}

// DailyWindow returns the daily usage window as a time.Duration.
func (u *UsageConfig) DailyWindow() time.Duration {
	return time.Duration(u.DailyWindowHours) * time.Hour
}

// WeeklyWindow returns the weekly usage window as a time.Duration.
func (u *UsageConfig) WeeklyWindow() time.Duration {
	return time.Duration(u.WeeklyWindowHours) * time.Hour
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("TRADEWATCH_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 18890)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Worker defaults
	v.SetDefault("worker.baseUrl", "http://127.0.0.1:8765/api/v1")
	v.SetDefault("worker.timeoutMs", 3000)
	v.SetDefault("worker.pollMs", 1000)
	v.SetDefault("worker.downDebounceMs", 4000)
	v.SetDefault("worker.kickTimeoutMs", 120)

	// Overview defaults
	v.SetDefault("overview.refreshMs", 2000)
	v.SetDefault("overview.cmdTimeoutMs", 1200)

	// Collector defaults
	v.SetDefault("collector.statusCommand", "openclaw status --all --json")
	v.SetDefault("collector.agentsCommand", "openclaw agents list --json")
	v.SetDefault("collector.project", "trading-workspace")
	v.SetDefault("collector.taskFile", "TASKS.md")
	v.SetDefault("collector.statePointFile", "team/statepoints/latest.json")
	v.SetDefault("collector.runtimeStatusFile", "results/runtime_status.json")
	v.SetDefault("collector.runtimeStateFile", "results/runtime_state.json")

	// Timeline defaults
	v.SetDefault("timeline.defaultLimit", 30)
	v.SetDefault("timeline.defaultHours", 24)
	v.SetDefault("timeline.maxCap", 300)

	// Usage defaults
	v.SetDefault("usage.dailyWindowHours", 24)
	v.SetDefault("usage.weeklyWindowHours", 168)
	v.SetDefault("usage.warnThreshold", 1_000_000)
	v.SetDefault("usage.criticalThreshold", 2_000_000)

	// Storage defaults
	v.SetDefault("storage.dir", "team/usage")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "tradewatch-dashboard")
	v.SetDefault("nats.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix TRADEWATCH_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/tradewatch/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("TRADEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("worker.baseUrl", "TRADEWATCH_WORKER_BASE_URL", "WORKER_API_BASE_URL")
	_ = v.BindEnv("worker.timeoutMs", "TRADEWATCH_WORKER_TIMEOUT_MS", "WORKER_API_TIMEOUT_MS")
	_ = v.BindEnv("worker.pollMs", "TRADEWATCH_WORKER_POLL_MS", "WORKER_POLL_MS")
	_ = v.BindEnv("worker.downDebounceMs", "TRADEWATCH_WORKER_DOWN_DEBOUNCE_MS", "WORKER_DOWN_DEBOUNCE_MS")
	_ = v.BindEnv("worker.kickTimeoutMs", "TRADEWATCH_WORKER_KICK_TIMEOUT_MS")
	_ = v.BindEnv("overview.refreshMs", "TRADEWATCH_OVERVIEW_REFRESH_MS")
	_ = v.BindEnv("overview.cmdTimeoutMs", "TRADEWATCH_OVERVIEW_CMD_TIMEOUT_MS")
	_ = v.BindEnv("timeline.defaultLimit", "TRADEWATCH_TIMELINE_DEFAULT_LIMIT")
	_ = v.BindEnv("timeline.defaultHours", "TRADEWATCH_TIMELINE_DEFAULT_HOURS")
	_ = v.BindEnv("timeline.maxCap", "TRADEWATCH_TIMELINE_MAX_CAP")
	_ = v.BindEnv("storage.dir", "TRADEWATCH_STORAGE_DIR")
	_ = v.BindEnv("collector.statusCommand", "TRADEWATCH_COLLECTOR_STATUS_COMMAND")
	_ = v.BindEnv("collector.agentsCommand", "TRADEWATCH_COLLECTOR_AGENTS_COMMAND")
	_ = v.BindEnv("collector.taskFile", "TRADEWATCH_COLLECTOR_TASK_FILE")
	_ = v.BindEnv("collector.statePointFile", "TRADEWATCH_COLLECTOR_STATE_POINT_FILE")
	_ = v.BindEnv("collector.runtimeStatusFile", "TRADEWATCH_COLLECTOR_RUNTIME_STATUS_FILE")
	_ = v.BindEnv("collector.runtimeStateFile", "TRADEWATCH_COLLECTOR_RUNTIME_STATE_FILE")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/tradewatch/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Worker.BaseURL == "" {
		errs = append(errs, "worker.baseUrl is required")
	}
	if cfg.Worker.TimeoutMs <= 0 {
		errs = append(errs, "worker.timeoutMs must be positive")
	}
	if cfg.Worker.PollMs <= 0 {
		errs = append(errs, "worker.pollMs must be positive")
	}
	if cfg.Worker.DownDebounceMs < 0 {
		cfg.Worker.DownDebounceMs = 0
	}
	if cfg.Worker.KickTimeoutMs < 10 {
		cfg.Worker.KickTimeoutMs = 10
	}

	if cfg.Overview.RefreshMs < 500 {
		cfg.Overview.RefreshMs = 500
	}
	if cfg.Overview.CmdTimeoutMs < 100 {
		cfg.Overview.CmdTimeoutMs = 100
	}

	if cfg.Timeline.DefaultLimit <= 0 {
		errs = append(errs, "timeline.defaultLimit must be positive")
	}
	if cfg.Timeline.MaxCap <= 0 {
		errs = append(errs, "timeline.maxCap must be positive")
	}
	if cfg.Timeline.DefaultLimit > cfg.Timeline.MaxCap {
		errs = append(errs, "timeline.defaultLimit must not exceed timeline.maxCap")
	}

	if cfg.Usage.WarnThreshold <= 0 || cfg.Usage.CriticalThreshold <= 0 {
		errs = append(errs, "usage thresholds must be positive")
	}
	if cfg.Usage.CriticalThreshold < cfg.Usage.WarnThreshold {
		errs = append(errs, "usage.criticalThreshold must be >= usage.warnThreshold")
	}
	if cfg.Usage.DailyWindowHours <= 0 || cfg.Usage.WeeklyWindowHours <= 0 {
		errs = append(errs, "usage windows must be positive")
	}

	if cfg.Storage.Dir == "" {
		errs = append(errs, "storage.dir is required")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
