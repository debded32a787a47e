package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Monitor   MonitorConfig   `json:"monitor"`
	Queue     QueueConfig     `json:"queue"`
	Storage   StorageConfig   `json:"storage"`
	Benchmark BenchmarkConfig `json:"benchmark"`
	Ops       OpsConfig       `json:"ops"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	AdminUserIDs []int64 `json:"admin_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" validate:"gte=0"`
	MaxBackups int    `json:"max_backups,omitempty" validate:"gte=0"`
	MaxAgeDays int    `json:"max_age_days,omitempty" validate:"gte=0"`
	Compress   bool   `json:"compress,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

// MonitorConfig controls the health-check scheduler.
//
// All durations are Go duration strings. Defaults:
//   - min_interval: "20s"
//   - default_interval: "60s" (interval given to newly created customers)
//   - probe_timeout: "10s"
//   - tick: "5s"
//   - max_concurrent_checks: 50
//   - default_failure_threshold: 3
type MonitorConfig struct {
	MinInterval             string `json:"min_interval,omitempty"`
	DefaultInterval         string `json:"default_interval,omitempty"`
	ProbeTimeout            string `json:"probe_timeout,omitempty"`
	Tick                    string `json:"tick,omitempty"`
	MaxConcurrentChecks     int    `json:"max_concurrent_checks,omitempty" validate:"gte=0"`
	DefaultFailureThreshold int    `json:"default_failure_threshold,omitempty" validate:"gte=0"`
}

// QueueConfig controls the notification delivery queue.
//
// Defaults: workers 3, recipient_spacing "1s", max_attempts 5,
// backoff_base "1s", backoff_max "60s", rate_per_sec 0 (no global limit).
type QueueConfig struct {
	Workers          int    `json:"workers,omitempty" validate:"gte=0"`
	RecipientSpacing string `json:"recipient_spacing,omitempty"`
	MaxAttempts      int    `json:"max_attempts,omitempty" validate:"gte=0"`
	BackoffBase      string `json:"backoff_base,omitempty"`
	BackoffMax       string `json:"backoff_max,omitempty"`
	RatePerSec       int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
}

// StorageConfig controls persistence.
//
// Example:
//
//	"storage": { "url": "sqlite:///./data/bot.db", "history_retention": "720h" }
type StorageConfig struct {
	URL              string `json:"url"`
	BusyTimeout      string `json:"busy_timeout,omitempty"` // sqlite only
	HistoryRetention string `json:"history_retention,omitempty"`
}

// BenchmarkConfig controls the external CPU benchmark poller.
type BenchmarkConfig struct {
	Enabled          bool    `json:"enabled"`
	URL              string  `json:"url,omitempty" validate:"omitempty,url"`
	Target           string  `json:"target,omitempty"`
	ThresholdSeconds float64 `json:"threshold_seconds,omitempty" validate:"gte=0"`
	Interval         string  `json:"interval,omitempty"`
}

// OpsConfig controls the optional operator HTTP server.
//
// Prefer binding to localhost; pprof handlers are only mounted when Pprof is true.
type OpsConfig struct {
	Enabled        bool     `json:"enabled"`
	Addr           string   `json:"addr,omitempty"` // default: "127.0.0.1:9090"
	Pprof          bool     `json:"pprof,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}
