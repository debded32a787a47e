package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
)

const (
	DefaultMinInterval      = 20 * time.Second
	DefaultCustomerInterval = 60 * time.Second
	DefaultProbeTimeout     = 10 * time.Second
	DefaultTick             = 5 * time.Second
	DefaultMaxConcurrent    = 50
	DefaultFailureThreshold = 3

	DefaultQueueWorkers     = 3
	DefaultRecipientSpacing = time.Second
	DefaultMaxAttempts      = 5
	DefaultBackoffBase      = time.Second
	DefaultBackoffMax       = 60 * time.Second

	DefaultDBURL            = "sqlite:///./data/bot.db"
	DefaultBusyTimeout      = 5 * time.Second
	DefaultHistoryRetention = 30 * 24 * time.Hour

	DefaultBenchTarget    = "turtlebp"
	DefaultBenchThreshold = 0.35
	DefaultBenchInterval  = 300 * time.Second

	DefaultOpsAddr     = "127.0.0.1:9090"
	DefaultPollTimeout = 10 * time.Second
)

// Settings is the resolved, typed view of Config with defaults applied.
type Settings struct {
	Token       string
	Admins      []int64
	PollTimeout time.Duration

	MinInterval             time.Duration
	DefaultInterval         time.Duration
	ProbeTimeout            time.Duration
	Tick                    time.Duration
	MaxConcurrentChecks     int
	DefaultFailureThreshold int

	QueueWorkers     int
	RecipientSpacing time.Duration
	MaxAttempts      int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	QueueRatePerSec  int

	DBURL            string
	BusyTimeout      time.Duration
	HistoryRetention time.Duration

	BenchEnabled   bool
	BenchURL       string
	BenchTarget    string
	BenchThreshold float64
	BenchInterval  time.Duration

	OpsEnabled        bool
	OpsAddr           string
	OpsPprof          bool
	OpsAllowedOrigins []string
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() { validate = validator.New(validator.WithRequiredStructEnabled()) })
	return validate
}

// Resolve validates cfg and applies defaults. All problems are reported together.
func Resolve(cfg *Config) (*Settings, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	var errs error
	if err := structValidator().Struct(cfg); err != nil {
		errs = multierr.Append(errs, err)
	}

	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := ParseDurationOrDefault(path, raw, def)
		if err != nil {
			errs = multierr.Append(errs, err)
			return def
		}
		return d
	}
	intOr := func(v, def int) int {
		if v <= 0 {
			return def
		}
		return v
	}

	s := &Settings{
		Token:       strings.TrimSpace(cfg.Telegram.Token),
		Admins:      append([]int64(nil), cfg.Telegram.AdminUserIDs...),
		PollTimeout: dur("telegram.poll_timeout", cfg.Telegram.PollTimeout, DefaultPollTimeout),

		MinInterval:             dur("monitor.min_interval", cfg.Monitor.MinInterval, DefaultMinInterval),
		DefaultInterval:         dur("monitor.default_interval", cfg.Monitor.DefaultInterval, DefaultCustomerInterval),
		ProbeTimeout:            dur("monitor.probe_timeout", cfg.Monitor.ProbeTimeout, DefaultProbeTimeout),
		Tick:                    dur("monitor.tick", cfg.Monitor.Tick, DefaultTick),
		MaxConcurrentChecks:     intOr(cfg.Monitor.MaxConcurrentChecks, DefaultMaxConcurrent),
		DefaultFailureThreshold: intOr(cfg.Monitor.DefaultFailureThreshold, DefaultFailureThreshold),

		QueueWorkers:     intOr(cfg.Queue.Workers, DefaultQueueWorkers),
		RecipientSpacing: dur("queue.recipient_spacing", cfg.Queue.RecipientSpacing, DefaultRecipientSpacing),
		MaxAttempts:      intOr(cfg.Queue.MaxAttempts, DefaultMaxAttempts),
		BackoffBase:      dur("queue.backoff_base", cfg.Queue.BackoffBase, DefaultBackoffBase),
		BackoffMax:       dur("queue.backoff_max", cfg.Queue.BackoffMax, DefaultBackoffMax),
		QueueRatePerSec:  cfg.Queue.RatePerSec,

		DBURL:            strings.TrimSpace(cfg.Storage.URL),
		BusyTimeout:      dur("storage.busy_timeout", cfg.Storage.BusyTimeout, DefaultBusyTimeout),
		HistoryRetention: DefaultHistoryRetention,

		BenchEnabled:   cfg.Benchmark.Enabled,
		BenchURL:       strings.TrimSpace(cfg.Benchmark.URL),
		BenchTarget:    strings.TrimSpace(cfg.Benchmark.Target),
		BenchThreshold: cfg.Benchmark.ThresholdSeconds,
		BenchInterval:  dur("benchmark.interval", cfg.Benchmark.Interval, DefaultBenchInterval),

		OpsEnabled:        cfg.Ops.Enabled,
		OpsAddr:           strings.TrimSpace(cfg.Ops.Addr),
		OpsPprof:          cfg.Ops.Pprof,
		OpsAllowedOrigins: append([]string(nil), cfg.Ops.AllowedOrigins...),
	}

	// "0s" explicitly disables retention pruning.
	if raw := strings.TrimSpace(cfg.Storage.HistoryRetention); raw != "" {
		d, err := ParseDurationField("storage.history_retention", raw)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else {
			s.HistoryRetention = d
		}
	}

	if s.DBURL == "" {
		s.DBURL = DefaultDBURL
	}
	if s.BenchTarget == "" {
		s.BenchTarget = DefaultBenchTarget
	}
	if s.BenchThreshold <= 0 {
		s.BenchThreshold = DefaultBenchThreshold
	}
	if s.OpsAddr == "" {
		s.OpsAddr = DefaultOpsAddr
	}
	if s.BackoffMax < s.BackoffBase {
		errs = multierr.Append(errs, fmt.Errorf("queue.backoff_max (%s) must be >= queue.backoff_base (%s)", s.BackoffMax, s.BackoffBase))
	}
	if s.DefaultInterval < s.MinInterval {
		s.DefaultInterval = s.MinInterval
	}

	if errs != nil {
		return nil, errs
	}
	return s, nil
}

// RequireToken is the fatal startup check: the bot cannot run without a token.
func (s *Settings) RequireToken() error {
	if s == nil || s.Token == "" {
		return errors.New("telegram token is required (telegram.token or TELEGRAM_TOKEN)")
	}
	return nil
}

// IsAdmin reports whether userID is in the admin list.
func (s *Settings) IsAdmin(userID int64) bool {
	if s == nil {
		return false
	}
	for _, id := range s.Admins {
		if id == userID {
			return true
		}
	}
	return false
}
