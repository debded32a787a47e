package app

import (
	"uptimebot/internal/benchmark"
	"uptimebot/internal/config"
	"uptimebot/internal/monitor"
	"uptimebot/internal/notifier"
	"uptimebot/internal/ops"
	"uptimebot/internal/storage"
	"uptimebot/internal/transport/telegram"
	logx "uptimebot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapTelegramConfig(s *config.Settings) telegram.Config {
	return telegram.Config{Token: s.Token, PollTimeout: s.PollTimeout}
}

func mapStorageOptions(s *config.Settings) storage.Options {
	return storage.Options{
		BusyTimeout:             s.BusyTimeout,
		MinIntervalSeconds:      int(s.MinInterval.Seconds()),
		DefaultIntervalSeconds:  int(s.DefaultInterval.Seconds()),
		DefaultFailureThreshold: s.DefaultFailureThreshold,
	}
}

func mapQueueConfig(s *config.Settings) notifier.Config {
	return notifier.Config{
		Workers:          s.QueueWorkers,
		RecipientSpacing: s.RecipientSpacing,
		MaxAttempts:      s.MaxAttempts,
		BackoffBase:      s.BackoffBase,
		BackoffMax:       s.BackoffMax,
		RatePerSec:       s.QueueRatePerSec,
	}
}

func mapMonitorConfig(s *config.Settings) monitor.Config {
	return monitor.Config{
		MinInterval:             s.MinInterval,
		ProbeTimeout:            s.ProbeTimeout,
		Tick:                    s.Tick,
		MaxConcurrent:           s.MaxConcurrentChecks,
		DefaultFailureThreshold: s.DefaultFailureThreshold,
	}
}

func mapBenchmarkConfig(s *config.Settings) benchmark.Config {
	return benchmark.Config{URL: s.BenchURL, Target: s.BenchTarget, Threshold: s.BenchThreshold}
}

// benchmarkActive reports whether the poll job should be scheduled.
func benchmarkActive(s *config.Settings) bool {
	return s.BenchEnabled && s.BenchURL != ""
}

func mapOpsConfig(s *config.Settings) ops.Config {
	return ops.Config{Addr: s.OpsAddr, Pprof: s.OpsPprof, AllowedOrigins: s.OpsAllowedOrigins}
}
