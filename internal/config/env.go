package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LookupFunc matches os.LookupEnv. Tests pass a map-backed lookup.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment variables on cfg. Secrets (the bot token) are
// expected to come from the environment rather than the config file.
//
// Recognized keys:
//
//	TELEGRAM_TOKEN, ADMIN_USER_IDS (comma separated), DB_URL,
//	MIN_INTERVAL_SECONDS, MAX_CONCURRENT_CHECKS, TELE_WORKERS,
//	CPU_BENCH_ENABLED, CPU_BENCH_URL, CPU_BENCH_THRESHOLD_SECONDS,
//	CPU_BENCH_INTERVAL (seconds), LOG_LEVEL
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if cfg == nil {
		return nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}

	if v, ok := get("TELEGRAM_TOKEN"); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get("ADMIN_USER_IDS"); ok {
		ids, err := parseIDList(v)
		if err != nil {
			return fmt.Errorf("ADMIN_USER_IDS: %w", err)
		}
		cfg.Telegram.AdminUserIDs = ids
	}
	if v, ok := get("DB_URL"); ok {
		cfg.Storage.URL = v
	}
	if v, ok := get("MIN_INTERVAL_SECONDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("MIN_INTERVAL_SECONDS: invalid value %q", v)
		}
		cfg.Monitor.MinInterval = (time.Duration(n) * time.Second).String()
	}
	if v, ok := get("MAX_CONCURRENT_CHECKS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("MAX_CONCURRENT_CHECKS: invalid value %q", v)
		}
		cfg.Monitor.MaxConcurrentChecks = n
	}
	if v, ok := get("TELE_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("TELE_WORKERS: invalid value %q", v)
		}
		cfg.Queue.Workers = n
	}
	if v, ok := get("CPU_BENCH_ENABLED"); ok {
		cfg.Benchmark.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v, ok := get("CPU_BENCH_URL"); ok {
		cfg.Benchmark.URL = v
	}
	if v, ok := get("CPU_BENCH_THRESHOLD_SECONDS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return fmt.Errorf("CPU_BENCH_THRESHOLD_SECONDS: invalid value %q", v)
		}
		cfg.Benchmark.ThresholdSeconds = f
	}
	if v, ok := get("CPU_BENCH_INTERVAL"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("CPU_BENCH_INTERVAL: invalid value %q", v)
		}
		cfg.Benchmark.Interval = (time.Duration(n) * time.Second).String()
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	return nil
}

func parseIDList(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", p)
		}
		out = append(out, id)
	}
	return out, nil
}
