package app

import (
	"context"
	"strings"

	"uptimebot/internal/config"
	"uptimebot/internal/jobs"
	logx "uptimebot/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts; only the newest config matters.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

// applyConfig applies the live sections of next. Everything else keeps its
// startup value and is reported as needing a restart.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	resolved, err := config.Resolve(next)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}

	cur := *a.settings.Load()
	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
	}

	if changed["logging"] {
		a.logs.Apply(mapLogConfig(next))
	}
	if changed["admins"] {
		cur.Admins = resolved.Admins
	}
	if changed["benchmark"] {
		cur.BenchEnabled = resolved.BenchEnabled
		cur.BenchURL = resolved.BenchURL
		cur.BenchTarget = resolved.BenchTarget
		cur.BenchThreshold = resolved.BenchThreshold
		cur.BenchInterval = resolved.BenchInterval
		a.bench.Apply(mapBenchmarkConfig(&cur))
		a.syncBenchmarkJob(&cur)
	}
	a.settings.Store(&cur)

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// syncBenchmarkJob schedules or removes the poll job to match s.
func (a *App) syncBenchmarkJob(s *config.Settings) {
	if !benchmarkActive(s) {
		if a.jobs.Remove(jobs.NameBenchmark) {
			a.log.Info("benchmark polling disabled")
		}
		return
	}
	if err := a.jobs.Register(jobs.BenchmarkPoll(a.bench, s.BenchInterval)); err != nil {
		a.log.Warn("benchmark job not scheduled", logx.Err(err))
		return
	}
	a.log.Info("benchmark polling scheduled", logx.Duration("interval", s.BenchInterval))
}
