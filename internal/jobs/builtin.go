package jobs

import (
	"context"
	"time"

	"uptimebot/internal/benchmark"
	logx "uptimebot/pkg/logx"
)

const (
	NameBenchmark = "benchmark.poll"
	NameRetention = "history.prune"
)

// Poller is satisfied by *benchmark.Monitor.
type Poller interface {
	Poll(ctx context.Context) (benchmark.Result, error)
}

// BenchmarkPoll polls the CPU benchmark every interval.
func BenchmarkPoll(p Poller, interval time.Duration) Job {
	timeout := interval
	if timeout <= 0 || timeout > time.Minute {
		timeout = time.Minute
	}
	return Job{
		Name:    NameBenchmark,
		Spec:    Every(interval),
		Timeout: timeout,
		Run: func(ctx context.Context) error {
			_, err := p.Poll(ctx)
			return err
		},
	}
}

// Pruner is satisfied by *storage.Store.
type Pruner interface {
	PruneHistory(ctx context.Context, before time.Time) (int64, error)
}

// HistoryRetention deletes check history older than retention once a day.
func HistoryRetention(p Pruner, retention time.Duration, now func() time.Time, log logx.Logger) Job {
	if now == nil {
		now = time.Now
	}
	return Job{
		Name:    NameRetention,
		Spec:    "@daily",
		Timeout: 5 * time.Minute,
		Run: func(ctx context.Context) error {
			cutoff := now().Add(-retention)
			n, err := p.PruneHistory(ctx, cutoff)
			if err != nil {
				return err
			}
			if n > 0 {
				log.Info("history pruned", logx.Int64("rows", n), logx.Time("before", cutoff))
			}
			return nil
		},
	}
}
