package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"uptimebot/internal/benchmark"
	"uptimebot/internal/commands"
	"uptimebot/internal/config"
	"uptimebot/internal/jobs"
	"uptimebot/internal/metrics"
	"uptimebot/internal/monitor"
	"uptimebot/internal/notifier"
	"uptimebot/internal/ops"
	"uptimebot/internal/probe"
	rtsup "uptimebot/internal/runtime/supervisor"
	"uptimebot/internal/storage"
	kit "uptimebot/internal/transport"
	"uptimebot/internal/transport/telegram"
	logx "uptimebot/pkg/logx"
)

// Transport is the chat transport. *telegram.Adapter implements it.
type Transport interface {
	kit.Sender
	Start(ctx context.Context, out chan<- kit.Message) error
	Stop(ctx context.Context) error
	SetCommands(cmds map[string]string) error
}

type options struct {
	transport Transport
	prober    monitor.Prober
	lookup    config.LookupFunc
}

type Option func(*options)

// WithTransport replaces the Telegram adapter.
func WithTransport(t Transport) Option { return func(o *options) { o.transport = t } }

// WithProber replaces the TCP checker.
func WithProber(p monitor.Prober) Option { return func(o *options) { o.prober = p } }

// WithLookup replaces os.LookupEnv for environment overrides.
func WithLookup(fn config.LookupFunc) Option { return func(o *options) { o.lookup = fn } }

type App struct {
	cfgm     *config.ConfigManager
	settings atomic.Pointer[config.Settings]

	sup  *rtsup.Supervisor
	log  logx.Logger
	logs *logx.Service

	transport Transport
	store     *storage.Store
	metrics   *metrics.Metrics
	queue     *notifier.Queue
	sched     *monitor.Scheduler
	bench     *benchmark.Monitor
	jobs      *jobs.Service
	ops       *ops.Server
	router    *commands.Router

	updates chan kit.Message
}

// NewApp loads configuration and builds every component. Nothing runs
// until Start.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfgm.AllowMissing = true
	if o.lookup != nil {
		cfgm.SetLookup(o.lookup)
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	s, err := config.Resolve(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := s.RequireToken(); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	tr := o.transport
	if tr == nil {
		ad, err := telegram.New(mapTelegramConfig(s), bootLog)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		tr = ad
	}

	logSvc, log := logx.New(mapLogConfig(cfg), tr)
	a := &App{
		cfgm:      cfgm,
		logs:      logSvc,
		log:       log.With(logx.String("comp", "app")),
		transport: tr,
		updates:   make(chan kit.Message, 256),
	}
	a.settings.Store(s)

	openCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := storage.Open(openCtx, s.DBURL, mapStorageOptions(s), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	a.store = store

	a.metrics = metrics.New()

	a.queue = notifier.New(mapQueueConfig(s), tr, log.With(logx.String("comp", "notifier")))
	a.queue.SetObserver(a.metrics)
	a.metrics.RegisterQueueDepth(a.queue.Depth)

	prober := o.prober
	if prober == nil {
		prober = probe.NewTCPChecker()
	}
	a.sched = monitor.New(mapMonitorConfig(s), store, prober, a.queue, log.With(logx.String("comp", "monitor")))
	a.sched.SetObserver(a.metrics)

	a.bench = benchmark.New(mapBenchmarkConfig(s), a.queue, store, a.admins, log.With(logx.String("comp", "benchmark")))
	a.bench.SetObserver(a.metrics)

	a.jobs = jobs.New(time.Local, log.With(logx.String("comp", "jobs")))
	if s.HistoryRetention > 0 {
		if err := a.jobs.Register(jobs.HistoryRetention(store, s.HistoryRetention, nil, log.With(logx.String("comp", "retention")))); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	if benchmarkActive(s) {
		if err := a.jobs.Register(jobs.BenchmarkPoll(a.bench, s.BenchInterval)); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	if s.OpsEnabled {
		a.ops = ops.New(mapOpsConfig(s), ops.Sources{
			Health:  a.Health,
			Stats:   a.stats,
			Metrics: a.metrics.Handler(),
		}, log.With(logx.String("comp", "ops")))
	}

	minInterval := s.MinInterval
	a.router = commands.NewRouter(commands.Deps{
		Store:       store,
		Sender:      tr,
		Queue:       a.queue,
		IsAdmin:     a.isAdmin,
		MinInterval: func() time.Duration { return minInterval },
	}, log.With(logx.String("comp", "commands")))

	return a, nil
}

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) isAdmin(userID int64) bool { return a.settings.Load().IsAdmin(userID) }

func (a *App) admins() []int64 { return a.settings.Load().Admins }

// Health reports whether storage is reachable.
func (a *App) Health(ctx context.Context) error { return a.store.Ping(ctx) }

func (a *App) stats(ctx context.Context) any {
	out := map[string]any{
		"queue":         a.queue.Stats(),
		"queue_depth":   a.queue.Depth(),
		"monitor_ticks": a.sched.Ticks(),
		"jobs":          a.jobs.Snapshot(),
	}
	if n, err := a.store.Counts(ctx); err != nil {
		out["counts_error"] = err.Error()
	} else {
		out["counts"] = n
	}
	return out
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := config.Resolve(cfg)
		return err
	})

	if err := a.queue.Start(run, 0); err != nil {
		return err
	}
	if err := a.transport.Start(run, a.updates); err != nil {
		return fmt.Errorf("telegram start: %w", err)
	}
	if err := a.transport.SetCommands(a.router.MenuCommands()); err != nil {
		a.log.Warn("set command menu failed", logx.Err(err))
	}
	a.router.Start(run, a.updates, 4)
	a.sched.Start(run)
	a.jobs.Start(run)
	if benchmarkActive(a.settings.Load()) {
		// The first reading should not wait a full interval.
		a.sup.Go0("benchmark.initial", func(c context.Context) {
			if err := a.jobs.RunNow(c, jobs.NameBenchmark); err != nil && c.Err() == nil {
				a.log.Warn("initial benchmark poll failed", logx.Err(err))
			}
		})
	}
	if a.ops != nil {
		a.ops.Start(run)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	if _, err := os.Stat(a.cfgm.Path()); err == nil {
		a.sup.Go("config.watch", a.cfgm.Watch)
	} else {
		a.log.Info("config file not found; hot reload disabled", logx.String("path", a.cfgm.Path()))
	}

	a.log.Info("app started")
	return nil
}

// Stop shuts components down in dependency order. Each step is bounded so
// one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeStore()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	var errs error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if err := a.stopStep(ctx, name, max, fn); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("jobs", 2*time.Second, a.jobs.Stop)
	step("monitor", 3*time.Second, a.sched.Stop)
	step("commands", 2*time.Second, a.router.Stop)
	step("notifier", 2*time.Second, a.queue.Stop)
	if a.ops != nil {
		step("ops", 2*time.Second, a.ops.Stop)
	}
	step("telegram", 3*time.Second, a.transport.Stop)
	step("storage", 2*time.Second, func(context.Context) error { return a.closeStore() })
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		errs = multierr.Append(errs, a.logs.Close())
	}
	return errs
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func (a *App) stopStep(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	// never extend the caller's deadline
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped; no time left", logx.String("name", name))
		return context.DeadlineExceeded
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		took := time.Since(start)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			return err
		}
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
		return nil
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
		return stepCtx.Err()
	}
}
