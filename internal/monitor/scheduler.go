package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	rtsup "uptimebot/internal/runtime/supervisor"
	"uptimebot/internal/storage"
	logx "uptimebot/pkg/logx"
)

type Scheduler struct {
	cfg    Config
	store  Store
	prober Prober
	queue  Enqueuer
	log    logx.Logger
	obs    Observer
	now    func() time.Time
	sem    *semaphore

	mu  sync.Mutex
	sup *rtsup.Supervisor

	ticks atomic.Uint64
}

func New(cfg Config, store Store, prober Prober, queue Enqueuer, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Scheduler{
		cfg:    cfg,
		store:  store,
		prober: prober,
		queue:  queue,
		log:    log,
		now:    time.Now,
		sem:    newSemaphore(cfg.MaxConcurrent),
	}
}

// SetObserver installs a metrics hook. Call before Start.
func (s *Scheduler) SetObserver(o Observer) { s.obs = o }

// Ticks returns the number of completed ticks.
func (s *Scheduler) Ticks() uint64 { return s.ticks.Load() }

// Start runs the tick loop until Stop or ctx cancellation. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.sup.GoRestart("monitor.loop", s.loop, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	s.log.Info("health check scheduler started",
		logx.Duration("tick", s.cfg.Tick),
		logx.Duration("min_interval", s.cfg.MinInterval),
		logx.Int("max_concurrent", s.cfg.MaxConcurrent))
}

// Stop cancels the loop, including any idle wait, and waits for in-flight
// probes of the current tick to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("health check scheduler stopped", logx.Uint64("ticks", s.ticks.Load()))
	return err
}

func (s *Scheduler) loop(ctx context.Context) error {
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		rep := s.Tick(ctx)
		if rep.Err != nil && ctx.Err() == nil {
			s.log.Warn("tick failed", logx.Err(rep.Err))
		}
		t.Reset(s.cfg.Tick)
	}
}

// Tick runs one pass: it dispatches every due target once and waits for all
// of them. It never panics.
func (s *Scheduler) Tick(ctx context.Context) (rep TickReport) {
	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			rep.Err = fmt.Errorf("tick panic: %v", r)
			s.log.Error("tick panic", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
		s.ticks.Add(1)
	}()

	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		rep.Err = fmt.Errorf("list subscriptions: %w", err)
		return rep
	}
	for _, chatID := range subs {
		if _, err := s.store.EnsureCustomer(ctx, chatID); err != nil {
			s.log.Warn("ensure customer failed", logx.Int64("chat_id", chatID), logx.Err(err))
		}
	}

	customers, err := s.store.ListCustomers(ctx)
	if err != nil {
		rep.Err = fmt.Errorf("list customers: %w", err)
		return rep
	}
	rep.Customers = len(customers)

	nowTS := start.Unix()
	minSec := int64(s.cfg.MinInterval / time.Second)
	var (
		wg         sync.WaitGroup
		checked    atomic.Int64
		alerts     atomic.Int64
		recoveries atomic.Int64
		seen       = make(map[int64]struct{})
	)

dispatch:
	for _, c := range customers {
		if !c.AlertsEnabled || len(c.Targets) == 0 {
			continue
		}
		interval := int64(c.IntervalSeconds)
		if interval < minSec {
			interval = minSec
		}
		threshold := c.FailureThreshold
		if threshold < 1 {
			threshold = s.cfg.DefaultFailureThreshold
		}
		for _, t := range c.Targets {
			if !t.Enabled || nowTS-t.LastChecked < interval {
				continue
			}
			if _, dup := seen[t.ID]; dup {
				continue
			}
			seen[t.ID] = struct{}{}
			rep.Due++

			if err := s.sem.acquire(ctx); err != nil {
				break dispatch
			}
			wg.Add(1)
			go func(c storage.Customer, t storage.Target) {
				defer wg.Done()
				defer s.sem.release()
				defer func() {
					if r := recover(); r != nil {
						s.log.Error("check panic", logx.Int64("target_id", t.ID), logx.Any("panic", r))
					}
				}()
				act, ok := s.checkTarget(ctx, c.ChatID, threshold, t, nowTS)
				if !ok {
					return
				}
				checked.Add(1)
				switch act {
				case ActionAlert:
					alerts.Add(1)
				case ActionRecover:
					recoveries.Add(1)
				}
			}(c, t)
		}
	}
	wg.Wait()

	rep.Checked = int(checked.Load())
	rep.Alerts = int(alerts.Load())
	rep.Recoveries = int(recoveries.Load())
	if rep.Due > 0 {
		s.log.Debug("tick done",
			logx.Int("customers", rep.Customers), logx.Int("due", rep.Due), logx.Int("checked", rep.Checked),
			logx.Int("alerts", rep.Alerts), logx.Int("recoveries", rep.Recoveries),
			logx.Duration("took", time.Since(start)))
	}
	return rep
}

// checkTarget probes t and applies the outcome. ok is false when shutdown
// interrupted the probe; nothing is recorded in that case.
func (s *Scheduler) checkTarget(ctx context.Context, chatID int64, threshold int, t storage.Target, checkedAt int64) (Action, bool) {
	log := s.log.With(logx.Int64("chat_id", chatID), logx.String("target", t.Name))

	res := s.prober.Check(ctx, t.IP, t.Port, s.cfg.ProbeTimeout)
	if ctx.Err() != nil {
		return ActionNone, false
	}
	if s.obs != nil {
		s.obs.ObserveProbe(res.Success, res.Elapsed)
	}

	status := storage.StatusSuccess
	if !res.Success {
		status = storage.StatusFailure
	}
	if err := s.store.WriteHistory(ctx, storage.HistoryEntry{
		ChatID:       chatID,
		TargetName:   t.Name,
		Status:       status,
		Error:        res.Error,
		ResponseTime: res.ElapsedSeconds(),
	}); err != nil {
		log.Warn("write history failed", logx.Err(err))
	}

	prior := t.ConsecutiveFailures
	failures, err := s.store.UpdateTargetCheckState(ctx, t.ID, checkedAt, !res.Success)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// Removed while the probe was in flight.
		log.Debug("target gone; outcome discarded")
		return ActionNone, true
	case err != nil:
		failures = NextFailures(prior, res.Success)
		log.Warn("update check state failed", logx.Err(err), logx.Int("assumed_failures", failures))
	}

	act := Decide(prior, failures, res.Success, threshold)
	switch act {
	case ActionAlert:
		s.notify(log, chatID, KindAlert, AlertText(t.Name, t.IP, t.Port, failures, res.Error, res.ElapsedSeconds()))
		log.Info("target down", logx.Int("failures", failures), logx.String("error", res.Error))
	case ActionRecover:
		s.notify(log, chatID, KindRecovery, RecoveryText(t.Name, t.IP, t.Port, res.ElapsedSeconds()))
		log.Info("target recovered", logx.Int("prior_failures", prior))
	}
	return act, true
}

func (s *Scheduler) notify(log logx.Logger, chatID int64, kind, text string) {
	if err := s.queue.Enqueue(chatID, text); err != nil {
		log.Warn("enqueue notification failed", logx.String("kind", kind), logx.Err(err))
		return
	}
	if s.obs != nil {
		s.obs.ObserveAlert(kind)
	}
}
