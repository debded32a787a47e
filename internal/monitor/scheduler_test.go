package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"uptimebot/internal/probe"
	"uptimebot/internal/storage"
	logx "uptimebot/pkg/logx"
)

type fakeStore struct {
	mu        sync.Mutex
	subs      []int64
	customers []storage.Customer
	ensured   []int64
	history   []storage.HistoryEntry
	updates   map[int64]int
	updateErr error
}

func (f *fakeStore) ListSubscriptions(context.Context) ([]int64, error) {
	return append([]int64(nil), f.subs...), nil
}

func (f *fakeStore) EnsureCustomer(_ context.Context, chatID int64) (storage.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, chatID)
	return storage.Customer{ChatID: chatID}, nil
}

func (f *fakeStore) ListCustomers(context.Context) ([]storage.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]storage.Customer, len(f.customers))
	for i, c := range f.customers {
		c.Targets = append([]storage.Target(nil), c.Targets...)
		out[i] = c
	}
	return out, nil
}

func (f *fakeStore) WriteHistory(_ context.Context, e storage.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, e)
	return nil
}

// UpdateTargetCheckState mirrors the change into customers so consecutive
// ticks see persisted state.
func (f *fakeStore) UpdateTargetCheckState(_ context.Context, id, ts int64, failed bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updates == nil {
		f.updates = map[int64]int{}
	}
	f.updates[id]++
	if f.updateErr != nil {
		return 0, f.updateErr
	}
	for ci := range f.customers {
		for ti := range f.customers[ci].Targets {
			t := &f.customers[ci].Targets[ti]
			if t.ID != id {
				continue
			}
			t.LastChecked = ts
			t.ConsecutiveFailures = NextFailures(t.ConsecutiveFailures, !failed)
			return t.ConsecutiveFailures, nil
		}
	}
	return 0, storage.ErrNotFound
}

type fakeProber struct {
	mu       sync.Mutex
	results  map[string]probe.Result // by address
	delay    time.Duration
	inFlight atomic.Int64
	peak     atomic.Int64
	calls    atomic.Int64
}

func (p *fakeProber) Check(ctx context.Context, addr string, _ int, _ time.Duration) probe.Result {
	p.calls.Add(1)
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			break
		}
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return probe.Result{Error: "canceled"}
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.results[addr]; ok {
		return r
	}
	return probe.Result{Success: true, Elapsed: 5 * time.Millisecond}
}

func (p *fakeProber) set(addr string, r probe.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.results == nil {
		p.results = map[string]probe.Result{}
	}
	p.results[addr] = r
}

type sent struct {
	to   int64
	text string
}

type fakeQueue struct {
	mu   sync.Mutex
	msgs []sent
}

func (q *fakeQueue) Enqueue(to int64, text string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, sent{to, text})
	return nil
}

func (q *fakeQueue) all() []sent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]sent(nil), q.msgs...)
}

var down = probe.Result{Error: "Connection refused"}

func newTestScheduler(st *fakeStore, p *fakeProber, q *fakeQueue, now time.Time) *Scheduler {
	s := New(Config{MinInterval: 20 * time.Second, MaxConcurrent: 4}, st, p, q, logx.Nop())
	s.now = func() time.Time { return now }
	return s
}

func customer(chatID int64, interval int, targets ...storage.Target) storage.Customer {
	return storage.Customer{ID: chatID, ChatID: chatID, AlertsEnabled: true, IntervalSeconds: interval, FailureThreshold: 3, Targets: targets}
}

func target(id int64, addr string, lastChecked int64) storage.Target {
	return storage.Target{ID: id, Name: addr, IP: addr, Port: 80, Enabled: true, LastChecked: lastChecked}
}

func TestTickEnsuresCustomersForSubscriptions(t *testing.T) {
	t.Parallel()
	st := &fakeStore{subs: []int64{1, 2}}
	s := newTestScheduler(st, &fakeProber{}, &fakeQueue{}, time.Unix(1000, 0))
	rep := s.Tick(context.Background())
	if rep.Err != nil {
		t.Fatal(rep.Err)
	}
	if len(st.ensured) != 2 {
		t.Fatalf("ensured = %v", st.ensured)
	}
}

func TestTickDueDecision(t *testing.T) {
	t.Parallel()
	now := int64(10_000)
	st := &fakeStore{customers: []storage.Customer{
		customer(1, 60,
			target(1, "never", 0),
			target(2, "fresh", now-30),
			target(3, "stale", now-60),
		),
		// interval below the minimum is raised to 20s
		customer(2, 5,
			target(4, "min-floor-not-due", now-10),
			target(5, "min-floor-due", now-20),
		),
	}}
	p := &fakeProber{}
	s := newTestScheduler(st, p, &fakeQueue{}, time.Unix(now, 0))
	rep := s.Tick(context.Background())

	if rep.Due != 3 || rep.Checked != 3 {
		t.Fatalf("report = %+v", rep)
	}
	for _, id := range []int64{1, 3, 5} {
		if st.updates[id] != 1 {
			t.Fatalf("target %d checked %d times", id, st.updates[id])
		}
	}
	for _, id := range []int64{2, 4} {
		if st.updates[id] != 0 {
			t.Fatalf("target %d should not be due", id)
		}
	}
}

func TestTickSkipsDisabled(t *testing.T) {
	t.Parallel()
	off := customer(1, 60, target(1, "a", 0))
	off.AlertsEnabled = false
	disabled := target(2, "b", 0)
	disabled.Enabled = false
	st := &fakeStore{customers: []storage.Customer{off, customer(2, 60, disabled), customer(3, 60)}}
	p := &fakeProber{}
	s := newTestScheduler(st, p, &fakeQueue{}, time.Unix(1000, 0))
	rep := s.Tick(context.Background())
	if rep.Due != 0 || p.calls.Load() != 0 {
		t.Fatalf("report = %+v calls=%d", rep, p.calls.Load())
	}
	if st.customers[0].Targets[0].LastChecked != 0 {
		t.Fatal("disabled owner must not touch last checked")
	}
}

func TestTickDispatchesTargetOnce(t *testing.T) {
	t.Parallel()
	dup := target(9, "dup", 0)
	c := customer(1, 60, dup, dup)
	st := &fakeStore{customers: []storage.Customer{c}}
	p := &fakeProber{}
	s := newTestScheduler(st, p, &fakeQueue{}, time.Unix(1000, 0))
	s.Tick(context.Background())
	if p.calls.Load() != 1 {
		t.Fatalf("probe calls = %d", p.calls.Load())
	}
}

func TestTickBoundsConcurrency(t *testing.T) {
	t.Parallel()
	// 20 targets spread over 5 owners share one bound of 4.
	st := &fakeStore{}
	for c := int64(1); c <= 5; c++ {
		var targets []storage.Target
		for i := int64(1); i <= 4; i++ {
			targets = append(targets, target(c*10+i, "t", 0))
		}
		st.customers = append(st.customers, customer(c, 60, targets...))
	}
	p := &fakeProber{delay: 20 * time.Millisecond}
	s := newTestScheduler(st, p, &fakeQueue{}, time.Unix(1000, 0))
	rep := s.Tick(context.Background())
	if rep.Checked != 20 {
		t.Fatalf("checked = %d", rep.Checked)
	}
	if peak := p.peak.Load(); peak > 4 {
		t.Fatalf("peak concurrency %d > 4", peak)
	}
	if s.sem.available() != 4 {
		t.Fatalf("semaphore leaked: %d", s.sem.available())
	}
}

func TestAlertAndRecoveryAcrossTicks(t *testing.T) {
	t.Parallel()
	st := &fakeStore{customers: []storage.Customer{customer(7, 60, target(1, "10.0.0.1", 0))}}
	p := &fakeProber{}
	p.set("10.0.0.1", down)
	q := &fakeQueue{}
	now := time.Unix(100_000, 0)
	s := New(Config{MinInterval: 20 * time.Second}, st, p, q, logx.Nop())
	s.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		s.Tick(context.Background())
		now = now.Add(time.Minute)
	}
	msgs := q.all()
	if len(msgs) != 2 {
		t.Fatalf("alerts = %d, want 2 (failures 3 and 4)", len(msgs))
	}
	if msgs[0].to != 7 || msgs[0].text != AlertText("10.0.0.1", "10.0.0.1", 80, 3, "Connection refused", 0) {
		t.Fatalf("first alert = %+v", msgs[0])
	}

	p.set("10.0.0.1", probe.Result{Success: true, Elapsed: 10 * time.Millisecond})
	rep := s.Tick(context.Background())
	if rep.Recoveries != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if got := q.all()[2].text; got != RecoveryText("10.0.0.1", "10.0.0.1", 80, 0.01) {
		t.Fatalf("recovery = %q", got)
	}
	if len(st.history) != 5 || st.history[0].Status != storage.StatusFailure || st.history[4].Status != storage.StatusSuccess {
		t.Fatalf("history = %+v", st.history)
	}
}

func TestUpdateFailureFallsBackToPriorPlusOne(t *testing.T) {
	t.Parallel()
	tg := target(1, "x", 0)
	tg.ConsecutiveFailures = 2
	st := &fakeStore{customers: []storage.Customer{customer(1, 60, tg)}, updateErr: errors.New("db locked")}
	p := &fakeProber{}
	p.set("x", down)
	q := &fakeQueue{}
	s := newTestScheduler(st, p, q, time.Unix(1000, 0))
	rep := s.Tick(context.Background())
	if rep.Alerts != 1 || len(q.all()) != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestDeletedTargetIsNotNotified(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		prior  int
		result probe.Result
	}{
		{"failure past threshold", 5, down},
		{"success after failures", 2, probe.Result{Success: true}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tg := target(1, "x", 0)
			tg.ConsecutiveFailures = tt.prior
			st := &fakeStore{customers: []storage.Customer{customer(1, 60, tg)}, updateErr: storage.ErrNotFound}
			p := &fakeProber{}
			p.set("x", tt.result)
			q := &fakeQueue{}
			rep := newTestScheduler(st, p, q, time.Unix(1000, 0)).Tick(context.Background())
			if rep.Alerts != 0 || rep.Recoveries != 0 || len(q.all()) != 0 {
				t.Fatalf("report = %+v, queued = %d", rep, len(q.all()))
			}
		})
	}
}

func TestCanceledProbeRecordsNothing(t *testing.T) {
	t.Parallel()
	st := &fakeStore{customers: []storage.Customer{customer(1, 60, target(1, "x", 0))}}
	p := &fakeProber{delay: time.Second}
	s := newTestScheduler(st, p, &fakeQueue{}, time.Unix(1000, 0))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	rep := s.Tick(ctx)
	if rep.Checked != 0 || len(st.history) != 0 || len(st.updates) != 0 {
		t.Fatalf("report = %+v history=%d", rep, len(st.history))
	}
}

type panicStore struct{ fakeStore }

func (*panicStore) ListCustomers(context.Context) ([]storage.Customer, error) { panic("boom") }

func TestTickRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &panicStore{}, &fakeProber{}, &fakeQueue{}, logx.Nop())
	rep := s.Tick(context.Background())
	if rep.Err == nil {
		t.Fatal("expected error from panic")
	}
	if s.Ticks() != 1 {
		t.Fatalf("ticks = %d", s.Ticks())
	}
}

func TestStartStopInterruptsIdleWait(t *testing.T) {
	t.Parallel()
	st := &fakeStore{}
	s := New(Config{Tick: time.Hour}, st, &fakeProber{}, &fakeQueue{}, logx.Nop())
	s.Start(context.Background())
	deadline := time.Now().Add(time.Second)
	for s.Ticks() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Ticks() == 0 {
		t.Fatal("first tick did not run")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	if err := s.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("stop waited on idle delay")
	}
}
