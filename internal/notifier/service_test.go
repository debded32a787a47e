package notifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	kit "uptimebot/internal/transport"
	logx "uptimebot/pkg/logx"
)

type sendRecord struct {
	recipient int64
	text      string
	at        time.Time
}

// fakeSender records calls and fails according to failFn.
type fakeSender struct {
	mu     sync.Mutex
	calls  []sendRecord
	failFn func(call int, recipient int64) error
}

func (f *fakeSender) SendText(_ context.Context, recipientID int64, text string) error {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, sendRecord{recipient: recipientID, text: text, at: time.Now()})
	fn := f.failFn
	f.mu.Unlock()
	if fn != nil {
		return fn(n, recipientID)
	}
	return nil
}

func (f *fakeSender) snapshot() []sendRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendRecord(nil), f.calls...)
}

func fastConfig() Config {
	return Config{
		Workers:          2,
		RecipientSpacing: 0,
		MaxAttempts:      5,
		BackoffBase:      time.Millisecond,
		BackoffMax:       5 * time.Millisecond,
	}
}

func newTestQueue(cfg Config, s kit.Sender) *Queue {
	q := New(cfg, s, logx.Nop())
	q.jitter = func() time.Duration { return 0 }
	return q
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func stopQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestDistinctRecipientsAllSent(t *testing.T) {
	t.Parallel()
	const n = 8
	s := &fakeSender{}
	cfg := fastConfig()
	q := newTestQueue(cfg, s)
	if err := q.Start(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	defer stopQueue(t, q)

	for i := 0; i < n; i++ {
		if err := q.Enqueue(int64(100+i), "hello"); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, 2*time.Second, func() bool { return q.Stats().Sent == n })
	if st := q.Stats(); st.Failed != 0 || st.Dropped != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if d := q.Depth(); d != 0 {
		t.Fatalf("depth = %d", d)
	}
}

func TestAlwaysFailingDropsAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	s := &fakeSender{failFn: func(int, int64) error { return errors.New("unavailable") }}
	cfg := fastConfig()
	cfg.Workers = 1
	q := newTestQueue(cfg, s)
	if err := q.Start(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	defer stopQueue(t, q)

	if err := q.Enqueue(7, "boom"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return q.Stats().Dropped == 1 })

	st := q.Stats()
	if st.Sent != 0 || st.Failed != uint64(cfg.MaxAttempts) {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if got := len(s.snapshot()); got != cfg.MaxAttempts {
		t.Fatalf("attempts = %d, want %d", got, cfg.MaxAttempts)
	}
}

func TestTransientFailureRecovers(t *testing.T) {
	t.Parallel()
	s := &fakeSender{failFn: func(call int, _ int64) error {
		if call < 2 {
			return errors.New("flaky")
		}
		return nil
	}}
	q := newTestQueue(fastConfig(), s)
	if err := q.Start(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	defer stopQueue(t, q)

	_ = q.Enqueue(1, "x")
	waitFor(t, 2*time.Second, func() bool { return q.Stats().Sent == 1 })
	if st := q.Stats(); st.Failed != 2 || st.Dropped != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestRecipientSpacing(t *testing.T) {
	t.Parallel()
	const spacing = 150 * time.Millisecond
	s := &fakeSender{}
	cfg := fastConfig()
	cfg.RecipientSpacing = spacing
	cfg.Workers = 3
	q := newTestQueue(cfg, s)
	if err := q.Start(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	defer stopQueue(t, q)

	_ = q.Enqueue(5, "first")
	_ = q.Enqueue(5, "second")
	_ = q.Enqueue(6, "other")
	waitFor(t, 2*time.Second, func() bool { return q.Stats().Sent == 3 })

	var same []time.Time
	for _, c := range s.snapshot() {
		if c.recipient == 5 {
			same = append(same, c.at)
		}
	}
	if len(same) != 2 {
		t.Fatalf("sends to recipient 5 = %d", len(same))
	}
	gap := same[1].Sub(same[0])
	if gap < 0 {
		gap = -gap
	}
	// allow a little scheduling slack
	if gap < spacing-10*time.Millisecond {
		t.Fatalf("sends %s apart, want >= %s", gap, spacing)
	}
}

func TestFailedSendDoesNotConsumeSpacing(t *testing.T) {
	t.Parallel()
	const spacing = 300 * time.Millisecond
	s := &fakeSender{failFn: func(call int, _ int64) error {
		if call == 0 {
			return errors.New("flaky")
		}
		return nil
	}}
	cfg := fastConfig()
	cfg.RecipientSpacing = spacing
	q := newTestQueue(cfg, s)
	if err := q.Start(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	defer stopQueue(t, q)

	_ = q.Enqueue(5, "x")
	waitFor(t, 2*time.Second, func() bool { return q.Stats().Sent == 1 })
	calls := s.snapshot()
	if len(calls) != 2 {
		t.Fatalf("calls = %d", len(calls))
	}
	if gap := calls[1].at.Sub(calls[0].at); gap >= spacing/2 {
		t.Fatalf("retry waited %s; a failed send must not count as sent", gap)
	}
}

func TestPartialDeliveryRetriesOnlyTheRest(t *testing.T) {
	t.Parallel()
	s := &fakeSender{failFn: func(call int, _ int64) error {
		if call == 0 {
			return kit.Partial(errors.New("bad gateway"), len("part one\n"))
		}
		return nil
	}}
	q := newTestQueue(fastConfig(), s)
	if err := q.Start(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	defer stopQueue(t, q)

	_ = q.Enqueue(4, "part one\npart two")
	waitFor(t, 2*time.Second, func() bool { return q.Stats().Sent == 1 })
	calls := s.snapshot()
	if len(calls) != 2 || calls[1].text != "part two" {
		t.Fatalf("calls = %+v", calls)
	}
}

type panicSender struct{ calls atomic.Int64 }

func (p *panicSender) SendText(context.Context, int64, string) error {
	p.calls.Add(1)
	panic("transport exploded")
}

func TestSenderPanicCountsAsFailure(t *testing.T) {
	t.Parallel()
	s := &panicSender{}
	cfg := fastConfig()
	q := newTestQueue(cfg, s)
	if err := q.Start(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	if err := q.Enqueue(3, "boom"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return q.Stats().Dropped == 1 })
	stopQueue(t, q)

	st := q.Stats()
	if st.Sent != 0 || st.Failed != uint64(cfg.MaxAttempts) || st.Dropped != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if got := s.calls.Load(); got != int64(cfg.MaxAttempts) {
		t.Fatalf("calls = %d, want %d", got, cfg.MaxAttempts)
	}
	if d := q.Depth(); d != 0 {
		t.Fatalf("depth = %d", d)
	}
}

func TestRetryAfterIsHonored(t *testing.T) {
	t.Parallel()
	const suggested = 120 * time.Millisecond
	s := &fakeSender{failFn: func(call int, _ int64) error {
		if call == 0 {
			return kit.RetryAfter(errors.New("429"), suggested)
		}
		return nil
	}}
	q := newTestQueue(fastConfig(), s)
	if err := q.Start(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	defer stopQueue(t, q)

	_ = q.Enqueue(9, "x")
	waitFor(t, 2*time.Second, func() bool { return q.Stats().Sent == 1 })
	calls := s.snapshot()
	if len(calls) != 2 {
		t.Fatalf("calls = %d", len(calls))
	}
	if gap := calls[1].at.Sub(calls[0].at); gap < suggested-10*time.Millisecond {
		t.Fatalf("retried after %s, want >= %s", gap, suggested)
	}
}

func TestStopInterruptsBackoffAndCountsPending(t *testing.T) {
	t.Parallel()
	s := &fakeSender{failFn: func(int, int64) error { return errors.New("down") }}
	cfg := fastConfig()
	cfg.Workers = 1
	cfg.BackoffBase = time.Hour
	cfg.BackoffMax = time.Hour
	q := newTestQueue(cfg, s)
	if err := q.Start(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	_ = q.Enqueue(1, "stuck in backoff")
	waitFor(t, time.Second, func() bool { return q.Stats().Failed == 1 })
	_ = q.Enqueue(2, "never attempted")

	start := time.Now()
	stopQueue(t, q)
	if time.Since(start) > time.Second {
		t.Fatal("stop blocked on backoff sleep")
	}
	if st := q.Stats(); st.Dropped != 1 || st.Sent != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if err := q.Enqueue(3, "late"); !errors.Is(err, ErrStopped) {
		t.Fatalf("enqueue after stop: %v", err)
	}
}

func TestEnqueueBeforeStartIsDelivered(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	q := newTestQueue(fastConfig(), s)
	_ = q.Enqueue(1, "a")
	_ = q.Enqueue(1, "b")
	if q.Depth() != 2 {
		t.Fatalf("depth = %d", q.Depth())
	}
	if err := q.Start(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	defer stopQueue(t, q)
	waitFor(t, time.Second, func() bool { return q.Stats().Sent == 2 })

	// A single worker preserves FIFO order.
	calls := s.snapshot()
	if calls[0].text != "a" || calls[1].text != "b" {
		t.Fatalf("order = %q, %q", calls[0].text, calls[1].text)
	}
}

type countingObserver struct{ sent, failed, dropped atomic.Int64 }

func (o *countingObserver) ObserveNotification(outcome string) {
	switch Outcome(outcome) {
	case OutcomeSent:
		o.sent.Add(1)
	case OutcomeFailed:
		o.failed.Add(1)
	case OutcomeDropped:
		o.dropped.Add(1)
	}
}

func TestObserverSeesEveryIncrement(t *testing.T) {
	t.Parallel()
	s := &fakeSender{failFn: func(call int, _ int64) error {
		if call == 0 {
			return errors.New("once")
		}
		return nil
	}}
	q := newTestQueue(fastConfig(), s)
	obs := &countingObserver{}
	q.SetObserver(obs)
	if err := q.Start(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	defer stopQueue(t, q)
	_ = q.Enqueue(1, "x")
	waitFor(t, time.Second, func() bool { return obs.sent.Load() == 1 })
	if obs.failed.Load() != 1 || obs.dropped.Load() != 0 {
		t.Fatalf("observer failed=%d dropped=%d", obs.failed.Load(), obs.dropped.Load())
	}
}
