package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	rtsup "uptimebot/internal/runtime/supervisor"
	kit "uptimebot/internal/transport"
	logx "uptimebot/pkg/logx"
)

// Queue is the notification delivery queue. It is safe for concurrent use.
type Queue struct {
	cfg     Config
	log     logx.Logger
	sender  kit.Sender
	gate    *RecipientGate
	limiter *rate.Limiter
	stats   *counters

	// jitter returns a value in [0, maxJitter). Replaced in tests.
	rndMu  sync.Mutex
	rnd    *rand.Rand
	jitter func() time.Duration

	mu      sync.Mutex
	pending []*Item
	ready   chan struct{} // cap 1; coalesced wakeups
	sup     *rtsup.Supervisor
	stopped bool
}

func New(cfg Config, sender kit.Sender, log logx.Logger) *Queue {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	q := &Queue{
		cfg:    cfg,
		log:    log,
		sender: sender,
		gate:   NewRecipientGate(cfg.RecipientSpacing),
		stats:  &counters{},
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		ready:  make(chan struct{}, 1),
	}
	if cfg.RatePerSec > 0 {
		q.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	q.jitter = q.randomJitter
	return q
}

// SetObserver installs a metrics hook. Call before Start.
func (q *Queue) SetObserver(o Observer) { q.stats.obs = o }

func (q *Queue) randomJitter() time.Duration {
	q.rndMu.Lock()
	defer q.rndMu.Unlock()
	return time.Duration(q.rnd.Int63n(int64(maxJitter)))
}

// Enqueue appends a message to the tail of the FIFO. It never blocks.
// The only error is ErrStopped, after Stop.
func (q *Queue) Enqueue(recipientID int64, text string) error {
	it := &Item{ID: uuid.NewString(), RecipientID: recipientID, Text: text, EnqueuedAt: time.Now()}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrStopped
	}
	q.pending = append(q.pending, it)
	q.mu.Unlock()

	q.wake()
	q.log.Debug("notification queued", logx.String("id", it.ID), logx.Int64("recipient", recipientID))
	return nil
}

func (q *Queue) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop removes the head item, or returns nil when the FIFO is empty.
func (q *Queue) pop() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	it := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	if len(q.pending) > 0 {
		// Another idle worker may pick up the rest.
		q.wake()
	}
	return it
}

// Depth returns the number of pending items (approximate under concurrency).
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) Stats() Stats { return q.stats.snapshot() }

// Start launches workers consumers. workers <= 0 uses Config.Workers.
// Start is idempotent.
func (q *Queue) Start(ctx context.Context, workers int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return ErrStopped
	}
	if q.sup != nil {
		return nil
	}
	if workers <= 0 {
		workers = q.cfg.Workers
	}
	q.sup = rtsup.New(ctx, rtsup.WithLogger(q.log))
	for i := 0; i < workers; i++ {
		q.sup.GoRestart(fmt.Sprintf("worker.%d", i), q.workerLoop,
			rtsup.WithRestartBackoff(100*time.Millisecond, 5*time.Second))
	}
	q.log.Info("notification queue started", logx.Int("workers", workers), logx.Int("pending", len(q.pending)))
	return nil
}

// Stop cancels all workers and waits for them to exit, or for ctx to end.
// Pending items are counted as dropped.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	sup := q.sup
	q.mu.Unlock()

	var err error
	if sup != nil {
		if werr := sup.Stop(ctx); werr != nil {
			if errors.Is(werr, context.DeadlineExceeded) || errors.Is(werr, context.Canceled) {
				err = werr
			} else {
				q.log.Warn("notification worker failed", logx.Err(werr))
			}
		}
	}

	q.mu.Lock()
	left := q.pending
	q.pending = nil
	q.mu.Unlock()
	for range left {
		q.stats.inc(OutcomeDropped)
	}
	if len(left) > 0 {
		q.log.Warn("pending notifications discarded on shutdown", logx.Int("count", len(left)))
	}
	st := q.Stats()
	q.log.Info("notification queue stopped",
		logx.Uint64("sent", st.Sent), logx.Uint64("failed", st.Failed), logx.Uint64("dropped", st.Dropped))
	return err
}

func (q *Queue) workerLoop(ctx context.Context) error {
	for {
		it := q.pop()
		if it == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-q.ready:
				continue
			}
		}
		q.deliver(ctx, it)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// deliver runs the per-item send/backoff loop until the item is sent, dropped,
// or ctx is canceled.
func (q *Queue) deliver(ctx context.Context, it *Item) {
	log := q.log.With(logx.String("id", it.ID), logx.Int64("recipient", it.RecipientID))
	for {
		slot, err := q.gate.Wait(ctx, it.RecipientID)
		if err != nil {
			return
		}
		if q.limiter != nil {
			if err := q.limiter.Wait(ctx); err != nil {
				q.gate.Release(it.RecipientID, slot)
				return
			}
		}

		if err = q.send(ctx, it); err == nil {
			q.gate.MarkSent(it.RecipientID)
			q.stats.inc(OutcomeSent)
			log.Debug("notification sent", logx.Int("attempts", it.Attempts+1), logx.Duration("queued_for", time.Since(it.EnqueuedAt)))
			return
		}
		q.gate.Release(it.RecipientID, slot)
		if ctx.Err() != nil {
			// Shutdown interrupted the send; not counted.
			return
		}

		if n, ok := kit.DeliveredOf(err); ok && n > 0 && n < len(it.Text) {
			// Only the undelivered tail is retried.
			it.Text = it.Text[n:]
		}
		it.Attempts++
		q.stats.inc(OutcomeFailed)
		suggested, _ := kit.RetryAfterOf(err)
		delay := retryDelay(it.Attempts, q.cfg.BackoffBase, q.cfg.BackoffMax, q.jitter(), suggested)

		if it.Attempts >= q.cfg.MaxAttempts {
			q.stats.inc(OutcomeDropped)
			log.Warn("notification dropped", logx.Int("attempts", it.Attempts), logx.Err(err))
			return
		}
		log.Debug("notification send failed; retrying",
			logx.Int("attempt", it.Attempts), logx.Duration("backoff", delay), logx.Err(err))
		if sleep(ctx, delay) != nil {
			return
		}
	}
}

// send runs one transport call. A panicking sender counts as a failed attempt
// so the item still ends up sent or dropped.
func (q *Queue) send(ctx context.Context, it *Item) (err error) {
	callCtx, cancel := context.WithTimeout(ctx, q.cfg.SendTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("sender panic", logx.String("id", it.ID), logx.Any("panic", r))
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return q.sender.SendText(callCtx, it.RecipientID, it.Text)
}
