package notifier

import (
	"context"
	"sync"
	"time"
)

// RecipientGate enforces a minimum spacing between successful sends to the
// same recipient.
//
// Reserve computes the wait and claims the slot under one lock, so two workers
// holding items for the same recipient cannot both see a stale last-sent time.
// A claim whose send fails is handed back with Release; only MarkSent moves
// the last-sent time.
type RecipientGate struct {
	spacing time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sent     map[int64]time.Time // last successful send
	reserved map[int64]time.Time // latest claimed slot
}

func NewRecipientGate(spacing time.Duration) *RecipientGate {
	return &RecipientGate{
		spacing:  spacing,
		now:      time.Now,
		sent:     map[int64]time.Time{},
		reserved: map[int64]time.Time{},
	}
}

// Reserve returns how long the caller must wait before sending to recipientID.
func (g *RecipientGate) Reserve(recipientID int64) time.Duration {
	_, d := g.reserve(recipientID)
	return d
}

func (g *RecipientGate) reserve(recipientID int64) (time.Time, time.Duration) {
	if g.spacing <= 0 {
		return time.Time{}, 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	next := now
	if last, ok := g.reserved[recipientID]; ok {
		if earliest := last.Add(g.spacing); earliest.After(now) {
			next = earliest
		}
	}
	g.reserved[recipientID] = next
	return next, next.Sub(now)
}

// Release hands back the slot claimed at slot after a failed send. It is a
// no-op when a later claim exists for the recipient.
func (g *RecipientGate) Release(recipientID int64, slot time.Time) {
	if g.spacing <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.reserved[recipientID]; !ok || !cur.Equal(slot) {
		return
	}
	if last, ok := g.sent[recipientID]; ok {
		g.reserved[recipientID] = last
	} else {
		delete(g.reserved, recipientID)
	}
}

// MarkSent records a successful send.
func (g *RecipientGate) MarkSent(recipientID int64) {
	if g.spacing <= 0 {
		return
	}
	g.mu.Lock()
	now := g.now()
	g.sent[recipientID] = now
	if last, ok := g.reserved[recipientID]; !ok || now.After(last) {
		g.reserved[recipientID] = now
	}
	g.mu.Unlock()
}

// Wait claims a slot for recipientID and sleeps until it opens. The returned
// slot is passed to Release if the send fails. A canceled wait releases its
// claim.
func (g *RecipientGate) Wait(ctx context.Context, recipientID int64) (time.Time, error) {
	slot, d := g.reserve(recipientID)
	if err := sleep(ctx, d); err != nil {
		g.Release(recipientID, slot)
		return slot, err
	}
	return slot, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
