package monitor

import "context"

// semaphore is a channel-based counting semaphore pre-filled with tokens.
type semaphore struct {
	ch chan struct{}
}

func newSemaphore(limit int) *semaphore {
	if limit <= 0 {
		limit = 1
	}
	s := &semaphore{ch: make(chan struct{}, limit)}
	for i := 0; i < limit; i++ {
		s.ch <- struct{}{}
	}
	return s
}

func (s *semaphore) acquire(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release never blocks.
func (s *semaphore) release() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func (s *semaphore) available() int { return len(s.ch) }
