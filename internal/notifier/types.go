package notifier

import (
	"errors"
	"sync/atomic"
	"time"
)

var ErrStopped = errors.New("notifier stopped")

// Config controls the delivery queue.
type Config struct {
	Workers          int
	RecipientSpacing time.Duration
	MaxAttempts      int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	// RatePerSec is an optional global send limit across all recipients (0 disables).
	RatePerSec int
	// SendTimeout bounds a single transport call.
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.RecipientSpacing < 0 {
		c.RecipientSpacing = 0
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 60 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

// Item is a queued outbound message. It is owned by the queue from Enqueue
// until it is sent or dropped.
type Item struct {
	ID          string
	RecipientID int64
	Text        string
	Attempts    int
	EnqueuedAt  time.Time
}

// Stats is a snapshot of the process-wide delivery counters.
type Stats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

// Outcome labels a counter increment for observers.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeFailed  Outcome = "failed"
	OutcomeDropped Outcome = "dropped"
)

// Observer receives every counter increment (metrics).
type Observer interface {
	ObserveNotification(outcome string)
}

// counters are monotonic for the life of the process.
type counters struct {
	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64

	obs Observer
}

func (c *counters) inc(o Outcome) {
	switch o {
	case OutcomeSent:
		c.sent.Add(1)
	case OutcomeFailed:
		c.failed.Add(1)
	case OutcomeDropped:
		c.dropped.Add(1)
	}
	if c.obs != nil {
		c.obs.ObserveNotification(string(o))
	}
}

func (c *counters) snapshot() Stats {
	return Stats{Sent: c.sent.Load(), Failed: c.failed.Load(), Dropped: c.dropped.Load()}
}
