package monitor

import (
	"context"
	"time"

	"uptimebot/internal/probe"
	"uptimebot/internal/storage"
)

// Store is the persistence the scheduler needs. *storage.Store implements it.
type Store interface {
	ListSubscriptions(ctx context.Context) ([]int64, error)
	EnsureCustomer(ctx context.Context, chatID int64) (storage.Customer, error)
	ListCustomers(ctx context.Context) ([]storage.Customer, error)
	WriteHistory(ctx context.Context, e storage.HistoryEntry) error
	// UpdateTargetCheckState returns the failure count after the update.
	UpdateTargetCheckState(ctx context.Context, targetID, checkedAt int64, failed bool) (int, error)
}

// Prober checks one endpoint. *probe.TCPChecker implements it.
type Prober interface {
	Check(ctx context.Context, address string, port int, timeout time.Duration) probe.Result
}

// Enqueuer accepts outgoing notifications. *notifier.Queue implements it.
type Enqueuer interface {
	Enqueue(recipientID int64, text string) error
}

// Observer receives per-probe and per-notification events, typically metrics.
type Observer interface {
	ObserveProbe(success bool, elapsed time.Duration)
	ObserveAlert(kind string)
}

// Alert kinds passed to Observer.ObserveAlert.
const (
	KindAlert    = "alert"
	KindRecovery = "recovery"
)

type Config struct {
	MinInterval             time.Duration
	ProbeTimeout            time.Duration
	Tick                    time.Duration
	MaxConcurrent           int
	DefaultFailureThreshold int
}

func (c Config) withDefaults() Config {
	if c.MinInterval <= 0 {
		c.MinInterval = 20 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10 * time.Second
	}
	if c.Tick <= 0 {
		c.Tick = 5 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 50
	}
	if c.DefaultFailureThreshold <= 0 {
		c.DefaultFailureThreshold = 3
	}
	return c
}

// TickReport summarizes one pass over all customers.
type TickReport struct {
	Customers  int
	Due        int
	Checked    int
	Alerts     int
	Recoveries int
	Err        error
}
