package commands

import (
	"context"
	"time"

	"uptimebot/internal/notifier"
	"uptimebot/internal/storage"
	kit "uptimebot/internal/transport"
)

// Store is the persistence used by the commands. *storage.Store implements it.
type Store interface {
	IsSubscribed(ctx context.Context, chatID int64) (bool, error)
	AddSubscription(ctx context.Context, chatID int64) error
	RemoveSubscription(ctx context.Context, chatID int64) (bool, error)
	GetCustomerByChat(ctx context.Context, chatID int64) (storage.Customer, error)
	EnsureCustomer(ctx context.Context, chatID int64) (storage.Customer, error)
	UpdateCustomerInterval(ctx context.Context, chatID int64, seconds int) (int, error)
	SetAlertsEnabled(ctx context.Context, chatID int64, enabled bool) error
	UpsertTarget(ctx context.Context, customerID int64, name, ip string, port int) (storage.Target, error)
	RemoveTarget(ctx context.Context, customerID int64, name string) (bool, error)
	RecentHistory(ctx context.Context, chatID int64, limit int) ([]storage.HistoryEntry, error)
	Counts(ctx context.Context) (storage.Counts, error)
	Audit(ctx context.Context, actorID int64, action, details string) error
}

// QueueStats is satisfied by *notifier.Queue.
type QueueStats interface {
	Stats() notifier.Stats
	Depth() int
}

type Deps struct {
	Store  Store
	Sender kit.Sender
	Queue  QueueStats
	// IsAdmin is consulted on every admin command so reloads apply at once.
	IsAdmin func(userID int64) bool
	// MinInterval is the smallest accepted /setinterval value.
	MinInterval func() time.Duration
	Timeout     time.Duration
	// Location formats history timestamps; defaults to time.Local.
	Location *time.Location
}

func (d Deps) withDefaults() Deps {
	if d.IsAdmin == nil {
		d.IsAdmin = func(int64) bool { return false }
	}
	if d.MinInterval == nil {
		d.MinInterval = func() time.Duration { return 20 * time.Second }
	}
	if d.Timeout <= 0 {
		d.Timeout = 15 * time.Second
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	return d
}
