package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrClosed   = errors.New("storage: closed")
)

// Check statuses written to history.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Options tune the store. Zero values fall back to package defaults.
type Options struct {
	BusyTimeout time.Duration // sqlite only

	// MinIntervalSeconds is the floor applied to customer intervals on write.
	MinIntervalSeconds int
	// Defaults for customers created by EnsureCustomer.
	DefaultIntervalSeconds  int
	DefaultFailureThreshold int
}

const (
	defaultBusyTimeout         = 5 * time.Second
	defaultMinInterval         = 20
	defaultCustomerInterval    = 60
	defaultFailureThreshold    = 3
	defaultEscalationThreshold = 5
)

func (o Options) withDefaults() Options {
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = defaultBusyTimeout
	}
	if o.MinIntervalSeconds <= 0 {
		o.MinIntervalSeconds = defaultMinInterval
	}
	if o.DefaultIntervalSeconds <= 0 {
		o.DefaultIntervalSeconds = defaultCustomerInterval
	}
	if o.DefaultIntervalSeconds < o.MinIntervalSeconds {
		o.DefaultIntervalSeconds = o.MinIntervalSeconds
	}
	if o.DefaultFailureThreshold <= 0 {
		o.DefaultFailureThreshold = defaultFailureThreshold
	}
	return o
}

type Subscription struct {
	ChatID    int64
	CreatedAt time.Time
}

// Customer is the monitoring configuration owned by one chat.
type Customer struct {
	ID                  int64
	ChatID              int64
	AlertsEnabled       bool
	IntervalSeconds     int
	FailureThreshold    int
	EscalationThreshold int // stored, not used by the scheduler
	CreatedAt           time.Time
	UpdatedAt           time.Time

	Targets []Target
}

// Target is a TCP endpoint. LastChecked is unix seconds; 0 means never.
type Target struct {
	ID                  int64
	CustomerID          int64
	Name                string
	IP                  string
	Port                int
	Enabled             bool
	LastChecked         int64
	ConsecutiveFailures int
}

// HistoryEntry is one probe result. ResponseTime is in seconds.
type HistoryEntry struct {
	ID           int64
	At           time.Time
	ChatID       int64
	TargetName   string
	Status       string
	Error        string
	ResponseTime float64
}

// AuditEntry records an operator or system action. ActorID 0 is the system.
type AuditEntry struct {
	ID        int64
	ActorID   int64
	Action    string
	Details   string
	CreatedAt time.Time
}

// Counts is a cheap summary for /stats.
type Counts struct {
	Subscriptions int
	Customers     int
	Targets       int
}
