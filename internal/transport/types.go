package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Message is an incoming chat message.
type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

// Sender delivers plain text to a recipient (a Telegram chat id).
type Sender interface {
	SendText(ctx context.Context, recipientID int64, text string) error
}

// RetryAfterError is implemented by errors that carry a server-requested delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	delay time.Duration
}

func (e retryAfterError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("retry after %s", e.delay)
	}
	return e.err.Error()
}

func (e retryAfterError) Unwrap() error { return e.err }

func (e retryAfterError) RetryAfter() time.Duration { return e.delay }

// RetryAfter wraps err with a server-suggested retry delay.
func RetryAfter(err error, d time.Duration) error {
	if d < 0 {
		d = 0
	}
	return retryAfterError{err: err, delay: d}
}

// RetryAfterOf extracts the suggested delay from err, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var ra RetryAfterError
	if errors.As(err, &ra) {
		return ra.RetryAfter(), true
	}
	return 0, false
}

type partialError struct {
	err       error
	delivered int
}

func (e partialError) Error() string { return e.err.Error() }

func (e partialError) Unwrap() error { return e.err }

// Partial wraps err with the number of leading bytes of the text that were
// delivered before it occurred. A zero count returns err unchanged.
func Partial(err error, delivered int) error {
	if err == nil || delivered <= 0 {
		return err
	}
	return partialError{err: err, delivered: delivered}
}

// DeliveredOf reports how many leading bytes of the text err says were
// already delivered.
func DeliveredOf(err error) (int, bool) {
	var pe partialError
	if errors.As(err, &pe) {
		return pe.delivered, true
	}
	return 0, false
}
