package probe

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"
)

// Result is the outcome of a single TCP reachability check.
// Elapsed is zero on failure.
type Result struct {
	Success bool
	Elapsed time.Duration
	Error   string
}

func (r Result) ElapsedSeconds() float64 { return r.Elapsed.Seconds() }

// Dialer is satisfied by *net.Dialer.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// TCPChecker opens and closes a TCP connection. It has no retry logic.
type TCPChecker struct {
	Dialer Dialer
}

func NewTCPChecker() *TCPChecker {
	return &TCPChecker{Dialer: &net.Dialer{}}
}

// Check dials address:port within timeout. All failures are returned in the
// Result; Check never returns an error or panics on network failures.
func (c *TCPChecker) Check(ctx context.Context, address string, port int, timeout time.Duration) Result {
	d := c.Dialer
	if d == nil {
		d = &net.Dialer{}
	}
	start := time.Now()

	dctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := d.DialContext(dctx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return Result{Error: Classify(err, timeout)}
	}
	_ = conn.Close()
	return Result{Success: true, Elapsed: time.Since(start)}
}

// Classify maps a dial error to a short, human-readable reason that
// distinguishes timeouts, refusals and other OS-level failures. Anything
// else keeps its own text.
func Classify(err error, timeout time.Duration) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case isTimeout(err):
		return "Connection timeout after " + strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64) + "s"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "Connection refused"
	case isOSError(err):
		return "OS error: " + err.Error()
	}
	return err.Error()
}

func isOSError(err error) bool {
	var (
		opErr  *net.OpError
		dnsErr *net.DNSError
		errno  syscall.Errno
	)
	return errors.As(err, &opErr) || errors.As(err, &dnsErr) || errors.As(err, &errno)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
