package benchmark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	logx "uptimebot/pkg/logx"
)

var (
	ErrTargetNotFound = errors.New("benchmark: target not found in response")
	ErrTimeout        = errors.New("benchmark: request timeout")
)

const (
	AuditAction    = "cpu_benchmark_alert"
	defaultTimeout = 10 * time.Second
	maxBody        = 4 << 20
)

type Config struct {
	URL       string
	Target    string
	Threshold float64 // seconds
	Timeout   time.Duration
}

// Enqueuer accepts outgoing notifications.
type Enqueuer interface {
	Enqueue(recipientID int64, text string) error
}

// Auditor persists system actions.
type Auditor interface {
	Audit(ctx context.Context, actorID int64, action, details string) error
}

// Observer receives every successful reading.
type Observer interface {
	ObserveBenchmark(value float64)
}

// Result is the outcome of one poll that produced a value.
type Result struct {
	Point     Point
	Threshold float64
	Alert     bool
}

// Monitor polls a benchmark endpoint and alerts admins when the latest value
// of the configured series exceeds the threshold.
type Monitor struct {
	client *http.Client
	queue  Enqueuer
	audit  Auditor
	admins func() []int64
	log    logx.Logger
	obs    Observer

	mu  sync.RWMutex
	cfg Config
}

func New(cfg Config, queue Enqueuer, audit Auditor, admins func() []int64, log logx.Logger) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Monitor{
		client: &http.Client{},
		queue:  queue,
		audit:  audit,
		admins: admins,
		log:    log,
		cfg:    cfg,
	}
}

// SetObserver installs a metrics hook. Call before polling starts.
func (m *Monitor) SetObserver(o Observer) { m.obs = o }

// Apply swaps the configuration used by subsequent polls.
func (m *Monitor) Apply(cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

func (m *Monitor) config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Fetch downloads the benchmark document and returns the latest point of
// the configured series.
func (m *Monitor) Fetch(ctx context.Context) (Point, error) {
	cfg := m.config()
	if cfg.URL == "" {
		return Point{}, errors.New("benchmark: url not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return Point{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := m.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Point{}, ErrTimeout
		}
		return Point{}, fmt.Errorf("benchmark: http: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return Point{}, fmt.Errorf("benchmark: HTTP %d", resp.StatusCode)
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxBody))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Point{}, ErrTimeout
		}
		return Point{}, fmt.Errorf("benchmark: decode: %w", err)
	}
	p, ok := LatestPoint(doc, cfg.Target)
	if !ok {
		return Point{}, fmt.Errorf("%w: %q", ErrTargetNotFound, cfg.Target)
	}
	return p, nil
}

// Poll runs one check. Above the threshold it enqueues the alert to every
// admin and writes an audit record. Fetch errors are logged and returned.
func (m *Monitor) Poll(ctx context.Context) (Result, error) {
	cfg := m.config()
	p, err := m.Fetch(ctx)
	if err != nil {
		m.log.Warn("benchmark poll failed", logx.String("target", cfg.Target), logx.Err(err))
		return Result{}, err
	}
	if m.obs != nil {
		m.obs.ObserveBenchmark(p.Value)
	}
	res := Result{Point: p, Threshold: cfg.Threshold, Alert: p.Value > cfg.Threshold}
	if !res.Alert {
		m.log.Info("benchmark ok", logx.String("target", cfg.Target), logx.Float64("value", p.Value))
		return res, nil
	}

	msg := AlertText(cfg.Target, p.Value, cfg.Threshold)
	m.log.Warn("benchmark above threshold", logx.String("target", cfg.Target),
		logx.Float64("value", p.Value), logx.Float64("threshold", cfg.Threshold))

	var admins []int64
	if m.admins != nil {
		admins = m.admins()
	}
	if len(admins) == 0 {
		return res, nil
	}
	for _, id := range admins {
		if err := m.queue.Enqueue(id, msg); err != nil {
			m.log.Warn("enqueue benchmark alert failed", logx.Int64("admin", id), logx.Err(err))
		}
	}
	if m.audit != nil {
		details := fmt.Sprintf("%s: %.3fs > %ss", cfg.Target, p.Value, formatSeconds(cfg.Threshold))
		if err := m.audit.Audit(ctx, 0, AuditAction, details); err != nil {
			m.log.Warn("audit benchmark alert failed", logx.Err(err))
		}
	}
	return res, nil
}

// AlertText is the message sent to admins.
func AlertText(target string, value, threshold float64) string {
	return fmt.Sprintf("⚠️ CPU Benchmark Alert: %s = %.3fs (threshold: %ss)", target, value, formatSeconds(threshold))
}

func formatSeconds(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
