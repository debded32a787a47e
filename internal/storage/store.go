package storage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	logx "uptimebot/pkg/logx"
)

// Store is safe for concurrent use.
type Store struct {
	db      *sql.DB
	dialect dialect
	opts    Options
	log     logx.Logger
	now     func() time.Time
	closed  atomic.Bool
}

func (s *Store) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// q rewrites '?' placeholders to $n for postgres.
func (s *Store) q(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *Store) clampInterval(sec int) int {
	if sec < s.opts.MinIntervalSeconds {
		return s.opts.MinIntervalSeconds
	}
	return sec
}

// Close checkpoints the WAL (sqlite) and closes the pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if s.dialect == dialectSQLite {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, cerr := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
		cancel()
		err = multierr.Append(err, cerr)
	}
	return multierr.Append(err, s.db.Close())
}

func (s *Store) ready() error {
	if s == nil || s.db == nil || s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// === subscriptions ===

// AddSubscription is idempotent.
func (s *Store) AddSubscription(ctx context.Context, chatID int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO subscriptions(chat_id, created_at) VALUES(?, ?) ON CONFLICT(chat_id) DO NOTHING`),
		chatID, s.clock().Unix())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Info("subscription added", logx.Int64("chat_id", chatID))
	}
	return nil
}

// RemoveSubscription reports whether a row was deleted.
func (s *Store) RemoveSubscription(ctx context.Context, chatID int64) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM subscriptions WHERE chat_id = ?`), chatID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Info("subscription removed", logx.Int64("chat_id", chatID))
	}
	return n > 0, nil
}

func (s *Store) ListSubscriptions(ctx context.Context) ([]int64, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM subscriptions ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) IsSubscribed(ctx context.Context, chatID int64) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM subscriptions WHERE chat_id = ?`), chatID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// === customers ===

const customerCols = `id, chat_id, alerts_enabled, interval_seconds, failure_threshold, escalation_threshold, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanCustomer(r scanner) (Customer, error) {
	var (
		c                Customer
		created, updated int64
	)
	err := r.Scan(&c.ID, &c.ChatID, &c.AlertsEnabled, &c.IntervalSeconds,
		&c.FailureThreshold, &c.EscalationThreshold, &created, &updated)
	if err != nil {
		return Customer{}, err
	}
	c.CreatedAt = time.Unix(created, 0)
	if updated > 0 {
		c.UpdatedAt = time.Unix(updated, 0)
	}
	return c, nil
}

// GetCustomerByChat returns the customer with its targets, or ErrNotFound.
func (s *Store) GetCustomerByChat(ctx context.Context, chatID int64) (Customer, error) {
	if err := s.ready(); err != nil {
		return Customer{}, err
	}
	c, err := scanCustomer(s.db.QueryRowContext(ctx,
		s.q(`SELECT `+customerCols+` FROM customers WHERE chat_id = ?`), chatID))
	if errors.Is(err, sql.ErrNoRows) {
		return Customer{}, ErrNotFound
	}
	if err != nil {
		return Customer{}, err
	}
	c.Targets, err = s.ListCustomerTargets(ctx, c.ID)
	return c, err
}

// EnsureCustomer creates the default configuration for chatID if it does not
// exist yet and returns the stored row. Concurrent callers converge on one row.
func (s *Store) EnsureCustomer(ctx context.Context, chatID int64) (Customer, error) {
	if err := s.ready(); err != nil {
		return Customer{}, err
	}
	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO customers(chat_id, alerts_enabled, interval_seconds, failure_threshold, escalation_threshold, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, 0) ON CONFLICT(chat_id) DO NOTHING`),
		chatID, true, s.opts.DefaultIntervalSeconds, s.opts.DefaultFailureThreshold,
		defaultEscalationThreshold, s.clock().Unix())
	if err != nil {
		return Customer{}, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Info("customer created", logx.Int64("chat_id", chatID), logx.Int("interval_s", s.opts.DefaultIntervalSeconds))
	}
	return s.GetCustomerByChat(ctx, chatID)
}

// UpdateCustomerInterval stores max(seconds, minimum) and returns the stored value.
func (s *Store) UpdateCustomerInterval(ctx context.Context, chatID int64, seconds int) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	seconds = s.clampInterval(seconds)
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE customers SET interval_seconds = ?, updated_at = ? WHERE chat_id = ?`),
		seconds, s.clock().Unix(), chatID)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrNotFound
	}
	return seconds, nil
}

// SetAlertsEnabled toggles alert delivery for a customer.
func (s *Store) SetAlertsEnabled(ctx context.Context, chatID int64, enabled bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE customers SET alerts_enabled = ?, updated_at = ? WHERE chat_id = ?`),
		enabled, s.clock().Unix(), chatID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCustomers returns every customer with its targets loaded.
func (s *Store) ListCustomers(ctx context.Context) ([]Customer, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+customerCols+` FROM customers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	var (
		out   []Customer
		index = map[int64]int{}
	)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[c.ID] = len(out)
		out = append(out, c)
	}
	if err := multierr.Combine(rows.Err(), rows.Close()); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	targets, err := s.queryTargets(ctx, `SELECT `+targetCols+` FROM targets ORDER BY customer_id, id`)
	if err != nil {
		return nil, err
	}
	for _, t := range targets {
		if i, ok := index[t.CustomerID]; ok {
			out[i].Targets = append(out[i].Targets, t)
		}
	}
	return out, nil
}

// === targets ===

const targetCols = `id, customer_id, name, ip, port, enabled, last_checked, consecutive_failures`

func scanTarget(r scanner) (Target, error) {
	var t Target
	err := r.Scan(&t.ID, &t.CustomerID, &t.Name, &t.IP, &t.Port, &t.Enabled, &t.LastChecked, &t.ConsecutiveFailures)
	return t, err
}

func (s *Store) queryTargets(ctx context.Context, query string, args ...any) ([]Target, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertTarget creates or updates the target (customerID, name). An existing
// target is re-enabled and keeps its check state.
func (s *Store) UpsertTarget(ctx context.Context, customerID int64, name, ip string, port int) (Target, error) {
	if err := s.ready(); err != nil {
		return Target{}, err
	}
	t, err := scanTarget(s.db.QueryRowContext(ctx, s.q(`INSERT INTO targets(customer_id, name, ip, port, enabled, last_checked, consecutive_failures)
		VALUES(?, ?, ?, ?, ?, 0, 0)
		ON CONFLICT(customer_id, name) DO UPDATE SET ip = excluded.ip, port = excluded.port, enabled = excluded.enabled
		RETURNING `+targetCols), customerID, name, ip, port, true))
	if err != nil {
		return Target{}, err
	}
	s.log.Info("target saved", logx.Int64("customer_id", customerID), logx.String("name", name),
		logx.String("ip", ip), logx.Int("port", port))
	return t, nil
}

func (s *Store) ListCustomerTargets(ctx context.Context, customerID int64) ([]Target, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.queryTargets(ctx, `SELECT `+targetCols+` FROM targets WHERE customer_id = ? ORDER BY id`, customerID)
}

// RemoveTarget reports whether the target existed.
func (s *Store) RemoveTarget(ctx context.Context, customerID int64, name string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM targets WHERE customer_id = ? AND name = ?`), customerID, name)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateTargetCheckState records a check at checkedAt (unix seconds) and
// returns the new consecutive failure count: +1 on failure, 0 on success.
func (s *Store) UpdateTargetCheckState(ctx context.Context, targetID, checkedAt int64, failed bool) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	query := `UPDATE targets SET last_checked = ?, consecutive_failures = 0 WHERE id = ? RETURNING consecutive_failures`
	if failed {
		query = `UPDATE targets SET last_checked = ?, consecutive_failures = consecutive_failures + 1 WHERE id = ? RETURNING consecutive_failures`
	}
	var n int
	err := s.db.QueryRowContext(ctx, s.q(query), checkedAt, targetID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return n, err
}

// === history ===

func (s *Store) WriteHistory(ctx context.Context, e HistoryEntry) error {
	if err := s.ready(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = s.clock()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO history(timestamp, customer_chat_id, target_name, status, error, response_time)
		VALUES(?, ?, ?, ?, ?, ?)`),
		e.At.Unix(), e.ChatID, e.TargetName, e.Status, e.Error, e.ResponseTime)
	return err
}

// RecentHistory returns up to limit entries for chatID, newest first.
func (s *Store) RecentHistory(ctx context.Context, chatID int64, limit int) ([]HistoryEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, timestamp, customer_chat_id, target_name, status, error, response_time
		FROM history WHERE customer_chat_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`), chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var (
			e  HistoryEntry
			ts int64
		)
		if err := rows.Scan(&e.ID, &ts, &e.ChatID, &e.TargetName, &e.Status, &e.Error, &e.ResponseTime); err != nil {
			return nil, err
		}
		e.At = time.Unix(ts, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneHistory deletes entries older than before and returns how many went.
func (s *Store) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM history WHERE timestamp < ?`), before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// === audit ===

func (s *Store) Audit(ctx context.Context, actorID int64, action, details string) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO audit_logs(actor_chat_id, action, details, created_at) VALUES(?, ?, ?, ?)`),
		actorID, action, details, s.clock().Unix())
	if err == nil {
		s.log.Info("audit", logx.Int64("actor", actorID), logx.String("action", action))
	}
	return err
}

// RecentAudit returns up to limit audit entries, newest first.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, actor_chat_id, action, details, created_at
		FROM audit_logs ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			ts int64
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Details, &ts); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(ts, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Counts returns row counts for subscriptions, customers and targets.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	if err := s.ready(); err != nil {
		return Counts{}, err
	}
	var c Counts
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM subscriptions),
		(SELECT COUNT(*) FROM customers),
		(SELECT COUNT(*) FROM targets)`).Scan(&c.Subscriptions, &c.Customers, &c.Targets)
	return c, err
}
