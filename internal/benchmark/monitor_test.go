package benchmark

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "uptimebot/pkg/logx"
)

type queued struct {
	to   int64
	text string
}

type fakeQueue struct {
	mu   sync.Mutex
	msgs []queued
}

func (q *fakeQueue) Enqueue(to int64, text string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, queued{to, text})
	return nil
}

type auditCall struct {
	actor           int64
	action, details string
}

type fakeAuditor struct{ calls []auditCall }

func (a *fakeAuditor) Audit(_ context.Context, actor int64, action, details string) error {
	a.calls = append(a.calls, auditCall{actor, action, details})
	return nil
}

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPollAboveThresholdAlertsAdmins(t *testing.T) {
	t.Parallel()
	srv := serve(t, http.StatusOK, `{"turtlebp":[[1600000000,0.2],[1600000200,0.4]]}`)
	q := &fakeQueue{}
	a := &fakeAuditor{}
	m := New(Config{URL: srv.URL, Target: "turtlebp", Threshold: 0.35}, q, a,
		func() []int64 { return []int64{11, 22} }, logx.Nop())

	res, err := m.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Alert)
	assert.InDelta(t, 0.4, res.Point.Value, 1e-9)

	want := "⚠️ CPU Benchmark Alert: turtlebp = 0.400s (threshold: 0.35s)"
	require.Len(t, q.msgs, 2)
	assert.Equal(t, queued{11, want}, q.msgs[0])
	assert.Equal(t, queued{22, want}, q.msgs[1])

	require.Len(t, a.calls, 1)
	assert.Equal(t, auditCall{0, AuditAction, "turtlebp: 0.400s > 0.35s"}, a.calls[0])
}

func TestPollBelowThresholdIsQuiet(t *testing.T) {
	t.Parallel()
	srv := serve(t, http.StatusOK, `["turtlebp,1600000300,0.30"]`)
	q := &fakeQueue{}
	a := &fakeAuditor{}
	m := New(Config{URL: srv.URL, Target: "turtlebp", Threshold: 0.35}, q, a,
		func() []int64 { return []int64{1} }, logx.Nop())

	res, err := m.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Alert)
	assert.Empty(t, q.msgs)
	assert.Empty(t, a.calls)
}

func TestPollWithoutAdminsSkipsAudit(t *testing.T) {
	t.Parallel()
	srv := serve(t, http.StatusOK, `{"turtlebp":[[1,0.9]]}`)
	a := &fakeAuditor{}
	m := New(Config{URL: srv.URL, Target: "turtlebp", Threshold: 0.35}, &fakeQueue{}, a, nil, logx.Nop())
	res, err := m.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Alert)
	assert.Empty(t, a.calls)
}

func TestFetchErrors(t *testing.T) {
	t.Parallel()

	srv := serve(t, http.StatusServiceUnavailable, `oops`)
	m := New(Config{URL: srv.URL, Target: "turtlebp"}, &fakeQueue{}, nil, nil, logx.Nop())
	_, err := m.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")

	srv = serve(t, http.StatusOK, `{"other":[[1,0.1]]}`)
	m.Apply(Config{URL: srv.URL, Target: "turtlebp"})
	_, err = m.Fetch(context.Background())
	assert.True(t, errors.Is(err, ErrTargetNotFound))

	m.Apply(Config{Target: "turtlebp"})
	_, err = m.Fetch(context.Background())
	assert.Error(t, err)
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})
	m := New(Config{URL: srv.URL, Target: "turtlebp", Timeout: 50 * time.Millisecond}, &fakeQueue{}, nil, nil, logx.Nop())
	_, err := m.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
}
