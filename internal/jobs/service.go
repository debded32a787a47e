package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "uptimebot/pkg/logx"
)

var ErrUnknownJob = errors.New("jobs: unknown job")

// Job is a named unit of periodic work.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// State is a point-in-time view of one job.
type State struct {
	Name     string
	Spec     string
	Next     time.Time
	Prev     time.Time
	Runs     uint64
	Failures uint64
	LastErr  string
	LastTook time.Duration
}

type def struct {
	job     Job
	entryID cron.EntryID
	running atomic.Bool

	mu       sync.Mutex
	runs     uint64
	failures uint64
	lastErr  string
	lastTook time.Duration
}

type Service struct {
	log    logx.Logger
	parser cron.Parser
	loc    *time.Location

	mu     sync.Mutex
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	defs   map[string]*def
}

func New(loc *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		log: log,
		// SecondOptional allows both 5-field and 6-field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:    loc,
		defs:   map[string]*def{},
	}
}

// Every renders d as an "@every" spec.
func Every(d time.Duration) string { return "@every " + d.String() }

// Register adds or replaces the job with the same name. It may be called
// before or after Start.
func (s *Service) Register(j Job) error {
	j.Name = strings.TrimSpace(j.Name)
	if j.Name == "" || j.Run == nil {
		return errors.New("jobs: name and run func are required")
	}
	if _, err := s.parser.Parse(j.Spec); err != nil {
		return fmt.Errorf("jobs: %s: bad spec %q: %w", j.Name, j.Spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.defs[j.Name]; ok && s.c != nil {
		s.c.Remove(old.entryID)
	}
	d := &def{job: j}
	s.defs[j.Name] = d
	if s.c != nil {
		return s.scheduleLocked(d)
	}
	return nil
}

// Remove unregisters name and reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) scheduleLocked(d *def) error {
	sched, err := s.parser.Parse(d.job.Spec)
	if err != nil {
		return err
	}
	ctx := s.ctx
	d.entryID = s.c.Schedule(sched, cron.FuncJob(func() { s.run(ctx, d) }))
	return nil
}

func (s *Service) run(ctx context.Context, d *def) {
	if ctx.Err() != nil {
		return
	}
	if !d.running.CompareAndSwap(false, true) {
		s.log.Debug("job still running; trigger skipped", logx.String("job", d.job.Name))
		return
	}
	defer d.running.Store(false)

	rctx := ctx
	if d.job.Timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, d.job.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := safeRun(rctx, d.job.Run)
	took := time.Since(start)

	d.mu.Lock()
	d.runs++
	d.lastTook = took
	d.lastErr = ""
	if err != nil {
		d.failures++
		d.lastErr = err.Error()
	}
	d.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		s.log.Warn("job failed", logx.String("job", d.job.Name), logx.Duration("took", took), logx.Err(err))
		return
	}
	s.log.Debug("job done", logx.String("job", d.job.Name), logx.Duration("took", took))
}

func safeRun(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// RunNow executes name synchronously, outside its schedule.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	d, ok := s.defs[name]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownJob
	}
	s.run(ctx, d)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastErr != "" {
		return errors.New(d.lastErr)
	}
	return nil
}

// Start begins triggering. Idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		if err := s.scheduleLocked(d); err != nil {
			s.log.Warn("job not scheduled", logx.String("job", d.job.Name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("jobs started", logx.Int("jobs", len(s.defs)), logx.String("tz", s.loc.String()))
}

// Stop cancels running jobs and waits for them, or for ctx to end.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	cancel()
	select {
	case <-c.Stop().Done():
		s.log.Info("jobs stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot lists jobs sorted by name.
func (s *Service) Snapshot() []State {
	s.mu.Lock()
	c := s.c
	out := make([]State, 0, len(s.defs))
	for _, d := range s.defs {
		st := State{Name: d.job.Name, Spec: d.job.Spec}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			st.Next, st.Prev = e.Next, e.Prev
		}
		d.mu.Lock()
		st.Runs, st.Failures, st.LastErr, st.LastTook = d.runs, d.failures, d.lastErr, d.lastTook
		d.mu.Unlock()
		out = append(out, st)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
