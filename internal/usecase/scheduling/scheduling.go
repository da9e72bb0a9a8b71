// Package scheduling runs the server's housekeeping jobs (idle session
// reaping, registry reloads, audit retention) on cron expressions or fixed
// intervals.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Action identifies a kind of housekeeping job.
type Action string

const (
	ActionSessionReap    Action = "session_reap"
	ActionRegistryReload Action = "registry_reload"
	ActionAuditRetention Action = "audit_retention"
)

// defaultJobTimeout caps a single run of any job.
const defaultJobTimeout = time.Minute

// Job binds an action to a schedule.
type Job struct {
	Name     string
	Schedule string // cron expression ("*/5 * * * *", "@hourly") or duration ("10m")
	Action   Action
}

// Scheduler runs registered actions on their schedules.
type Scheduler struct {
	cron    *cron.Cron
	actions map[Action]func(ctx context.Context) error
	entries map[string]cron.EntryID
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a scheduler. Jobs may be added before or after Start.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		actions: make(map[Action]func(ctx context.Context) error),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
		timeout: defaultJobTimeout,
	}
}

// Handle registers the function run for action.
func (s *Scheduler) Handle(action Action, fn func(ctx context.Context) error) {
	s.mu.Lock()
	s.actions[action] = fn
	s.mu.Unlock()
}

// Add schedules job. The action must already have a handler and the job name
// must be unique.
func (s *Scheduler) Add(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := s.actions[job.Action]
	if !ok {
		return fmt.Errorf("scheduler: no handler for action %q (job %q)", job.Action, job.Name)
	}
	if _, dup := s.entries[job.Name]; dup {
		return fmt.Errorf("scheduler: job %q already scheduled", job.Name)
	}
	sched, err := Parse(job.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: job %q: %w", job.Name, err)
	}

	s.entries[job.Name] = s.cron.Schedule(sched, cron.FuncJob(func() { s.run(job, fn) }))
	s.logger.Info("job scheduled", "job", job.Name, "schedule", job.Schedule, "action", string(job.Action))
	return nil
}

// Remove unschedules the named job. Removing an unknown job is a no-op.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// Next returns the next run time of the named job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	e := s.cron.Entry(id)
	return e.Next, e.ID != 0
}

func (s *Scheduler) run(job Job, fn func(ctx context.Context) error) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", "job", job.Name, "panic", r)
		}
	}()
	if err := fn(jobCtx); err != nil {
		s.logger.Warn("job failed", "job", job.Name, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Debug("job completed", "job", job.Name, "duration", time.Since(start))
}

// Start begins firing jobs. Cancelling ctx stops new runs from starting.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
}

// Stop halts the scheduler and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}

// Parse reads a schedule as a cron expression (standard five fields or a
// descriptor such as "@every 10m") and falls back to a Go duration.
func Parse(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(spec); err == nil {
		return sched, nil
	}
	d, err := time.ParseDuration(spec)
	if err != nil {
		return nil, fmt.Errorf("not a cron expression or duration: %q", spec)
	}
	if d <= 0 {
		return nil, fmt.Errorf("interval must be positive: %q", spec)
	}
	return interval(d), nil
}

// interval fires every d. cron.Every rounds to whole seconds; this does not.
type interval time.Duration

func (d interval) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }
