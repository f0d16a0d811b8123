// Package scheduler runs named periodic jobs in-process. It drives the
// billing sweeps (trial expiry, cancel-at-period-end) whose effects are only
// as fresh as the tick interval, so guard-style checks elsewhere must not
// rely on a sweep having already run.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrJobAlreadyRegistered = errors.New("scheduler: job already registered")
	ErrNoJobsRegistered     = errors.New("scheduler: no jobs registered")
)

// JobFunc is a periodic job. Errors are logged, never fatal: one failing
// sweep must not stop the others.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	schedule Schedule
	fn       JobFunc
	nextRun  time.Time
}

// Scheduler ticks at a fixed check interval and runs jobs that are due.
type Scheduler struct {
	mu       sync.Mutex
	jobs     map[string]*job
	interval time.Duration
	log      *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCheckInterval sets how often due jobs are evaluated.
func WithCheckInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:     make(map[string]*job),
		interval: 30 * time.Second,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob registers a named periodic job. The first run happens at the
// schedule's next firing time after registration.
func (s *Scheduler) AddJob(name string, schedule Schedule, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return ErrJobAlreadyRegistered
	}

	s.jobs[name] = &job{
		name:     name,
		schedule: schedule,
		fn:       fn,
		nextRun:  schedule.Next(time.Now()),
	}

	s.log.Info("registered periodic job",
		slog.String("job", name),
		slog.String("schedule", schedule.String()))

	return nil
}

// Start blocks, running due jobs on every tick until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	count := len(s.jobs)
	s.mu.Unlock()
	if count == 0 {
		return ErrNoJobsRegistered
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.runDue(ctx, now)
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if !now.Before(j.nextRun) {
			j.nextRun = j.schedule.Next(now)
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		if err := j.fn(ctx); err != nil {
			s.log.ErrorContext(ctx, "periodic job failed",
				slog.String("job", j.name),
				slog.Any("error", err))
			continue
		}
		s.log.DebugContext(ctx, "periodic job completed", slog.String("job", j.name))
	}
}
