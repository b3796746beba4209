// Package scheduler owns the named, cancellable background jobs that mutate
// engine state outside of user requests.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	gerrors "github.com/p-blackswan/grimoire/internal/errors"
)

// Job is one recurring effect.
type Job struct {
	// Name identifies the job for Start/Stop/Restart.
	Name string

	// Interval is the fixed delay between fires. Ignored when Delay is set.
	Interval time.Duration

	// Delay, when set, is asked for the wait before every fire. Used for
	// randomized schedules.
	Delay func() time.Duration

	// Gate is evaluated at every fire; when it returns false the fire is
	// skipped and the job waits for the next one.
	Gate func() bool

	// Run performs the effect. It must not block past ctx cancellation.
	Run func(ctx context.Context)
}

func (j Job) next() time.Duration {
	if j.Delay != nil {
		if d := j.Delay(); d > 0 {
			return d
		}
		return time.Millisecond
	}
	return j.Interval
}

type entry struct {
	job    Job
	gen    uint64
	cancel context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithFireHook is called with the job name after every executed fire.
func WithFireHook(fn func(name string)) Option {
	return func(s *Scheduler) { s.onFire = fn }
}

// Scheduler runs registered jobs, one goroutine per running job.
type Scheduler struct {
	logger zerolog.Logger
	onFire func(string)

	mu   sync.Mutex
	jobs map[string]*entry
	gen  uint64
	wg   sync.WaitGroup
}

// New creates an empty Scheduler.
func New(logger zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger: logger.With().Str("component", "scheduler").Logger(),
		jobs:   make(map[string]*entry),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds a job. Registering a name twice replaces the job definition;
// a running instance keeps its old definition until restarted.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("scheduler: job name required: %w", gerrors.ErrInvalidInput)
	}
	if job.Run == nil {
		return fmt.Errorf("scheduler: job %s has no Run: %w", job.Name, gerrors.ErrInvalidInput)
	}
	if job.Delay == nil && job.Interval <= 0 {
		return fmt.Errorf("scheduler: job %s needs an Interval or Delay: %w", job.Name, gerrors.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.jobs[job.Name]; ok {
		e.job = job
		return nil
	}
	s.jobs[job.Name] = &entry{job: job}
	return nil
}

// Names returns the registered job names in lexical order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Start arms the named job. Starting a running job is a no-op.
func (s *Scheduler) Start(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx, name)
}

func (s *Scheduler) startLocked(ctx context.Context, name string) error {
	e, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("scheduler: job %s: %w", name, gerrors.ErrNotFound)
	}
	if e.cancel != nil {
		return nil
	}

	s.gen++
	jobCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.gen = s.gen

	s.wg.Add(1)
	go s.run(jobCtx, e.job, e.gen)
	s.logger.Debug().Str("job", name).Msg("job started")
	return nil
}

// StartAll arms every registered job.
func (s *Scheduler) StartAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.jobs {
		_ = s.startLocked(ctx, name)
	}
}

// Stop cancels the named job's pending fire. A fire already executing runs
// to completion. Stopping a stopped or unknown job is a no-op.
func (s *Scheduler) Stop(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(name)
}

func (s *Scheduler) stopLocked(name string) {
	e, ok := s.jobs[name]
	if !ok || e.cancel == nil {
		return
	}
	e.cancel()
	e.cancel = nil
	s.logger.Debug().Str("job", name).Msg("job stopped")
}

// StopAll cancels every running job.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.jobs {
		s.stopLocked(name)
	}
}

// Restart cancels the named job and arms it again with a fresh delay.
func (s *Scheduler) Restart(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(name)
	return s.startLocked(ctx, name)
}

// Running reports whether the named job is armed.
func (s *Scheduler) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[name]
	return ok && e.cancel != nil
}

// Wait blocks until every job goroutine has exited. Call it after StopAll
// or after cancelling the parent context.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, job Job, gen uint64) {
	defer s.wg.Done()
	defer s.release(job.Name, gen)

	timer := time.NewTimer(job.next())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}

		if job.Gate == nil || job.Gate() {
			job.Run(ctx)
			if s.onFire != nil {
				s.onFire(job.Name)
			}
			s.logger.Debug().Str("job", job.Name).Msg("job fired")
		} else {
			s.logger.Debug().Str("job", job.Name).Msg("job gated")
		}
		timer.Reset(job.next())
	}
}

// release clears the running flag when a job exits on parent cancellation.
func (s *Scheduler) release(name string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.jobs[name]; ok && e.gen == gen && e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// CatchUp reports whether load-time catch-up work is due: more than
// threshold has elapsed since last. A zero last is never due; the caller
// records the first run instead.
func CatchUp(last time.Time, threshold time.Duration, now time.Time) bool {
	if last.IsZero() {
		return false
	}
	return now.Sub(last) > threshold
}
