// Package maintenance runs the periodic housekeeping of the signal stores:
// stale lock sweeps, audit log trimming and export. Each run of a job is
// guarded by a distributed lock so only one replica performs it.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// defaultJobTimeout bounds a single job run.
const defaultJobTimeout = 2 * time.Minute

// Job is a named unit of periodic work.
type Job struct {
	Name string
	// Spec is a cron expression or descriptor such as "@every 1m".
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler runs jobs on their cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	locks   domain.LockManager
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	jobs map[string]Job
}

// NewScheduler creates a Scheduler. locks may be nil, in which case every
// replica runs every job.
func NewScheduler(locks domain.LockManager, logger *slog.Logger) *Scheduler {
	logger = logger.With(slog.String("component", "maintenance"))
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		)),
		locks:   locks,
		timeout: defaultJobTimeout,
		logger:  logger,
		jobs:    make(map[string]Job),
	}
}

// Add registers a job. An empty spec disables the job.
func (s *Scheduler) Add(job Job) error {
	if job.Spec == "" {
		s.logger.Info("job disabled", slog.String("job", job.Name))
		return nil
	}
	if _, err := s.cron.AddFunc(job.Spec, func() { _ = s.RunJob(context.Background(), job.Name) }); err != nil {
		return fmt.Errorf("maintenance: schedule %s (%q): %w", job.Name, job.Spec, err)
	}
	s.mu.Lock()
	s.jobs[job.Name] = job
	s.mu.Unlock()
	return nil
}

// RunJob runs a registered job once, under its distributed lock.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("maintenance: job %s: %w", name, domain.ErrNotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	log := s.logger.With(slog.String("job", name))

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "maintenance:"+name, s.timeout)
		if errors.Is(err, domain.ErrLockHeld) {
			log.DebugContext(ctx, "job running on another replica")
			return nil
		}
		if err != nil {
			log.WarnContext(ctx, "job lock unavailable", slog.String("error", err.Error()))
			return err
		}
		defer unlock()
	}

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		log.ErrorContext(ctx, "job failed", slog.String("error", err.Error()))
		return err
	}
	log.DebugContext(ctx, "job finished", slog.Duration("took", time.Since(start)))
	return nil
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.cron.Entries())))
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out; jobs still running")
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
