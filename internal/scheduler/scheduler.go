// Package scheduler maps durable job-store rows onto task executions. The job
// store is a shared database table claimed with row locks, so any number of
// server instances can run the poll loop without double-firing a trigger.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/ametnes/nesis-sub000/internal/apperr"
	"github.com/ametnes/nesis-sub000/internal/config"
	"github.com/ametnes/nesis-sub000/internal/lock"
	"github.com/ametnes/nesis-sub000/internal/models"
	"github.com/ametnes/nesis-sub000/internal/repository"
)

// Runner executes one task. It is installed by the composition root after
// construction because the ingest runner itself depends on the scheduler's
// status listener wiring.
type Runner func(ctx context.Context, task models.Task) error

// Listener observes task execution outcomes.
type Listener interface {
	OnSubmitted(task models.Task)
	OnCompleted(task models.Task)
	OnError(task models.Task, err error)
}

type Scheduler struct {
	jobs     repository.JobRepository
	tasks    repository.TaskRepository
	locker   lock.Locker
	listener Listener
	cfg      config.SchedulerConfig
	logger   zerolog.Logger
	now      func() time.Time

	mu     sync.Mutex
	runner Runner

	wg  sync.WaitGroup
	sem *semaphore.Weighted

	// Runs outlive the poll loop: cancelling Start's context stops claiming
	// new fires, while runCtx stays live until the shutdown grace elapses.
	runCtx   context.Context
	stopRuns context.CancelFunc
}

func New(jobs repository.JobRepository, tasks repository.TaskRepository, locker lock.Locker, listener Listener, cfg config.SchedulerConfig, logger zerolog.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MisfireGrace <= 0 {
		cfg.MisfireGrace = 60 * time.Second
	}
	s := &Scheduler{
		jobs:     jobs,
		tasks:    tasks,
		locker:   locker,
		listener: listener,
		cfg:      cfg,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
	}
	s.runCtx, s.stopRuns = context.WithCancel(context.Background())
	return s
}

// SetRunner installs the task execution function.
func (s *Scheduler) SetRunner(r Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runner = r
}

func (s *Scheduler) getRunner() Runner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runner
}

// Schedule registers a trigger for a task. The job row survives restarts; on
// startup the poll loop picks pending triggers straight from the store.
func (s *Scheduler) Schedule(ctx context.Context, taskID, expr string) error {
	kind, next, err := ParseSchedule(expr, s.now())
	if err != nil {
		return err
	}
	return s.jobs.Upsert(models.SchedulerJob{
		TaskID:    taskID,
		Schedule:  expr,
		Kind:      kind,
		NextRunAt: &next,
	})
}

// Reschedule replaces a trigger in place, clearing any pause.
func (s *Scheduler) Reschedule(ctx context.Context, taskID, expr string) error {
	if _, err := s.jobs.Get(taskID); err != nil {
		return err
	}
	return s.Schedule(ctx, taskID, expr)
}

// Pause suspends a trigger without losing its definition.
func (s *Scheduler) Pause(ctx context.Context, taskID string) error {
	return s.jobs.SetPaused(taskID, true)
}

// Resume reactivates a paused trigger, advancing past firings that were due
// while paused.
func (s *Scheduler) Resume(ctx context.Context, taskID string) error {
	job, err := s.jobs.Get(taskID)
	if err != nil {
		return err
	}
	if job.Kind == models.JobCron {
		next, err := gronx.NextTickAfter(job.Schedule, s.now(), false)
		if err != nil {
			return err
		}
		job.NextRunAt = &next
	}
	job.Paused = false
	return s.jobs.Upsert(job)
}

// Cancel removes a trigger permanently. An in-flight run is not interrupted.
func (s *Scheduler) Cancel(ctx context.Context, taskID string) error {
	return s.jobs.Delete(taskID)
}

// Start runs the poll loop until ctx is cancelled, then waits for in-flight
// runs up to the shutdown grace.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Dur("poll_interval", s.cfg.PollInterval).Msg("scheduler started")
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				s.logger.Error().Err(err).Msg("scheduler tick failed")
			}
		}
	}
}

func (s *Scheduler) drain() {
	defer s.stopRuns()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info().Msg("scheduler stopped")
	case <-time.After(s.cfg.ShutdownGrace):
		s.logger.Warn().Msg("scheduler shutdown grace elapsed with runs still in flight")
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	now := s.now()
	claimed, err := s.jobs.ClaimDue(ctx, now, s.cfg.Workers, func(job models.SchedulerJob) (*time.Time, error) {
		if job.Kind == models.JobOnce {
			return nil, nil
		}
		next, err := gronx.NextTickAfter(job.Schedule, now, false)
		if err != nil {
			return nil, err
		}
		return &next, nil
	})
	if err != nil {
		return err
	}

	for _, job := range claimed {
		// A fire that is late beyond the grace is coalesced into the next
		// one rather than stacked.
		if job.NextRunAt != nil && now.Sub(*job.NextRunAt) > s.cfg.MisfireGrace {
			s.logger.Warn().
				Str("task", job.TaskID).
				Time("fire_time", *job.NextRunAt).
				Msg("missed fire beyond grace period, coalescing")
			continue
		}
		s.dispatch(ctx, job)
	}
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context, job models.SchedulerJob) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		s.runJob(s.runCtx, job)
	}()
}

func (s *Scheduler) runJob(ctx context.Context, job models.SchedulerJob) {
	task, err := s.tasks.Get(job.TaskID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			// The task was deleted out from under its trigger; drop the
			// orphan and move on.
			s.logger.Warn().Str("task", job.TaskID).Msg("trigger fired for unknown task, removing job")
			if err := s.jobs.Delete(job.TaskID); err != nil {
				s.logger.Warn().Err(err).Str("task", job.TaskID).Msg("failed to remove orphan job")
			}
			return
		}
		s.logger.Error().Err(err).Str("task", job.TaskID).Msg("failed to load task for trigger")
		return
	}
	if !task.Enabled {
		s.logger.Debug().Str("task", task.ID).Msg("task disabled, skipping fire")
		return
	}

	// A slow run must not overlap its own next fire, here or on another
	// instance.
	release, err := s.locker.Acquire(ctx, "task/"+task.ID)
	if err != nil {
		if errors.Is(err, apperr.ErrLocked) {
			s.logger.Info().Str("task", task.ID).Msg("previous run still in progress, coalescing fire")
			return
		}
		s.logger.Error().Err(err).Str("task", task.ID).Msg("failed to acquire task lock")
		return
	}
	defer release()

	runner := s.getRunner()
	if runner == nil {
		s.logger.Error().Str("task", task.ID).Msg("no runner installed")
		return
	}

	s.listener.OnSubmitted(task)
	if err := runner(ctx, task); err != nil {
		s.logger.Error().Err(err).Str("task", task.ID).Msg("task execution failed")
		s.listener.OnError(task, err)
		return
	}
	s.listener.OnCompleted(task)
}
