package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametnes/nesis-sub000/internal/apperr"
	"github.com/ametnes/nesis-sub000/internal/authz"
	"github.com/ametnes/nesis-sub000/internal/models"
	"github.com/ametnes/nesis-sub000/internal/repository"
	"github.com/ametnes/nesis-sub000/internal/scheduler"
)

// TaskScheduler is the slice of the scheduler the task service drives.
type TaskScheduler interface {
	Schedule(ctx context.Context, taskID, expr string) error
	Reschedule(ctx context.Context, taskID, expr string) error
	Pause(ctx context.Context, taskID string) error
	Resume(ctx context.Context, taskID string) error
	Cancel(ctx context.Context, taskID string) error
}

type TaskService struct {
	tasks  repository.TaskRepository
	sched  TaskScheduler
	gate   *authz.Gate
	now    func() time.Time
	logger zerolog.Logger
}

func NewTaskService(tasks repository.TaskRepository, sched TaskScheduler, gate *authz.Gate, logger zerolog.Logger) *TaskService {
	return &TaskService{
		tasks:  tasks,
		sched:  sched,
		gate:   gate,
		now:    time.Now,
		logger: logger.With().Str("component", "tasks").Logger(),
	}
}

// Create validates the schedule, persists the task and registers its trigger.
// A duplicate (parent, type, schedule) is a conflict; a trigger-registration
// failure rolls the row back so no unscheduled task lingers.
func (s *TaskService) Create(ctx context.Context, token string, task models.Task) (models.Task, error) {
	if _, err := s.gate.Authorized(ctx, token, models.ActionCreate, models.ResourceTasks, ""); err != nil {
		return task, err
	}
	if task.Type == "" {
		task.Type = models.TaskIngestDatasource
	}
	if task.Type != models.TaskIngestDatasource {
		return task, apperr.Validation("unsupported task type %q", task.Type)
	}
	if err := scheduler.ValidateSchedule(task.Schedule, s.now()); err != nil {
		return task, err
	}
	if task.ParentID == "" {
		return task, apperr.Validation("task parent_id is required")
	}
	if len(task.Definition) == 0 {
		task.Definition = models.NewIngestDefinition(task.ParentID)
	}
	task.Enabled = true
	task.Status = models.TaskCreated

	created, err := s.tasks.Create(task)
	if err != nil {
		return task, err
	}
	if err := s.sched.Schedule(ctx, created.ID, created.Schedule); err != nil {
		if delErr := s.tasks.Delete(created.ID); delErr != nil {
			s.logger.Error().Err(delErr).Str("task", created.ID).Msg("failed to roll back task after trigger registration failure")
		}
		return task, err
	}
	return created, nil
}

func (s *TaskService) Get(ctx context.Context, token, id string) (models.Task, error) {
	if _, err := s.gate.Authorized(ctx, token, models.ActionRead, models.ResourceTasks, id); err != nil {
		return models.Task{}, err
	}
	return s.tasks.Get(id)
}

func (s *TaskService) List(ctx context.Context, token string) ([]models.Task, error) {
	if _, err := s.gate.Authorized(ctx, token, models.ActionRead, models.ResourceTasks, ""); err != nil {
		return nil, err
	}
	return s.tasks.List()
}

// Update re-registers the trigger when the schedule changes and toggles
// pause/resume when the enabled flag flips. Enabled is a pointer so that a
// payload omitting it keeps the stored value instead of pausing the task.
func (s *TaskService) Update(ctx context.Context, token string, task models.Task, enabled *bool) (models.Task, error) {
	if _, err := s.gate.Authorized(ctx, token, models.ActionUpdate, models.ResourceTasks, task.ID); err != nil {
		return task, err
	}
	current, err := s.tasks.Get(task.ID)
	if err != nil {
		return task, err
	}

	task.Enabled = current.Enabled
	if enabled != nil {
		task.Enabled = *enabled
	}
	if task.Schedule == "" {
		task.Schedule = current.Schedule
	}
	if len(task.Definition) == 0 {
		task.Definition = current.Definition
	}
	task.ParentID = current.ParentID
	task.Type = current.Type

	if task.Schedule != current.Schedule {
		if err := scheduler.ValidateSchedule(task.Schedule, s.now()); err != nil {
			return task, err
		}
	}

	if !task.Enabled && current.Enabled {
		task.Status = models.TaskPaused
	} else if task.Enabled && !current.Enabled {
		task.Status = models.TaskCreated
	} else {
		task.Status = current.Status
	}

	updated, err := s.tasks.Update(task)
	if err != nil {
		return task, err
	}

	if task.Schedule != current.Schedule {
		if err := s.sched.Reschedule(ctx, task.ID, task.Schedule); err != nil {
			return updated, err
		}
	}
	switch {
	case !task.Enabled && current.Enabled:
		if err := s.sched.Pause(ctx, task.ID); err != nil {
			return updated, err
		}
	case task.Enabled && !current.Enabled:
		if err := s.sched.Resume(ctx, task.ID); err != nil {
			return updated, err
		}
	}
	return updated, nil
}

// Delete removes both the row and the registered trigger.
func (s *TaskService) Delete(ctx context.Context, token, id string) error {
	if _, err := s.gate.Authorized(ctx, token, models.ActionDelete, models.ResourceTasks, id); err != nil {
		return err
	}
	if err := s.sched.Cancel(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("task", id).Msg("failed to cancel trigger")
	}
	return s.tasks.Delete(id)
}

// DeleteForParent removes all tasks of a parent, best effort per task.
func (s *TaskService) DeleteForParent(ctx context.Context, token, parentID string) {
	tasks, err := s.tasks.ListByParent(parentID)
	if err != nil {
		s.logger.Error().Err(err).Str("parent", parentID).Msg("failed to list tasks for cascade delete")
		return
	}
	for _, task := range tasks {
		if err := s.Delete(ctx, token, task.ID); err != nil {
			s.logger.Error().Err(err).Str("task", task.ID).Msg("failed to cascade-delete task")
		}
	}
}

// ListByParent returns a parent's tasks without an extra capability check;
// callers have already authorized the parent resource.
func (s *TaskService) ListByParent(ctx context.Context, parentID string) ([]models.Task, error) {
	return s.tasks.ListByParent(parentID)
}
