package service

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ametnes/nesis-sub000/internal/apperr"
	"github.com/ametnes/nesis-sub000/internal/models"
)

func TestTaskCreateRegistersTrigger(t *testing.T) {
	f := newServiceFixture(t)
	token := rootToken(t)

	task, err := f.taskSvc.Create(context.Background(), token, models.Task{
		ParentID: "ds-1",
		Schedule: "2 4 * * mon,fri",
	})
	require.NoError(t, err)

	assert.Equal(t, models.TaskIngestDatasource, task.Type)
	assert.Equal(t, models.TaskCreated, task.Status)
	assert.True(t, task.Enabled)
	assert.Equal(t, "2 4 * * mon,fri", f.sched.scheduled[task.ID])

	def, err := task.IngestDefinition()
	require.NoError(t, err)
	assert.Equal(t, "ds-1", def.Datasource.ID)
}

func TestTaskCreateRejectsInvalidSchedule(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.taskSvc.Create(context.Background(), rootToken(t), models.Task{
		ParentID: "ds-1",
		Schedule: "yesterday at noon",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrInvalidSchedule)
	assert.Empty(t, f.tasks.tasks)
}

func TestTaskCreateRejectsPastTimestamp(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.taskSvc.Create(context.Background(), rootToken(t), models.Task{
		ParentID: "ds-1",
		Schedule: "2020-01-01T00:00:00Z",
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidSchedule)
}

func TestTaskCreateDuplicateIsConflict(t *testing.T) {
	f := newServiceFixture(t)
	token := rootToken(t)
	spec := models.Task{ParentID: "ds-1", Schedule: "*/5 * * * *"}

	_, err := f.taskSvc.Create(context.Background(), token, spec)
	require.NoError(t, err)

	_, err = f.taskSvc.Create(context.Background(), token, spec)
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))
	assert.Contains(t, err.Error(), "already scheduled")
}

func TestTaskCreateRollsBackOnTriggerFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.sched.scheduleErr = errors.New("job store unavailable")

	_, err := f.taskSvc.Create(context.Background(), rootToken(t), models.Task{
		ParentID: "ds-1",
		Schedule: "*/5 * * * *",
	})
	require.Error(t, err)
	assert.Empty(t, f.tasks.tasks, "no task row may remain without a registered trigger")
}

func TestTaskCreateRequiresGrant(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.taskSvc.Create(context.Background(), userToken(t, "mallory"), models.Task{
		ParentID: "ds-1",
		Schedule: "*/5 * * * *",
	})
	assert.True(t, apperr.IsPermission(err))
}

func TestTaskUpdateScheduleReschedules(t *testing.T) {
	f := newServiceFixture(t)
	token := rootToken(t)
	created, err := f.taskSvc.Create(context.Background(), token, models.Task{
		ParentID: "ds-1",
		Schedule: "*/5 * * * *",
	})
	require.NoError(t, err)

	created.Schedule = "0 2 * * *"
	updated, err := f.taskSvc.Update(context.Background(), token, created, nil)
	require.NoError(t, err)

	assert.Equal(t, "0 2 * * *", updated.Schedule)
	assert.Equal(t, "0 2 * * *", f.sched.scheduled[created.ID])
}

func TestTaskUpdateDisableTogglesPause(t *testing.T) {
	f := newServiceFixture(t)
	token := rootToken(t)
	created, err := f.taskSvc.Create(context.Background(), token, models.Task{
		ParentID: "ds-1",
		Schedule: "*/5 * * * *",
	})
	require.NoError(t, err)

	updated, err := f.taskSvc.Update(context.Background(), token, created, boolPtr(false))
	require.NoError(t, err)
	assert.Equal(t, models.TaskPaused, updated.Status)
	assert.True(t, f.sched.paused[created.ID])

	updated, err = f.taskSvc.Update(context.Background(), token, updated, boolPtr(true))
	require.NoError(t, err)
	assert.Equal(t, models.TaskCreated, updated.Status)
	assert.False(t, f.sched.paused[created.ID])
}

func TestTaskDeleteCancelsTrigger(t *testing.T) {
	f := newServiceFixture(t)
	token := rootToken(t)
	created, err := f.taskSvc.Create(context.Background(), token, models.Task{
		ParentID: "ds-1",
		Schedule: "*/5 * * * *",
	})
	require.NoError(t, err)

	require.NoError(t, f.taskSvc.Delete(context.Background(), token, created.ID))

	assert.Contains(t, f.sched.cancelled, created.ID)
	assert.Empty(t, f.tasks.tasks)
}

func TestTaskUpdateWithoutEnabledKeepsTaskRunning(t *testing.T) {
	f := newServiceFixture(t)
	token := rootToken(t)
	created, err := f.taskSvc.Create(context.Background(), token, models.Task{
		ParentID: "ds-1",
		Schedule: "*/5 * * * *",
	})
	require.NoError(t, err)

	// A schedule-only payload carries no enabled flag; the task must not be
	// paused as a side effect.
	updated, err := f.taskSvc.Update(context.Background(), token, models.Task{
		ID:       created.ID,
		Schedule: "0 2 * * *",
	}, nil)
	require.NoError(t, err)

	assert.True(t, updated.Enabled)
	assert.False(t, f.sched.paused[created.ID])
}
