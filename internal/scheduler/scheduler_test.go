package scheduler

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ametnes/nesis-sub000/internal/apperr"
	"github.com/ametnes/nesis-sub000/internal/config"
	"github.com/ametnes/nesis-sub000/internal/models"
)

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]models.SchedulerJob
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: map[string]models.SchedulerJob{}}
}

func (m *memJobs) Upsert(job models.SchedulerJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.TaskID] = job
	return nil
}

func (m *memJobs) Get(taskID string) (models.SchedulerJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[taskID]
	if !ok {
		return job, apperr.ErrNotFound
	}
	return job, nil
}

func (m *memJobs) List() ([]models.SchedulerJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.SchedulerJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job)
	}
	return out, nil
}

func (m *memJobs) SetPaused(taskID string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[taskID]
	if !ok {
		return apperr.ErrNotFound
	}
	job.Paused = paused
	m.jobs[taskID] = job
	return nil
}

func (m *memJobs) Delete(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, taskID)
	return nil
}

func (m *memJobs) ClaimDue(ctx context.Context, now time.Time, limit int, advance func(models.SchedulerJob) (*time.Time, error)) ([]models.SchedulerJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []models.SchedulerJob
	for _, job := range m.jobs {
		if !job.Paused && job.NextRunAt != nil && !job.NextRunAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRunAt.Before(*due[j].NextRunAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	for _, job := range due {
		next, err := advance(job)
		if err != nil {
			return nil, err
		}
		if next == nil {
			delete(m.jobs, job.TaskID)
			continue
		}
		stored := job
		stored.NextRunAt = next
		m.jobs[job.TaskID] = stored
	}
	return due, nil
}

type memTasks struct {
	mu    sync.Mutex
	tasks map[string]models.Task
}

func newMemTasks() *memTasks {
	return &memTasks{tasks: map[string]models.Task{}}
}

func (m *memTasks) Create(task models.Task) (models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = task
	return task, nil
}

func (m *memTasks) Get(id string) (models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return task, apperr.ErrNotFound
	}
	return task, nil
}

func (m *memTasks) List() ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		out = append(out, task)
	}
	return out, nil
}

func (m *memTasks) ListByParent(parentID string) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Task
	for _, task := range m.tasks {
		if task.ParentID == parentID {
			out = append(out, task)
		}
	}
	return out, nil
}

func (m *memTasks) Update(task models.Task) (models.Task, error) {
	return m.Create(task)
}

func (m *memTasks) UpdateStatus(id string, status models.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return apperr.ErrNotFound
	}
	task.Status = status
	m.tasks[id] = task
	return nil
}

func (m *memTasks) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

type testLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newTestLocker() *testLocker {
	return &testLocker{held: map[string]bool{}}
}

func (l *testLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, apperr.ErrLocked
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

type recordingListener struct {
	mu        sync.Mutex
	submitted []string
	completed []string
	failed    []string
}

func (r *recordingListener) OnSubmitted(task models.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, task.ID)
}

func (r *recordingListener) OnCompleted(task models.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, task.ID)
}

func (r *recordingListener) OnError(task models.Task, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, task.ID)
}

type schedFixture struct {
	sched    *Scheduler
	jobs     *memJobs
	tasks    *memTasks
	locker   *testLocker
	listener *recordingListener
	runs     []string
	runErr   error
	mu       sync.Mutex
}

func newFixture(t *testing.T, now time.Time) *schedFixture {
	t.Helper()
	f := &schedFixture{
		jobs:     newMemJobs(),
		tasks:    newMemTasks(),
		locker:   newTestLocker(),
		listener: &recordingListener{},
	}
	f.sched = New(f.jobs, f.tasks, f.locker, f.listener, config.SchedulerConfig{
		Workers:      2,
		MisfireGrace: time.Minute,
	}, zerolog.Nop())
	f.sched.now = func() time.Time { return now }
	f.sched.SetRunner(func(ctx context.Context, task models.Task) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.runs = append(f.runs, task.ID)
		return f.runErr
	})
	return f
}

func (f *schedFixture) addTask(id string, enabled bool) {
	f.tasks.tasks[id] = models.Task{
		ID:       id,
		Type:     models.TaskIngestDatasource,
		ParentID: "ds-1",
		Enabled:  enabled,
	}
}

func (f *schedFixture) addDueJob(taskID string, fireTime time.Time, kind models.JobKind) {
	f.jobs.jobs[taskID] = models.SchedulerJob{
		TaskID:    taskID,
		Schedule:  "*/5 * * * *",
		Kind:      kind,
		NextRunAt: &fireTime,
	}
}

func (f *schedFixture) tickAndWait(t *testing.T) {
	t.Helper()
	require.NoError(t, f.sched.tick(context.Background()))
	f.sched.wg.Wait()
}

func TestTickRunsDueCronJob(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 1, 0, time.UTC)
	f := newFixture(t, now)
	f.addTask("t1", true)
	f.addDueJob("t1", now.Add(-time.Second), models.JobCron)

	f.tickAndWait(t)

	assert.Equal(t, []string{"t1"}, f.runs)
	assert.Equal(t, []string{"t1"}, f.listener.submitted)
	assert.Equal(t, []string{"t1"}, f.listener.completed)

	job, err := f.jobs.Get("t1")
	require.NoError(t, err)
	assert.True(t, job.NextRunAt.After(now), "cron trigger must advance to the next firing")
}

func TestTickRetiresOneShotJob(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 1, 0, time.UTC)
	f := newFixture(t, now)
	f.addTask("t1", true)
	f.addDueJob("t1", now.Add(-time.Second), models.JobOnce)

	f.tickAndWait(t)

	assert.Equal(t, []string{"t1"}, f.runs)
	_, err := f.jobs.Get("t1")
	assert.ErrorIs(t, err, apperr.ErrNotFound, "a fired one-shot trigger must not remain")
}

func TestTickCoalescesMisfire(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.addTask("t1", true)
	// Due five minutes ago, far past the one-minute grace.
	f.addDueJob("t1", now.Add(-5*time.Minute), models.JobCron)

	f.tickAndWait(t)

	assert.Empty(t, f.runs, "a fire missed beyond the grace is skipped, not stacked")
	job, err := f.jobs.Get("t1")
	require.NoError(t, err)
	assert.True(t, job.NextRunAt.After(now))
}

func TestTickSkipsWhenPreviousRunStillHoldsLock(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 1, 0, time.UTC)
	f := newFixture(t, now)
	f.addTask("t1", true)
	f.addDueJob("t1", now.Add(-time.Second), models.JobCron)
	f.locker.held["task/t1"] = true

	f.tickAndWait(t)

	assert.Empty(t, f.runs)
	assert.Empty(t, f.listener.submitted)
}

func TestTickSkipsDisabledTask(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 1, 0, time.UTC)
	f := newFixture(t, now)
	f.addTask("t1", false)
	f.addDueJob("t1", now.Add(-time.Second), models.JobCron)

	f.tickAndWait(t)

	assert.Empty(t, f.runs)
}

func TestTickRemovesOrphanJob(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 1, 0, time.UTC)
	f := newFixture(t, now)
	f.addDueJob("ghost", now.Add(-time.Second), models.JobCron)

	f.tickAndWait(t)

	assert.Empty(t, f.runs)
	_, err := f.jobs.Get("ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRunnerErrorReachesListener(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 1, 0, time.UTC)
	f := newFixture(t, now)
	f.addTask("t1", true)
	f.addDueJob("t1", now.Add(-time.Second), models.JobCron)
	f.runErr = errors.New("source unreachable")

	f.tickAndWait(t)

	assert.Equal(t, []string{"t1"}, f.listener.submitted)
	assert.Equal(t, []string{"t1"}, f.listener.failed)
	assert.Empty(t, f.listener.completed)
}

func TestScheduleRegistersDurableJob(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, now)

	require.NoError(t, f.sched.Schedule(context.Background(), "t1", "*/5 * * * *"))

	job, err := f.jobs.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, models.JobCron, job.Kind)
	require.NotNil(t, job.NextRunAt)
	assert.True(t, job.NextRunAt.After(now))
}

func TestScheduleRejectsInvalidExpression(t *testing.T) {
	f := newFixture(t, time.Now())
	err := f.sched.Schedule(context.Background(), "t1", "definitely not a schedule")
	assert.ErrorIs(t, err, apperr.ErrInvalidSchedule)
}

func TestResumeAdvancesPastMissedFirings(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	stale := now.Add(-time.Hour)
	f.jobs.jobs["t1"] = models.SchedulerJob{
		TaskID:    "t1",
		Schedule:  "*/5 * * * *",
		Kind:      models.JobCron,
		NextRunAt: &stale,
		Paused:    true,
	}

	require.NoError(t, f.sched.Resume(context.Background(), "t1"))

	job, err := f.jobs.Get("t1")
	require.NoError(t, err)
	assert.False(t, job.Paused)
	assert.True(t, job.NextRunAt.After(now), "firings missed while paused must not replay")
}

func TestShutdownKeepsInFlightRunAlive(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 1, 0, time.UTC)
	f := newFixture(t, now)
	f.addTask("t1", true)
	f.addDueJob("t1", now.Add(-time.Second), models.JobCron)

	started := make(chan context.Context, 1)
	release := make(chan struct{})
	f.sched.SetRunner(func(ctx context.Context, task models.Task) error {
		started <- ctx
		<-release
		return nil
	})

	pollCtx, cancelPoll := context.WithCancel(context.Background())
	require.NoError(t, f.sched.tick(pollCtx))
	runCtx := <-started

	// Cancelling the poll loop stops claiming; the run in flight keeps its
	// context until the shutdown grace elapses.
	cancelPoll()
	select {
	case <-runCtx.Done():
		t.Fatal("in-flight run was cancelled by poll-loop shutdown")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	f.sched.wg.Wait()

	f.sched.stopRuns()
	select {
	case <-runCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("run context must end once the scheduler stops runs")
	}
}
