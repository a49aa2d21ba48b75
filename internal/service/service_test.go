package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ametnes/nesis-sub000/internal/apperr"
	"github.com/ametnes/nesis-sub000/internal/authz"
	"github.com/ametnes/nesis-sub000/internal/models"
)

var testSecret = []byte("service-test-secret")

type stubGrants struct {
	grants []models.RoleGrant
}

func (s *stubGrants) ListForSubjects(subjects []string, action models.Action) ([]models.RoleGrant, error) {
	allowed := map[string]bool{}
	for _, subject := range subjects {
		allowed[subject] = true
	}
	var out []models.RoleGrant
	for _, grant := range s.grants {
		if allowed[grant.Subject] && grant.Action == action {
			out = append(out, grant)
		}
	}
	return out, nil
}

func (s *stubGrants) Create(grant models.RoleGrant) (models.RoleGrant, error) { return grant, nil }
func (s *stubGrants) Delete(id string) error                                 { return nil }

type fakeTaskRepo struct {
	mu    sync.Mutex
	seq   int
	tasks map[string]models.Task
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: map[string]models.Task{}}
}

func (f *fakeTaskRepo) Create(task models.Task) (models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.tasks {
		if existing.ParentID == task.ParentID && existing.Type == task.Type && existing.Schedule == task.Schedule {
			return task, apperr.Conflict("Task already scheduled on this type")
		}
	}
	f.seq++
	task.ID = fmt.Sprintf("task-%d", f.seq)
	f.tasks[task.ID] = task
	return task, nil
}

func (f *fakeTaskRepo) Get(id string) (models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok {
		return task, apperr.ErrNotFound
	}
	return task, nil
}

func (f *fakeTaskRepo) List() ([]models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Task, 0, len(f.tasks))
	for _, task := range f.tasks {
		out = append(out, task)
	}
	return out, nil
}

func (f *fakeTaskRepo) ListByParent(parentID string) ([]models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Task
	for _, task := range f.tasks {
		if task.ParentID == parentID {
			out = append(out, task)
		}
	}
	return out, nil
}

func (f *fakeTaskRepo) Update(task models.Task) (models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[task.ID]; !ok {
		return task, apperr.ErrNotFound
	}
	f.tasks[task.ID] = task
	return task, nil
}

func (f *fakeTaskRepo) UpdateStatus(id string, status models.TaskStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok {
		return apperr.ErrNotFound
	}
	task.Status = status
	f.tasks[id] = task
	return nil
}

func (f *fakeTaskRepo) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, id)
	return nil
}

type fakeDatasourceRepo struct {
	mu     sync.Mutex
	seq    int
	rows   map[string]models.Datasource
	sealed map[string][]byte
}

func newFakeDatasourceRepo() *fakeDatasourceRepo {
	return &fakeDatasourceRepo{rows: map[string]models.Datasource{}, sealed: map[string][]byte{}}
}

func (f *fakeDatasourceRepo) Create(ds models.Datasource, sealedConn []byte) (models.Datasource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.rows {
		if existing.Name == ds.Name {
			return ds, apperr.Conflict("datasource name %q already exists", ds.Name)
		}
	}
	f.seq++
	ds.ID = fmt.Sprintf("ds-%d", f.seq)
	ds.Connection = nil
	f.rows[ds.ID] = ds
	f.sealed[ds.ID] = sealedConn
	return ds, nil
}

func (f *fakeDatasourceRepo) Get(id string) (models.Datasource, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ds, ok := f.rows[id]
	if !ok {
		return ds, nil, apperr.ErrNotFound
	}
	return ds, f.sealed[id], nil
}

func (f *fakeDatasourceRepo) GetByName(name string) (models.Datasource, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ds := range f.rows {
		if ds.Name == name {
			return ds, f.sealed[id], nil
		}
	}
	return models.Datasource{}, nil, apperr.ErrNotFound
}

func (f *fakeDatasourceRepo) List() ([]models.Datasource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Datasource, 0, len(f.rows))
	for _, ds := range f.rows {
		out = append(out, ds)
	}
	return out, nil
}

func (f *fakeDatasourceRepo) ListEnabledNames() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, ds := range f.rows {
		if ds.Enabled {
			out = append(out, ds.Name)
		}
	}
	return out, nil
}

func (f *fakeDatasourceRepo) Update(ds models.Datasource, sealedConn []byte) (models.Datasource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[ds.ID]; !ok {
		return ds, apperr.ErrNotFound
	}
	stored := ds
	stored.Connection = nil
	f.rows[ds.ID] = stored
	f.sealed[ds.ID] = sealedConn
	return ds, nil
}

func (f *fakeDatasourceRepo) UpdateStatus(id string, status models.DatasourceStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ds, ok := f.rows[id]
	if !ok {
		return apperr.ErrNotFound
	}
	ds.Status = status
	f.rows[id] = ds
	return nil
}

func (f *fakeDatasourceRepo) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	delete(f.sealed, id)
	return nil
}

type fakeSched struct {
	mu          sync.Mutex
	scheduled   map[string]string
	paused      map[string]bool
	cancelled   []string
	scheduleErr error
}

func newFakeSched() *fakeSched {
	return &fakeSched{scheduled: map[string]string{}, paused: map[string]bool{}}
}

func (f *fakeSched) Schedule(ctx context.Context, taskID, expr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduleErr != nil {
		return f.scheduleErr
	}
	f.scheduled[taskID] = expr
	return nil
}

func (f *fakeSched) Reschedule(ctx context.Context, taskID, expr string) error {
	return f.Schedule(ctx, taskID, expr)
}

func (f *fakeSched) Pause(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused[taskID] = true
	return nil
}

func (f *fakeSched) Resume(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused[taskID] = false
	return nil
}

func (f *fakeSched) Cancel(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, taskID)
	delete(f.scheduled, taskID)
	return nil
}

func rootToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "admin",
		"root": true,
	}).SignedString(testSecret)
	require.NoError(t, err)
	return token
}

func userToken(t *testing.T, subject string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
	}).SignedString(testSecret)
	require.NoError(t, err)
	return token
}

type fixture struct {
	tasks   *fakeTaskRepo
	sources *fakeDatasourceRepo
	sched   *fakeSched
	grants  *stubGrants
	taskSvc *TaskService
	dsSvc   *DatasourceService
}

func newServiceFixture(t *testing.T) *fixture {
	t.Helper()
	key := make([]byte, 32)
	t.Setenv("NESIS_ENC_KEY", base64.StdEncoding.EncodeToString(key))

	f := &fixture{
		tasks:   newFakeTaskRepo(),
		sources: newFakeDatasourceRepo(),
		sched:   newFakeSched(),
		grants:  &stubGrants{},
	}
	lister := NewRepositoryLister(f.sources, f.tasks)
	gate := authz.NewGate(f.grants, lister, testSecret, zerolog.Nop())
	f.taskSvc = NewTaskService(f.tasks, f.sched, gate, zerolog.Nop())
	f.dsSvc = NewDatasourceService(f.sources, f.taskSvc, gate, zerolog.Nop())
	// Connection validation normally probes the live source.
	f.dsSvc.validate = func(ctx context.Context, dsType models.DatasourceType, params map[string]string) (map[string]string, error) {
		return params, nil
	}
	return f
}

func minioDatasource(name, schedule string) models.Datasource {
	return models.Datasource{
		Name:     name,
		Type:     models.DatasourceMinio,
		Schedule: schedule,
		Connection: map[string]string{
			"endpoint":   "http://minio.local:9000",
			"access_key": "minio",
			"secret_key": "secret",
		},
	}
}

func boolPtr(v bool) *bool { return &v }
