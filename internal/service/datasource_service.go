package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametnes/nesis-sub000/internal/apperr"
	"github.com/ametnes/nesis-sub000/internal/authz"
	"github.com/ametnes/nesis-sub000/internal/connector"
	"github.com/ametnes/nesis-sub000/internal/models"
	"github.com/ametnes/nesis-sub000/internal/repository"
	"github.com/ametnes/nesis-sub000/internal/scheduler"
	"github.com/ametnes/nesis-sub000/internal/utils"
)

// ConnectionValidator asserts a connection map against its type's required
// keys and runs the live connectivity probe.
type ConnectionValidator func(ctx context.Context, dsType models.DatasourceType, params map[string]string) (map[string]string, error)

type DatasourceService struct {
	datasources repository.DatasourceRepository
	tasks       *TaskService
	gate        *authz.Gate
	validate    ConnectionValidator
	now         func() time.Time
	logger      zerolog.Logger
}

func NewDatasourceService(datasources repository.DatasourceRepository, tasks *TaskService, gate *authz.Gate, logger zerolog.Logger) *DatasourceService {
	return &DatasourceService{
		datasources: datasources,
		tasks:       tasks,
		gate:        gate,
		validate:    connector.Validate,
		now:         time.Now,
		logger:      logger.With().Str("component", "datasources").Logger(),
	}
}

// Create validates and persists a datasource. A non-empty schedule also
// creates the ingest task; a failure there must not leave the datasource
// silently unscheduled, so it is logged loudly.
func (s *DatasourceService) Create(ctx context.Context, token string, ds models.Datasource) (models.Datasource, error) {
	if _, err := s.gate.Authorized(ctx, token, models.ActionCreate, models.ResourceDatasources, ds.Name); err != nil {
		return ds, err
	}
	if !models.ValidDatasourceName(ds.Name) {
		return ds, apperr.Validation("datasource name %q must match [a-z0-9_-]{5,}", ds.Name)
	}
	if !models.ValidDatasourceType(ds.Type) {
		return ds, apperr.Validation("unknown datasource type %q", ds.Type)
	}
	if ds.Schedule != "" {
		// Fail fast before touching external systems.
		if err := scheduler.ValidateSchedule(ds.Schedule, s.now()); err != nil {
			return ds, err
		}
	}

	sanitized, err := s.validate(ctx, ds.Type, ds.Connection)
	if err != nil {
		return ds, err
	}
	ds.Connection = sanitized
	ds.Enabled = true
	ds.Status = models.DatasourceOnline

	sealed, err := utils.SealConnection(ds.Connection)
	if err != nil {
		return ds, err
	}
	created, err := s.datasources.Create(ds, sealed)
	if err != nil {
		return ds, err
	}
	created.Connection = ds.Connection

	if created.Schedule != "" {
		_, err := s.tasks.Create(ctx, token, models.Task{
			Type:     models.TaskIngestDatasource,
			Schedule: created.Schedule,
			ParentID: created.ID,
		})
		if err != nil {
			s.logger.Error().Err(err).
				Str("datasource", created.Name).
				Str("schedule", created.Schedule).
				Msg("datasource created but its ingest task could not be scheduled")
		}
	}
	return created.Redacted(), nil
}

func (s *DatasourceService) Get(ctx context.Context, token, id string) (models.Datasource, error) {
	ds, sealed, err := s.datasources.Get(id)
	if err != nil {
		return ds, err
	}
	if _, err := s.gate.Authorized(ctx, token, models.ActionRead, models.ResourceDatasources, ds.Name); err != nil {
		return models.Datasource{}, err
	}
	conn, err := utils.OpenConnection(sealed)
	if err != nil {
		return ds, err
	}
	ds.Connection = conn
	return ds.Redacted(), nil
}

// List returns the datasources the caller may read, per the gate's
// resource-set contract.
func (s *DatasourceService) List(ctx context.Context, token string) ([]models.Datasource, error) {
	allowed, err := s.gate.AuthorizedResources(ctx, token, models.ActionRead, models.ResourceDatasources)
	if err != nil {
		return nil, err
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = true
	}

	all, err := s.datasources.List()
	if err != nil {
		return nil, err
	}
	visible := make([]models.Datasource, 0, len(all))
	for _, ds := range all {
		if allowedSet[ds.Name] {
			visible = append(visible, ds.Redacted())
		}
	}
	return visible, nil
}

// Update revalidates the connection and applies the schedule-change rules: if
// exactly one enabled ingest task exists it is rescheduled (or deleted when
// the schedule is removed); zero or multiple is an inconsistency to surface.
// Enabled is a pointer so that a payload omitting it keeps the stored value.
func (s *DatasourceService) Update(ctx context.Context, token string, ds models.Datasource, enabled *bool) (models.Datasource, error) {
	current, sealed, err := s.datasources.Get(ds.ID)
	if err != nil {
		return ds, err
	}
	if _, err := s.gate.Authorized(ctx, token, models.ActionUpdate, models.ResourceDatasources, current.Name); err != nil {
		return ds, err
	}

	ds.Enabled = current.Enabled
	if enabled != nil {
		ds.Enabled = *enabled
	}
	if ds.Type == "" {
		ds.Type = current.Type
	}
	if ds.Type != current.Type {
		return ds, apperr.Validation("datasource type cannot change")
	}
	ds.Name = current.Name

	if ds.Connection == nil {
		conn, err := utils.OpenConnection(sealed)
		if err != nil {
			return ds, err
		}
		ds.Connection = conn
	}
	sanitized, err := s.validate(ctx, ds.Type, ds.Connection)
	if err != nil {
		return ds, err
	}
	ds.Connection = sanitized

	newSealed, err := utils.SealConnection(ds.Connection)
	if err != nil {
		return ds, err
	}
	updated, err := s.datasources.Update(ds, newSealed)
	if err != nil {
		return ds, err
	}
	updated.Connection = ds.Connection

	if ds.Schedule != current.Schedule {
		if err := s.applyScheduleChange(ctx, token, updated); err != nil {
			return updated, err
		}
	}
	return updated.Redacted(), nil
}

func (s *DatasourceService) applyScheduleChange(ctx context.Context, token string, ds models.Datasource) error {
	tasks, err := s.tasks.ListByParent(ctx, ds.ID)
	if err != nil {
		return err
	}
	var ingest []models.Task
	for _, task := range tasks {
		if task.Type == models.TaskIngestDatasource && task.Enabled {
			ingest = append(ingest, task)
		}
	}

	switch {
	case len(ingest) == 0 && ds.Schedule != "":
		_, err := s.tasks.Create(ctx, token, models.Task{
			Type:     models.TaskIngestDatasource,
			Schedule: ds.Schedule,
			ParentID: ds.ID,
		})
		return err
	case len(ingest) == 1 && ds.Schedule == "":
		return s.tasks.Delete(ctx, token, ingest[0].ID)
	case len(ingest) == 1:
		task := ingest[0]
		task.Schedule = ds.Schedule
		_, err := s.tasks.Update(ctx, token, task, nil)
		return err
	case len(ingest) > 1:
		return apperr.Conflict("datasource %s has %d enabled ingest tasks, expected one", ds.Name, len(ingest))
	}
	return nil
}

// Delete cascades to the datasource's tasks, best effort per task, then
// removes the row itself.
func (s *DatasourceService) Delete(ctx context.Context, token, id string) error {
	ds, _, err := s.datasources.Get(id)
	if err != nil {
		return err
	}
	if _, err := s.gate.Authorized(ctx, token, models.ActionDelete, models.ResourceDatasources, ds.Name); err != nil {
		return err
	}
	s.tasks.DeleteForParent(ctx, token, id)
	return s.datasources.Delete(id)
}

// SetStatus flips a datasource's status; used by the scheduler listener.
func (s *DatasourceService) SetStatus(id string, status models.DatasourceStatus) error {
	return s.datasources.UpdateStatus(id, status)
}
