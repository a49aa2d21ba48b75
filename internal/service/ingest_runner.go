package service

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ametnes/nesis-sub000/internal/models"
	"github.com/ametnes/nesis-sub000/internal/repository"
	"github.com/ametnes/nesis-sub000/internal/sync"
	"github.com/ametnes/nesis-sub000/internal/utils"
)

// IngestRunner resolves an ingest task to its datasource and hands it to the
// sync engine. It is wired into the scheduler as the task runner.
type IngestRunner struct {
	datasources repository.DatasourceRepository
	engine      *sync.Engine
	logger      zerolog.Logger
}

func NewIngestRunner(datasources repository.DatasourceRepository, engine *sync.Engine, logger zerolog.Logger) *IngestRunner {
	return &IngestRunner{
		datasources: datasources,
		engine:      engine,
		logger:      logger.With().Str("component", "ingest").Logger(),
	}
}

func (r *IngestRunner) Run(ctx context.Context, task models.Task) error {
	if task.Type != models.TaskIngestDatasource {
		return errors.Errorf("task %s has unsupported type %s", task.ID, task.Type)
	}

	id := task.ParentID
	if id == "" {
		def, err := task.IngestDefinition()
		if err != nil {
			return errors.Wrapf(err, "task %s has an unreadable definition", task.ID)
		}
		id = def.Datasource.ID
	}
	if id == "" {
		return errors.Errorf("task %s names no datasource", task.ID)
	}

	ds, sealed, err := r.datasources.Get(id)
	if err != nil {
		return errors.Wrapf(err, "loading datasource %s", id)
	}
	if !ds.Enabled {
		r.logger.Info().Str("datasource", ds.Name).Msg("datasource disabled, skipping run")
		return nil
	}
	conn, err := utils.OpenConnection(sealed)
	if err != nil {
		return errors.Wrapf(err, "unsealing connection for datasource %s", ds.Name)
	}
	ds.Connection = conn

	r.logger.Info().Str("datasource", ds.Name).Str("type", string(ds.Type)).Msg("starting synchronization")
	return r.engine.Synchronize(ctx, ds)
}
