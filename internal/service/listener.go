package service

import (
	"github.com/rs/zerolog"

	"github.com/ametnes/nesis-sub000/internal/models"
	"github.com/ametnes/nesis-sub000/internal/repository"
)

// StatusListener mirrors scheduler run transitions onto the task row and,
// for ingest tasks, onto the parent datasource. Rows that no longer exist
// are logged and ignored so a late callback never fails a run.
type StatusListener struct {
	tasks       repository.TaskRepository
	datasources repository.DatasourceRepository
	logger      zerolog.Logger
}

func NewStatusListener(tasks repository.TaskRepository, datasources repository.DatasourceRepository, logger zerolog.Logger) *StatusListener {
	return &StatusListener{
		tasks:       tasks,
		datasources: datasources,
		logger:      logger.With().Str("component", "listener").Logger(),
	}
}

func (l *StatusListener) OnSubmitted(task models.Task) {
	l.setTaskStatus(task, models.TaskRunning)
	l.setDatasourceStatus(task, models.DatasourceIngesting)
}

func (l *StatusListener) OnCompleted(task models.Task) {
	l.setTaskStatus(task, models.TaskCompleted)
	l.setDatasourceStatus(task, models.DatasourceOnline)
}

// OnError marks the task failed but restores the datasource to online: the
// source itself is still reachable even when a run was not.
func (l *StatusListener) OnError(task models.Task, err error) {
	l.logger.Warn().Err(err).Str("task", task.ID).Msg("run finished with error")
	l.setTaskStatus(task, models.TaskError)
	l.setDatasourceStatus(task, models.DatasourceOnline)
}

func (l *StatusListener) setTaskStatus(task models.Task, status models.TaskStatus) {
	if err := l.tasks.UpdateStatus(task.ID, status); err != nil {
		l.logger.Warn().Err(err).Str("task", task.ID).Str("status", string(status)).Msg("failed to record task status")
	}
}

func (l *StatusListener) setDatasourceStatus(task models.Task, status models.DatasourceStatus) {
	if task.Type != models.TaskIngestDatasource {
		return
	}
	id := task.ParentID
	if id == "" {
		def, err := task.IngestDefinition()
		if err != nil {
			l.logger.Warn().Err(err).Str("task", task.ID).Msg("unreadable task definition")
			return
		}
		id = def.Datasource.ID
	}
	if id == "" {
		return
	}
	if err := l.datasources.UpdateStatus(id, status); err != nil {
		l.logger.Warn().Err(err).Str("datasource", id).Str("status", string(status)).Msg("failed to record datasource status")
	}
}
