package service

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ametnes/nesis-sub000/internal/models"
	"github.com/ametnes/nesis-sub000/internal/repository"
)

// RepositoryLister backs the authorization gate's wildcard expansion with
// the live repository contents.
type RepositoryLister struct {
	datasources repository.DatasourceRepository
	tasks       repository.TaskRepository
}

func NewRepositoryLister(datasources repository.DatasourceRepository, tasks repository.TaskRepository) *RepositoryLister {
	return &RepositoryLister{datasources: datasources, tasks: tasks}
}

func (l *RepositoryLister) ListEnabled(ctx context.Context, resourceType models.ResourceType) ([]string, error) {
	switch resourceType {
	case models.ResourceDatasources:
		return l.datasources.ListEnabledNames()
	case models.ResourceTasks:
		tasks, err := l.tasks.List()
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(tasks))
		for _, task := range tasks {
			if task.Enabled {
				names = append(names, task.ID)
			}
		}
		return names, nil
	default:
		return nil, errors.Errorf("unknown resource type %s", resourceType)
	}
}
