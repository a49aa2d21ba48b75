package repository

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/ametnes/nesis-sub000/internal/apperr"
	"github.com/ametnes/nesis-sub000/internal/models"
)

type TaskRepository interface {
	Create(task models.Task) (models.Task, error)
	Get(id string) (models.Task, error)
	List() ([]models.Task, error)
	ListByParent(parentID string) ([]models.Task, error)
	Update(task models.Task) (models.Task, error)
	UpdateStatus(id string, status models.TaskStatus) error
	Delete(id string) error
}

type taskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) TaskRepository {
	return &taskRepository{db: db}
}

const taskColumns = `id, type, schedule, parent_id, definition, enabled, status, created_at, updated_at`

func (r *taskRepository) Create(task models.Task) (models.Task, error) {
	query := `
		INSERT INTO nesis.tasks (type, schedule, parent_id, definition, enabled, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(query,
		task.Type,
		task.Schedule,
		task.ParentID,
		task.Definition,
		task.Enabled,
		task.Status,
	).Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return task, apperr.Conflict("Task already scheduled on this type")
		}
		return task, err
	}
	return task, nil
}

func (r *taskRepository) Get(id string) (models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM nesis.tasks WHERE id = $1`
	return r.scanOne(r.db.QueryRow(query, id))
}

func (r *taskRepository) scanOne(row *sql.Row) (models.Task, error) {
	var task models.Task
	err := row.Scan(
		&task.ID,
		&task.Type,
		&task.Schedule,
		&task.ParentID,
		&task.Definition,
		&task.Enabled,
		&task.Status,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return task, apperr.ErrNotFound
		}
		return task, err
	}
	return task, nil
}

func (r *taskRepository) List() ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM nesis.tasks ORDER BY created_at DESC`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanAll(rows)
}

func (r *taskRepository) ListByParent(parentID string) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM nesis.tasks WHERE parent_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(query, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanAll(rows)
}

func (r *taskRepository) scanAll(rows *sql.Rows) ([]models.Task, error) {
	var tasks []models.Task
	for rows.Next() {
		var task models.Task
		if err := rows.Scan(
			&task.ID,
			&task.Type,
			&task.Schedule,
			&task.ParentID,
			&task.Definition,
			&task.Enabled,
			&task.Status,
			&task.CreatedAt,
			&task.UpdatedAt,
		); err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (r *taskRepository) Update(task models.Task) (models.Task, error) {
	query := `
		UPDATE nesis.tasks
		SET schedule = $2, definition = $3, enabled = $4, status = $5, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(query, task.ID, task.Schedule, task.Definition, task.Enabled, task.Status).
		Scan(&task.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return task, apperr.ErrNotFound
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return task, apperr.Conflict("Task already scheduled on this type")
		}
		return task, err
	}
	return task, nil
}

func (r *taskRepository) UpdateStatus(id string, status models.TaskStatus) error {
	res, err := r.db.Exec(`
		UPDATE nesis.tasks
		SET status = $2, updated_at = now()
		WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *taskRepository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM nesis.tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
