package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ametnes/nesis-sub000/internal/apperr"
	"github.com/ametnes/nesis-sub000/internal/models"
)

// JobRepository persists scheduler triggers. Due rows are claimed inside a
// transaction with FOR UPDATE SKIP LOCKED so that concurrent server instances
// never fire the same trigger twice.
type JobRepository interface {
	Upsert(job models.SchedulerJob) error
	Get(taskID string) (models.SchedulerJob, error)
	List() ([]models.SchedulerJob, error)
	SetPaused(taskID string, paused bool) error
	Delete(taskID string) error

	// ClaimDue selects at most limit due jobs, invokes advance for each to
	// compute the trigger's next firing (nil retires the row), and commits
	// the claim atomically. The returned jobs carry the fire time that was
	// claimed in NextRunAt.
	ClaimDue(ctx context.Context, now time.Time, limit int, advance func(models.SchedulerJob) (*time.Time, error)) ([]models.SchedulerJob, error)
}

type jobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) JobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) Upsert(job models.SchedulerJob) error {
	query := `
		INSERT INTO nesis.scheduler_jobs (task_id, schedule, kind, next_run_at, paused)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (task_id) DO UPDATE
		SET schedule = EXCLUDED.schedule,
		    kind = EXCLUDED.kind,
		    next_run_at = EXCLUDED.next_run_at,
		    paused = EXCLUDED.paused,
		    updated_at = now()
	`
	_, err := r.db.Exec(query, job.TaskID, job.Schedule, job.Kind, job.NextRunAt, job.Paused)
	return err
}

func (r *jobRepository) Get(taskID string) (models.SchedulerJob, error) {
	query := `
		SELECT task_id, schedule, kind, next_run_at, paused, created_at, updated_at
		FROM nesis.scheduler_jobs
		WHERE task_id = $1
	`
	var job models.SchedulerJob
	var next sql.NullTime
	err := r.db.QueryRow(query, taskID).Scan(
		&job.TaskID,
		&job.Schedule,
		&job.Kind,
		&next,
		&job.Paused,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return job, apperr.ErrNotFound
		}
		return job, err
	}
	if next.Valid {
		job.NextRunAt = &next.Time
	}
	return job, nil
}

func (r *jobRepository) List() ([]models.SchedulerJob, error) {
	query := `
		SELECT task_id, schedule, kind, next_run_at, paused, created_at, updated_at
		FROM nesis.scheduler_jobs
		ORDER BY next_run_at ASC NULLS LAST
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.SchedulerJob
	for rows.Next() {
		var job models.SchedulerJob
		var next sql.NullTime
		if err := rows.Scan(
			&job.TaskID,
			&job.Schedule,
			&job.Kind,
			&next,
			&job.Paused,
			&job.CreatedAt,
			&job.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if next.Valid {
			job.NextRunAt = &next.Time
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *jobRepository) SetPaused(taskID string, paused bool) error {
	res, err := r.db.Exec(`
		UPDATE nesis.scheduler_jobs
		SET paused = $2, updated_at = now()
		WHERE task_id = $1
	`, taskID, paused)
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

func (r *jobRepository) Delete(taskID string) error {
	_, err := r.db.Exec(`DELETE FROM nesis.scheduler_jobs WHERE task_id = $1`, taskID)
	return err
}

func (r *jobRepository) ClaimDue(ctx context.Context, now time.Time, limit int, advance func(models.SchedulerJob) (*time.Time, error)) ([]models.SchedulerJob, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT task_id, schedule, kind, next_run_at, paused, created_at, updated_at
		FROM nesis.scheduler_jobs
		WHERE NOT paused AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`
	rows, err := tx.QueryContext(ctx, query, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select due jobs: %w", err)
	}

	var claimed []models.SchedulerJob
	for rows.Next() {
		var job models.SchedulerJob
		var next sql.NullTime
		if err := rows.Scan(
			&job.TaskID,
			&job.Schedule,
			&job.Kind,
			&next,
			&job.Paused,
			&job.CreatedAt,
			&job.UpdatedAt,
		); err != nil {
			rows.Close()
			return nil, err
		}
		if next.Valid {
			job.NextRunAt = &next.Time
		}
		claimed = append(claimed, job)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, job := range claimed {
		nextRun, err := advance(job)
		if err != nil {
			return nil, fmt.Errorf("failed to advance job %s: %w", job.TaskID, err)
		}
		if nextRun == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM nesis.scheduler_jobs WHERE task_id = $1`, job.TaskID); err != nil {
				return nil, err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE nesis.scheduler_jobs
			SET next_run_at = $2, updated_at = now()
			WHERE task_id = $1
		`, job.TaskID, nextRun.UTC()); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return claimed, nil
}
