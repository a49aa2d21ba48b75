package models

import "time"

type JobKind string

const (
	JobCron JobKind = "cron"
	JobOnce JobKind = "once"
)

// SchedulerJob is one row of the durable job store. The job store is the
// source of truth for when a task fires; the task row is the source of truth
// for what runs and its status.
type SchedulerJob struct {
	TaskID    string     `json:"task_id" db:"task_id"`
	Schedule  string     `json:"schedule" db:"schedule"`
	Kind      JobKind    `json:"kind" db:"kind"`
	NextRunAt *time.Time `json:"next_run_at" db:"next_run_at"`
	Paused    bool       `json:"paused" db:"paused"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}
