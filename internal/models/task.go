package models

import (
	"encoding/json"
	"time"
)

type TaskType string

const (
	TaskIngestDatasource TaskType = "ingest_datasource"
)

type TaskStatus string

const (
	TaskCreated   TaskStatus = "CREATED"
	TaskRunning   TaskStatus = "RUNNING"
	TaskPaused    TaskStatus = "PAUSED"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskError     TaskStatus = "ERROR"
)

// Task is a scheduled unit of work. ParentID is a soft reference to the
// resource the task targets (currently always a datasource id); there is no
// foreign key so future parent types stay possible.
type Task struct {
	ID         string          `json:"id" db:"id"`
	Type       TaskType        `json:"type" db:"type"`
	Schedule   string          `json:"schedule" db:"schedule"`
	ParentID   string          `json:"parent_id" db:"parent_id"`
	Definition json.RawMessage `json:"definition" db:"definition"`
	Enabled    bool            `json:"enabled" db:"enabled"`
	Status     TaskStatus      `json:"status" db:"status"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// IngestDefinition is the payload of an ingest_datasource task.
type IngestDefinition struct {
	Datasource struct {
		ID string `json:"id"`
	} `json:"datasource"`
}

func NewIngestDefinition(datasourceID string) json.RawMessage {
	var def IngestDefinition
	def.Datasource.ID = datasourceID
	raw, _ := json.Marshal(def)
	return raw
}

func (t Task) IngestDefinition() (IngestDefinition, error) {
	var def IngestDefinition
	err := json.Unmarshal(t.Definition, &def)
	return def, err
}
