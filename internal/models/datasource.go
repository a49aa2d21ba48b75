package models

import (
	"regexp"
	"time"
)

type DatasourceType string

const (
	DatasourceMinio      DatasourceType = "minio"
	DatasourceS3         DatasourceType = "s3"
	DatasourceShare      DatasourceType = "windows_share"
	DatasourceSharepoint DatasourceType = "sharepoint"
	DatasourceRDBMS      DatasourceType = "rdbms"
)

type DatasourceStatus string

const (
	DatasourceOnline    DatasourceStatus = "ONLINE"
	DatasourceOffline   DatasourceStatus = "OFFLINE"
	DatasourceIngesting DatasourceStatus = "INGESTING"
)

// namePattern matches lowercase names usable as stable resource identifiers.
var namePattern = regexp.MustCompile(`^[a-z0-9_-]{5,}$`)

// Datasource is a configured external document source. Connection holds the
// type-specific parameters; secrets inside it are sealed at rest and redacted
// on API reads.
type Datasource struct {
	ID         string            `json:"id" db:"id"`
	Name       string            `json:"name" db:"name"`
	Type       DatasourceType    `json:"type" db:"type"`
	Connection map[string]string `json:"connection,omitempty" db:"-"`
	Enabled    bool              `json:"enabled" db:"enabled"`
	Status     DatasourceStatus  `json:"status" db:"status"`
	Schedule   string            `json:"schedule,omitempty" db:"schedule"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at" db:"updated_at"`
}

func ValidDatasourceName(name string) bool {
	return namePattern.MatchString(name)
}

func ValidDatasourceType(t DatasourceType) bool {
	switch t {
	case DatasourceMinio, DatasourceS3, DatasourceShare, DatasourceSharepoint, DatasourceRDBMS:
		return true
	}
	return false
}

// secretKeys are connection parameters that must never be returned on reads.
var secretKeys = []string{"password", "secret_key", "client_secret"}

// Redacted returns a copy of the datasource with secret connection values
// blanked out.
func (d Datasource) Redacted() Datasource {
	if d.Connection == nil {
		return d
	}
	conn := make(map[string]string, len(d.Connection))
	for k, v := range d.Connection {
		conn[k] = v
	}
	for _, k := range secretKeys {
		if _, ok := conn[k]; ok {
			conn[k] = ""
		}
	}
	d.Connection = conn
	return d
}

// BaseURI returns the endpoint/share root that scopes this datasource's
// document ledger rows.
func (d Datasource) BaseURI() string {
	switch d.Type {
	case DatasourceShare:
		return d.Connection["endpoint"]
	case DatasourceSharepoint:
		return d.Connection["site_url"]
	default:
		return d.Connection["endpoint"]
	}
}
