// Package connector adapts external document stores behind one capability
// interface: enumerate objects, fetch one to local storage, probe existence.
// The sync engine is parameterized only by this interface; adding a source
// type means adding one implementation here.
package connector

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ametnes/nesis-sub000/internal/models"
)

// ObjectRef identifies one external object during enumeration.
type ObjectRef struct {
	// SourceID is the external system's best stable identity: an etag, a
	// unique id, or a hash derived from the canonical URL.
	SourceID string
	// SelfLink is the canonical URL-like string identifying the object
	// within its source; it doubles as the lock key.
	SelfLink string
	Filename string
	LastModified time.Time
	Size         int64
	// StoreMetadata is persisted on the ledger row and later handed back to
	// Exists during reconciliation.
	StoreMetadata map[string]interface{}
}

// Connector is one external document-store adapter.
type Connector interface {
	Type() models.DatasourceType

	// Discover enumerates objects using the store's native paging. The
	// object channel is closed when enumeration ends; a value on the error
	// channel means the source could not be listed and the whole pass must
	// abort.
	Discover(ctx context.Context) (<-chan ObjectRef, <-chan error)

	// Fetch downloads one object into destDir and returns the local path.
	// The caller removes the file.
	Fetch(ctx context.Context, ref ObjectRef, destDir string) (string, error)

	// Exists is the reconciliation probe: given a ledger row's store
	// metadata, report whether the source object is still present. An error
	// means the answer is ambiguous and nothing may be deleted.
	Exists(ctx context.Context, storeMetadata map[string]interface{}) (bool, error)

	Close() error
}

// New builds the connector for a datasource. The datasource's connection map
// must already be validated.
func New(ds models.Datasource, logger zerolog.Logger) (Connector, error) {
	switch ds.Type {
	case models.DatasourceMinio, models.DatasourceS3:
		return newMinioConnector(ds, logger)
	case models.DatasourceShare:
		return newShareConnector(ds, logger)
	case models.DatasourceSharepoint:
		return newSharepointConnector(ds, logger)
	default:
		return nil, errors.Errorf("datasource type %s has no sync connector", ds.Type)
	}
}
