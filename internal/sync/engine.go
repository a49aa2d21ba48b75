// Package sync drives the shared per-connector synchronization algorithm:
// lock, fetch, modified-check, ingest-or-skip, bookkeeping, and the trailing
// reconciliation pass that removes ledger rows whose source objects vanished.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/ametnes/nesis-sub000/internal/apperr"
	"github.com/ametnes/nesis-sub000/internal/connector"
	"github.com/ametnes/nesis-sub000/internal/lock"
	"github.com/ametnes/nesis-sub000/internal/models"
	"github.com/ametnes/nesis-sub000/internal/repository"
)

// RagClient is the slice of the RAG engine contract the engine needs.
type RagClient interface {
	IngestFile(ctx context.Context, path string, metadata map[string]interface{}) (json.RawMessage, error)
	DeleteDocument(ctx context.Context, docID string) error
}

// ConnectorFactory builds the connector for a datasource.
type ConnectorFactory func(ds models.Datasource) (connector.Connector, error)

type Config struct {
	Workers   int
	BatchSize int
	TempDir   string
}

type Engine struct {
	documents repository.DocumentRepository
	rag       RagClient
	locker    lock.Locker
	factory   ConnectorFactory
	cfg       Config
	logger    zerolog.Logger
}

func NewEngine(documents repository.DocumentRepository, rag RagClient, locker lock.Locker, factory ConnectorFactory, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Engine{
		documents: documents,
		rag:       rag,
		locker:    locker,
		factory:   factory,
		cfg:       cfg,
		logger:    logger.With().Str("component", "sync").Logger(),
	}
}

// Synchronize runs one full pass for a datasource: enumeration with
// per-object work, then reconciliation. Per-object failures are logged and
// counted; only a failure to enumerate the source at all aborts the pass.
func (e *Engine) Synchronize(ctx context.Context, ds models.Datasource) error {
	logger := e.logger.With().Str("datasource", ds.Name).Logger()

	conn, err := e.factory(ds)
	if err != nil {
		return err
	}
	defer conn.Close()

	var processed, skipped, failed int64

	objects, errc := conn.Discover(ctx)
	sem := semaphore.NewWeighted(int64(e.cfg.Workers))
	var wg sync.WaitGroup

	batch := make([]connector.ObjectRef, 0, e.cfg.BatchSize)
	flush := func() {
		for _, ref := range batch {
			// On cancellation stop spawning, but still fall through to the
			// drain below: workers already started hold the connector.
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(ref connector.ObjectRef) {
				defer wg.Done()
				defer sem.Release(1)
				switch err := e.processObject(ctx, logger, ds, conn, ref); {
				case err == nil:
					atomic.AddInt64(&processed, 1)
				case errors.Is(err, apperr.ErrLocked):
					atomic.AddInt64(&skipped, 1)
				default:
					atomic.AddInt64(&failed, 1)
					logger.Error().Err(err).
						Str("self_link", ref.SelfLink).
						Str("filename", ref.Filename).
						Msg("failed to process object")
				}
			}(ref)
		}
		// Reconciliation must never interleave with in-flight ingests, so
		// each batch drains before the next starts.
		wg.Wait()
		batch = batch[:0]
	}

	for ref := range objects {
		batch = append(batch, ref)
		if len(batch) >= e.cfg.BatchSize {
			flush()
		}
	}
	flush()

	// A value here means the source could not be fully listed; abort before
	// reconciliation so a partial listing never triggers deletions.
	if err := <-errc; err != nil {
		return err
	}

	e.reconcile(ctx, logger, ds, conn)

	logger.Info().
		Int64("processed", processed).
		Int64("skipped", skipped).
		Int64("failed", failed).
		Msg("synchronization pass complete")
	return nil
}

func (e *Engine) processObject(ctx context.Context, logger zerolog.Logger, ds models.Datasource, conn connector.Connector, ref connector.ObjectRef) error {
	release, err := e.locker.Acquire(ctx, ref.SelfLink)
	if err != nil {
		if errors.Is(err, apperr.ErrLocked) {
			logger.Debug().Str("self_link", ref.SelfLink).Msg("object already being processed, skipping")
		}
		return err
	}
	defer release()

	path, err := conn.Fetch(ctx, ref, e.cfg.TempDir)
	if err != nil {
		return err
	}
	defer os.Remove(path)

	existing, err := e.documents.GetBySourceID(ref.SourceID)
	switch {
	case err == nil:
		if !NormalizeTime(ref.LastModified).After(NormalizeTime(existing.LastModified)) {
			logger.Debug().Str("self_link", ref.SelfLink).Msg("object unchanged, skipping")
			return nil
		}
		// A newer version exists upstream: drop the stale downstream
		// documents and the ledger row, then re-ingest. Both deletes are
		// best effort.
		for _, docID := range existing.RagDocumentIDs() {
			if err := e.rag.DeleteDocument(ctx, docID); err != nil {
				logger.Warn().Err(err).Str("doc_id", docID).Msg("failed to delete stale rag document")
			}
		}
		if err := e.documents.Delete(existing.ID); err != nil {
			logger.Warn().Err(err).Str("document", existing.ID).Msg("failed to delete stale ledger row")
		}
	case errors.Is(err, apperr.ErrNotFound):
		// New object.
	default:
		return err
	}

	metadata := map[string]interface{}{
		"datasource": ds.Name,
		"file_name":  ref.Filename,
		"self_link":  ref.SelfLink,
	}
	ragMetadata, err := e.rag.IngestFile(ctx, path, metadata)
	if err != nil {
		if errors.Is(err, apperr.ErrPermanentIngest) {
			logger.Warn().Err(err).Str("self_link", ref.SelfLink).Msg("object permanently rejected by rag engine")
			return nil
		}
		return err
	}

	storeMetadata, err := json.Marshal(ref.StoreMetadata)
	if err != nil {
		return err
	}
	_, err = e.documents.Upsert(models.Document{
		SourceID:      ref.SourceID,
		BaseURI:       ds.BaseURI(),
		Filename:      ref.Filename,
		RagMetadata:   ragMetadata,
		StoreMetadata: storeMetadata,
		LastModified:  NormalizeTime(ref.LastModified),
	})
	return err
}

// reconcile deletes ledger rows whose source objects no longer exist. An
// ambiguous probe leaves the row untouched for the next scheduled run.
func (e *Engine) reconcile(ctx context.Context, logger zerolog.Logger, ds models.Datasource, conn connector.Connector) {
	documents, err := e.documents.ListByBaseURI(ds.BaseURI())
	if err != nil {
		logger.Error().Err(err).Msg("failed to load ledger for reconciliation")
		return
	}

	for _, doc := range documents {
		exists, err := conn.Exists(ctx, doc.StoreMeta())
		if err != nil {
			logger.Warn().Err(err).
				Str("filename", doc.Filename).
				Msg("existence probe failed, keeping ledger row")
			continue
		}
		if exists {
			continue
		}
		for _, docID := range doc.RagDocumentIDs() {
			if err := e.rag.DeleteDocument(ctx, docID); err != nil {
				logger.Warn().Err(err).Str("doc_id", docID).Msg("failed to delete rag document")
			}
		}
		if err := e.documents.Delete(doc.ID); err != nil {
			logger.Warn().Err(err).Str("document", doc.ID).Msg("failed to delete ledger row")
			continue
		}
		logger.Info().Str("filename", doc.Filename).Msg("removed document no longer present upstream")
	}
}

// NormalizeTime strips sub-second precision and pins the zone to UTC so that
// modification times from heterogeneous connectors compare consistently.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
