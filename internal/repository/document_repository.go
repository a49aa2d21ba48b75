package repository

import (
	"database/sql"
	"errors"

	"github.com/ametnes/nesis-sub000/internal/apperr"
	"github.com/ametnes/nesis-sub000/internal/models"
)

// DocumentRepository is the ledger of what has been synchronized. Rows are
// scoped to a datasource only by base_uri string match; this denormalization
// is deliberate so that a recreated datasource with the same endpoint reclaims
// its prior ledger.
type DocumentRepository interface {
	GetBySourceID(sourceID string) (models.Document, error)
	ListByBaseURI(baseURI string) ([]models.Document, error)
	Upsert(doc models.Document) (models.Document, error)
	Delete(id string) error
}

type documentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) DocumentRepository {
	return &documentRepository{db: db}
}

const documentColumns = `id, uuid, base_uri, filename, rag_metadata, store_metadata, last_modified, created_at`

func (r *documentRepository) GetBySourceID(sourceID string) (models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM nesis.documents WHERE uuid = $1`
	var doc models.Document
	err := r.db.QueryRow(query, sourceID).Scan(
		&doc.ID,
		&doc.SourceID,
		&doc.BaseURI,
		&doc.Filename,
		&doc.RagMetadata,
		&doc.StoreMetadata,
		&doc.LastModified,
		&doc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return doc, apperr.ErrNotFound
		}
		return doc, err
	}
	return doc, nil
}

func (r *documentRepository) ListByBaseURI(baseURI string) ([]models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM nesis.documents WHERE base_uri = $1`
	rows, err := r.db.Query(query, baseURI)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var documents []models.Document
	for rows.Next() {
		var doc models.Document
		if err := rows.Scan(
			&doc.ID,
			&doc.SourceID,
			&doc.BaseURI,
			&doc.Filename,
			&doc.RagMetadata,
			&doc.StoreMetadata,
			&doc.LastModified,
			&doc.CreatedAt,
		); err != nil {
			return nil, err
		}
		documents = append(documents, doc)
	}
	return documents, rows.Err()
}

func (r *documentRepository) Upsert(doc models.Document) (models.Document, error) {
	query := `
		INSERT INTO nesis.documents (uuid, base_uri, filename, rag_metadata, store_metadata, last_modified)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (uuid, base_uri, filename) DO UPDATE
		SET rag_metadata = EXCLUDED.rag_metadata,
		    store_metadata = EXCLUDED.store_metadata,
		    last_modified = EXCLUDED.last_modified
		RETURNING id, created_at
	`
	err := r.db.QueryRow(query,
		doc.SourceID,
		doc.BaseURI,
		doc.Filename,
		doc.RagMetadata,
		doc.StoreMetadata,
		doc.LastModified.UTC(),
	).Scan(&doc.ID, &doc.CreatedAt)
	return doc, err
}

func (r *documentRepository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM nesis.documents WHERE id = $1`, id)
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
