package models

import (
	"encoding/json"
	"time"
)

// Document is one ledger row proving an external object has been synchronized
// into the RAG engine. SourceID is the external system's best stable identity
// (etag, unique id, or a derived hash); BaseURI scopes all rows belonging to
// one endpoint/share root.
type Document struct {
	ID            string          `json:"id" db:"id"`
	SourceID      string          `json:"uuid" db:"uuid"`
	BaseURI       string          `json:"base_uri" db:"base_uri"`
	Filename      string          `json:"filename" db:"filename"`
	RagMetadata   json.RawMessage `json:"rag_metadata" db:"rag_metadata"`
	StoreMetadata json.RawMessage `json:"store_metadata" db:"store_metadata"`
	LastModified  time.Time       `json:"last_modified" db:"last_modified"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// RagDocumentIDs extracts the downstream document ids recorded by the ingest
// call, needed later to request deletion.
func (d Document) RagDocumentIDs() []string {
	var payload struct {
		Data []struct {
			DocID string `json:"doc_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(d.RagMetadata, &payload); err != nil {
		return nil
	}
	ids := make([]string, 0, len(payload.Data))
	for _, entry := range payload.Data {
		if entry.DocID != "" {
			ids = append(ids, entry.DocID)
		}
	}
	return ids
}

// StoreMeta decodes the connector-specific bookkeeping map.
func (d Document) StoreMeta() map[string]interface{} {
	var meta map[string]interface{}
	if err := json.Unmarshal(d.StoreMetadata, &meta); err != nil {
		return map[string]interface{}{}
	}
	return meta
}
