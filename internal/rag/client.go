// Package rag is the HTTP client for the downstream retrieval engine's ingest
// and delete contract.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/ametnes/nesis-sub000/internal/apperr"
)

// Client talks to the RAG engine. Responses from the ingest endpoints are kept
// opaque; the caller stores them verbatim so the recorded doc_ids can drive
// later deletions.
type Client struct {
	endpoint string
	http     *http.Client
	logger   zerolog.Logger
}

func NewClient(endpoint string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "rag").Logger(),
	}
}

// IngestFile submits a fetched file via multipart POST /v1/ingest/files.
func (c *Client) IngestFile(ctx context.Context, path string, metadata map[string]interface{}) (json.RawMessage, error) {
	var result json.RawMessage
	do := func(ctx context.Context) error {
		file, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "open %s", path)
		}
		defer file.Close()

		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, file); err != nil {
			return err
		}
		metaJSON, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		if err := writer.WriteField("metadata", string(metaJSON)); err != nil {
			return err
		}
		if err := writer.Close(); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/ingest/files", body)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())

		raw, err := c.send(req)
		if err != nil {
			return err
		}
		result = raw
		return nil
	}

	if err := retry.Do(ctx, c.backoff(), do); err != nil {
		return nil, err
	}
	return result, nil
}

// IngestText submits inline text via POST /v1/ingest/texts.
func (c *Client) IngestText(ctx context.Context, text, fileName string, metadata map[string]interface{}) (json.RawMessage, error) {
	var result json.RawMessage
	do := func(ctx context.Context) error {
		payload, err := json.Marshal(map[string]interface{}{
			"metadata":  metadata,
			"text":      text,
			"file_name": fileName,
		})
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/ingest/texts", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		raw, err := c.send(req)
		if err != nil {
			return err
		}
		result = raw
		return nil
	}

	if err := retry.Do(ctx, c.backoff(), do); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteDocument removes one downstream document. Callers treat failures as
// best-effort.
func (c *Client) DeleteDocument(ctx context.Context, docID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint+"/v1/ingest/documents/"+docID, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete document %s: status %d", docID, resp.StatusCode)
	}
	return nil
}

func (c *Client) send(req *http.Request) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, retry.RetryableError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.RetryableError(err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return raw, nil
	case resp.StatusCode == http.StatusConflict:
		// The remote side reported the same per-object lock collision.
		return nil, apperr.ErrLocked
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		c.logger.Warn().Int("status", resp.StatusCode).Str("body", string(raw)).Msg("ingest rejected")
		return nil, errors.Wrapf(apperr.ErrPermanentIngest, "status %d", resp.StatusCode)
	default:
		return nil, retry.RetryableError(fmt.Errorf("rag engine status %d: %s", resp.StatusCode, raw))
	}
}

func (c *Client) backoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
}
