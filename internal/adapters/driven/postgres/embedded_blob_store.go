package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/meridian-search/meridian-core/internal/core/domain"
	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.BlobStore = (*EmbeddedBlobStore)(nil)

// EmbeddedBlobStore implements driven.BlobStore directly against a bytea
// column, the backend for deployments that don't want to run a separate
// object store alongside Postgres.
type EmbeddedBlobStore struct {
	db *DB
}

// NewEmbeddedBlobStore creates a new embedded blob store.
func NewEmbeddedBlobStore(db *DB) *EmbeddedBlobStore {
	return &EmbeddedBlobStore{db: db}
}

func (s *EmbeddedBlobStore) Backend() domain.BlobBackend {
	return domain.BlobBackendPostgres
}

// Put writes r's contents under key, replacing any existing row.
func (s *EmbeddedBlobStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(io.LimitReader(r, size+1))
	if err != nil {
		return fmt.Errorf("read blob body: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO embedded_blob_data (storage_key, data, content_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (storage_key) DO UPDATE SET data = EXCLUDED.data, content_type = EXCLUDED.content_type
	`, key, data, contentType)
	return err
}

// Get returns a reader over a stored blob's bytes.
func (s *EmbeddedBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM embedded_blob_data WHERE storage_key = $1`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes a stored blob.
func (s *EmbeddedBlobStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM embedded_blob_data WHERE storage_key = $1`, key)
	return err
}
