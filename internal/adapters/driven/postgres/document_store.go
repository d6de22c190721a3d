package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/meridian-search/meridian-core/internal/core/domain"
	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DocumentStore = (*DocumentStore)(nil)

// DocumentStore implements driven.DocumentStore using PostgreSQL. The
// lexical tsvector column is maintained here rather than via a trigger, so
// indexing stays visible in Go instead of hidden in the schema.
type DocumentStore struct {
	db *DB
}

// NewDocumentStore creates a new DocumentStore.
func NewDocumentStore(db *DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// Upsert creates or replaces a document, recomputing its lexical vector
// from the title alone (weight 'A').
func (s *DocumentStore) Upsert(ctx context.Context, doc *domain.Document) error {
	query := `
		INSERT INTO documents (
			id, source_id, external_id, title, content_id, mime_type, size_bytes,
			url, parent_id, metadata, permissions, attributes, lexical,
			created_at, updated_at, indexed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			setweight(to_tsvector('english', $4), 'A'), $13, $14, $15
		)
		ON CONFLICT (source_id, external_id) DO UPDATE SET
			title = EXCLUDED.title,
			content_id = EXCLUDED.content_id,
			mime_type = EXCLUDED.mime_type,
			size_bytes = EXCLUDED.size_bytes,
			url = EXCLUDED.url,
			parent_id = EXCLUDED.parent_id,
			metadata = EXCLUDED.metadata,
			permissions = EXCLUDED.permissions,
			attributes = EXCLUDED.attributes,
			lexical = EXCLUDED.lexical,
			updated_at = EXCLUDED.updated_at,
			indexed_at = EXCLUDED.indexed_at
	`
	_, err := s.db.ExecContext(ctx, query,
		doc.ID, doc.SourceID, doc.ExternalID, doc.Title, nullStringVal(doc.ContentID),
		doc.MimeType, doc.SizeBytes, nullStringVal(doc.URL), nullStringVal(doc.ParentID),
		rawOrEmptyObject(doc.Metadata), rawOrEmptyObject(doc.Permissions), rawOrEmptyObject(doc.Attributes),
		doc.CreatedAt, doc.UpdatedAt, doc.IndexedAt,
	)
	return err
}

func nullStringVal(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func rawOrEmptyObject(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

// Get retrieves a document by id.
func (s *DocumentStore) Get(ctx context.Context, id string) (*domain.Document, error) {
	query := `
		SELECT id, source_id, external_id, title, content_id, mime_type, size_bytes,
		       url, parent_id, metadata, permissions, attributes, created_at, updated_at, indexed_at
		FROM documents WHERE id = $1
	`
	return scanDocument(s.db.QueryRowContext(ctx, query, id))
}

// GetBySourceAndExternalID retrieves a document by its natural key.
func (s *DocumentStore) GetBySourceAndExternalID(ctx context.Context, sourceID, externalID string) (*domain.Document, error) {
	query := `
		SELECT id, source_id, external_id, title, content_id, mime_type, size_bytes,
		       url, parent_id, metadata, permissions, attributes, created_at, updated_at, indexed_at
		FROM documents WHERE source_id = $1 AND external_id = $2
	`
	return scanDocument(s.db.QueryRowContext(ctx, query, sourceID, externalID))
}

func scanDocument(row docRowScanner) (*domain.Document, error) {
	var doc domain.Document
	var contentID, url, parentID sql.NullString
	var metadata, permissions, attributes []byte

	err := row.Scan(
		&doc.ID, &doc.SourceID, &doc.ExternalID, &doc.Title, &contentID, &doc.MimeType, &doc.SizeBytes,
		&url, &parentID, &metadata, &permissions, &attributes, &doc.CreatedAt, &doc.UpdatedAt, &doc.IndexedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	doc.ContentID = contentID.String
	doc.URL = url.String
	doc.ParentID = parentID.String
	doc.Metadata = json.RawMessage(metadata)
	doc.Permissions = json.RawMessage(permissions)
	doc.Attributes = json.RawMessage(attributes)
	return &doc, nil
}

type docRowScanner interface {
	Scan(dest ...any) error
}

// Delete removes a document.
func (s *DocumentStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteBySource removes all documents belonging to a source.
func (s *DocumentStore) DeleteBySource(ctx context.Context, sourceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE source_id = $1`, sourceID)
	return err
}

// CountBySource returns the number of documents indexed for a source.
func (s *DocumentStore) CountBySource(ctx context.Context, sourceID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE source_id = $1`, sourceID).Scan(&count)
	return count, err
}

// ListTypeaheadEntries pages through documents ordered by id, for feeding a
// typeahead.Index rebuild without loading the whole corpus into memory at
// once.
func (s *DocumentStore) ListTypeaheadEntries(ctx context.Context, afterID string, limit int) ([]domain.TypeaheadEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, COALESCE(url, ''), source_id
		FROM documents
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.TypeaheadEntry
	for rows.Next() {
		var e domain.TypeaheadEntry
		if err := rows.Scan(&e.ID, &e.Title, &e.URL, &e.SourceID); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkIndexed stamps indexed_at to now, used after a search engine push
// succeeds independently of the row's own update.
func (s *DocumentStore) MarkIndexed(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE documents SET indexed_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}
