package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/meridian-search/meridian-core/internal/core/domain"
	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ContentBlobStore = (*ContentBlobStore)(nil)

// ContentBlobStore implements driven.ContentBlobStore, tracking blob
// metadata independent of which BlobStore backend wrote the bytes.
type ContentBlobStore struct {
	db *DB
}

// NewContentBlobStore creates a new ContentBlobStore.
func NewContentBlobStore(db *DB) *ContentBlobStore {
	return &ContentBlobStore{db: db}
}

// Save creates or updates a blob metadata row.
func (s *ContentBlobStore) Save(ctx context.Context, blob *domain.ContentBlob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content_blobs (id, backend, storage_key, size_bytes, sha256, content_type, created_at, orphaned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET orphaned_at = EXCLUDED.orphaned_at
	`, blob.ID, string(blob.Backend), blob.StorageKey, blob.SizeBytes, blob.Sha256, blob.ContentType, blob.CreatedAt, NullTime(blob.OrphanedAt))
	return err
}

func scanBlob(row interface{ Scan(dest ...any) error }) (*domain.ContentBlob, error) {
	var blob domain.ContentBlob
	var backend string
	var orphanedAt sql.NullTime
	if err := row.Scan(&blob.ID, &backend, &blob.StorageKey, &blob.SizeBytes, &blob.Sha256, &blob.ContentType, &blob.CreatedAt, &orphanedAt); err != nil {
		return nil, err
	}
	blob.Backend = domain.BlobBackend(backend)
	blob.OrphanedAt = TimePtr(orphanedAt)
	return &blob, nil
}

const blobColumns = `id, backend, storage_key, size_bytes, sha256, content_type, created_at, orphaned_at`

// Get retrieves a blob by id.
func (s *ContentBlobStore) Get(ctx context.Context, id string) (*domain.ContentBlob, error) {
	blob, err := scanBlob(s.db.QueryRowContext(ctx, `SELECT `+blobColumns+` FROM content_blobs WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return blob, err
}

// GetBySha256 finds an existing blob with the same content hash, used to
// dedup uploads before writing new bytes.
func (s *ContentBlobStore) GetBySha256(ctx context.Context, sha256 string) (*domain.ContentBlob, error) {
	blob, err := scanBlob(s.db.QueryRowContext(ctx, `SELECT `+blobColumns+` FROM content_blobs WHERE sha256 = $1 LIMIT 1`, sha256))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return blob, err
}

// MarkReferenced clears orphaned_at for blobs seen during a GC mark phase.
func (s *ContentBlobStore) MarkReferenced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE content_blobs SET orphaned_at = NULL WHERE id = ANY($1)`, pqTextArray(ids))
	return err
}

// MarkOrphanedBefore flags blobs created before cutoff that no document
// references and no pending or processing queued event names as its
// content_id.
func (s *ContentBlobStore) MarkOrphanedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE content_blobs SET orphaned_at = now()
		WHERE created_at < $1 AND orphaned_at IS NULL
		AND id NOT IN (SELECT content_id FROM documents WHERE content_id IS NOT NULL)
		AND id NOT IN (
			SELECT payload->>'content_id' FROM connector_events_queue
			WHERE status IN ('pending', 'processing') AND payload->>'content_id' IS NOT NULL
		)
	`, cutoff)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

// UnmarkReferenced clears orphaned_at on blobs that a document or a pending
// or processing queued event references again since they were marked,
// rescuing them from sweep.
func (s *ContentBlobStore) UnmarkReferenced(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE content_blobs SET orphaned_at = NULL
		WHERE orphaned_at IS NOT NULL
		AND (id IN (SELECT content_id FROM documents WHERE content_id IS NOT NULL)
			OR id IN (
				SELECT payload->>'content_id' FROM connector_events_queue
				WHERE status IN ('pending', 'processing') AND payload->>'content_id' IS NOT NULL
			))
	`)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

// ListOrphaned returns blobs flagged orphaned for longer than olderThan,
// the sweep phase's delete candidates.
func (s *ContentBlobStore) ListOrphaned(ctx context.Context, olderThan time.Time, limit int) ([]*domain.ContentBlob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+blobColumns+` FROM content_blobs
		WHERE orphaned_at IS NOT NULL AND orphaned_at < $1
		ORDER BY orphaned_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blobs []*domain.ContentBlob
	for rows.Next() {
		blob, err := scanBlob(rows)
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, blob)
	}
	return blobs, rows.Err()
}

// Delete removes a blob's metadata row.
func (s *ContentBlobStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM content_blobs WHERE id = $1`, id)
	return err
}

func pqTextArray(ids []string) string {
	s := "{"
	for i, id := range ids {
		if i > 0 {
			s += ","
		}
		s += `"` + id + `"`
	}
	return s + "}"
}
