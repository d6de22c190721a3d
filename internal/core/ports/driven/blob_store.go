package driven

import (
	"context"
	"io"
	"time"

	"github.com/meridian-search/meridian-core/internal/core/domain"
)

// BlobStore stores and retrieves content blob bytes. Two implementations
// exist: an embedded Postgres bytea-table backend for small deployments
// and an S3-compatible backend for larger ones; ContentBlob.Backend records
// which one wrote a given blob so reads route to the right adapter.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Backend() domain.BlobBackend
}

// ContentBlobStore tracks blob metadata rows independent of where the bytes
// physically live.
type ContentBlobStore interface {
	Save(ctx context.Context, blob *domain.ContentBlob) error
	Get(ctx context.Context, id string) (*domain.ContentBlob, error)
	GetBySha256(ctx context.Context, sha256 string) (*domain.ContentBlob, error)
	MarkReferenced(ctx context.Context, ids []string) error
	MarkOrphanedBefore(ctx context.Context, cutoff time.Time) (int, error)
	// UnmarkReferenced clears orphaned_at on any blob that a document or a
	// pending or processing queued event has started referencing again
	// since it was marked, rescuing it from a pending sweep.
	UnmarkReferenced(ctx context.Context) (int, error)
	ListOrphaned(ctx context.Context, olderThan time.Time, limit int) ([]*domain.ContentBlob, error)
	Delete(ctx context.Context, id string) error
}
