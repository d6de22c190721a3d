package domain

import "time"

// BlobBackend identifies where a ContentBlob's bytes physically live.
type BlobBackend string

const (
	BlobBackendPostgres BlobBackend = "postgres" // bytea row, referenced by key
	BlobBackendS3       BlobBackend = "s3"
)

// ContentBlob is a content-addressed payload. The pair (Backend, StorageKey)
// uniquely locates the bytes; Sha256 is the canonical dedup key used to
// decide whether a new upload can reuse an existing blob. Dedup is advisory:
// two blobs with the same sha256 may legitimately coexist if written
// concurrently before either commits, and the GC sweep does not merge them.
type ContentBlob struct {
	ID          string     `json:"id"`
	Backend     BlobBackend `json:"backend"`
	StorageKey  string     `json:"storage_key"`
	SizeBytes   int64      `json:"size_bytes"`
	Sha256      string     `json:"sha256"`
	ContentType string     `json:"content_type"`
	CreatedAt   time.Time  `json:"created_at"`
	OrphanedAt  *time.Time `json:"orphaned_at,omitempty"`
}

// IsOrphaned reports whether the GC mark phase has flagged this blob as
// unreferenced.
func (b *ContentBlob) IsOrphaned() bool {
	return b.OrphanedAt != nil
}
