package blobgc

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/meridian-search/meridian-core/internal/core/domain"
)

type mockContentBlobs struct {
	blobs        map[string]*domain.ContentBlob
	unmarkCalls  int
	unmarkResult int
	markResult   int
	// markSawUnmark records whether UnmarkReferenced had already run when
	// MarkOrphanedBefore was called.
	markSawUnmark bool
}

func newMockContentBlobs() *mockContentBlobs {
	return &mockContentBlobs{blobs: make(map[string]*domain.ContentBlob)}
}

func (m *mockContentBlobs) Save(ctx context.Context, blob *domain.ContentBlob) error {
	m.blobs[blob.ID] = blob
	return nil
}
func (m *mockContentBlobs) Get(ctx context.Context, id string) (*domain.ContentBlob, error) {
	if b, ok := m.blobs[id]; ok {
		return b, nil
	}
	return nil, domain.ErrNotFound
}
func (m *mockContentBlobs) GetBySha256(ctx context.Context, sha256 string) (*domain.ContentBlob, error) {
	return nil, domain.ErrNotFound
}
func (m *mockContentBlobs) MarkReferenced(ctx context.Context, ids []string) error { return nil }
func (m *mockContentBlobs) MarkOrphanedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.markSawUnmark = m.unmarkCalls > 0
	return m.markResult, nil
}
func (m *mockContentBlobs) UnmarkReferenced(ctx context.Context) (int, error) {
	m.unmarkCalls++
	return m.unmarkResult, nil
}
func (m *mockContentBlobs) ListOrphaned(ctx context.Context, olderThan time.Time, limit int) ([]*domain.ContentBlob, error) {
	var out []*domain.ContentBlob
	for _, b := range m.blobs {
		if b.OrphanedAt != nil && b.OrphanedAt.Before(olderThan) {
			out = append(out, b)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
func (m *mockContentBlobs) Delete(ctx context.Context, id string) error {
	delete(m.blobs, id)
	return nil
}

type mockBlobStore struct {
	deleted []string
	failFor map[string]bool
}

func (m *mockBlobStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return nil
}
func (m *mockBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) { return nil, nil }
func (m *mockBlobStore) Delete(ctx context.Context, key string) error {
	if m.failFor[key] {
		return domain.ErrNotFound
	}
	m.deleted = append(m.deleted, key)
	return nil
}
func (m *mockBlobStore) Backend() domain.BlobBackend { return domain.BlobBackendPostgres }

func TestRunOnce_SweepsExpiredOrphans(t *testing.T) {
	orphanedAt := time.Now().Add(-48 * time.Hour)
	stores := newMockContentBlobs()
	stores.blobs["blob1"] = &domain.ContentBlob{ID: "blob1", StorageKey: "key1", OrphanedAt: &orphanedAt}
	blobStore := &mockBlobStore{failFor: map[string]bool{}}

	gc := New(Config{
		ContentBlobs: stores,
		BlobStore:    blobStore,
		Retention:    24 * time.Hour,
		BatchSize:    10,
	})

	result, err := gc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Deleted != 1 {
		t.Errorf("expected 1 blob deleted, got %+v", result)
	}
	if _, ok := stores.blobs["blob1"]; ok {
		t.Error("expected blob1 metadata row to be deleted")
	}
	if len(blobStore.deleted) != 1 || blobStore.deleted[0] != "key1" {
		t.Errorf("expected key1 deleted from blob store, got %+v", blobStore.deleted)
	}
}

func TestRunOnce_SkipsOrphansWithinRetention(t *testing.T) {
	orphanedAt := time.Now().Add(-1 * time.Hour)
	stores := newMockContentBlobs()
	stores.blobs["blob1"] = &domain.ContentBlob{ID: "blob1", StorageKey: "key1", OrphanedAt: &orphanedAt}
	blobStore := &mockBlobStore{failFor: map[string]bool{}}

	gc := New(Config{
		ContentBlobs: stores,
		BlobStore:    blobStore,
		Retention:    24 * time.Hour,
	})

	result, err := gc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Deleted != 0 {
		t.Errorf("expected no deletions for a blob still within retention, got %+v", result)
	}
	if _, ok := stores.blobs["blob1"]; !ok {
		t.Error("expected blob1 to remain")
	}
}

func TestRunOnce_DryRunDeletesNothing(t *testing.T) {
	orphanedAt := time.Now().Add(-48 * time.Hour)
	stores := newMockContentBlobs()
	stores.blobs["blob1"] = &domain.ContentBlob{ID: "blob1", StorageKey: "key1", OrphanedAt: &orphanedAt}
	blobStore := &mockBlobStore{failFor: map[string]bool{}}

	gc := New(Config{
		ContentBlobs: stores,
		BlobStore:    blobStore,
		Retention:    24 * time.Hour,
		DryRun:       true,
	})

	result, err := gc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Deleted != 0 || !result.DryRun {
		t.Errorf("expected dry run to report zero deletions, got %+v", result)
	}
	if _, ok := stores.blobs["blob1"]; !ok {
		t.Error("expected blob1 to remain in dry run")
	}
	if len(blobStore.deleted) != 0 {
		t.Errorf("expected no blob store deletes in dry run, got %+v", blobStore.deleted)
	}
}

func TestRunOnce_CallsUnmarkBeforeMark(t *testing.T) {
	stores := newMockContentBlobs()
	stores.unmarkResult = 2
	stores.markResult = 3
	blobStore := &mockBlobStore{}

	gc := New(Config{ContentBlobs: stores, BlobStore: blobStore})

	result, err := gc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stores.unmarkCalls != 1 {
		t.Errorf("expected UnmarkReferenced to be called once, got %d", stores.unmarkCalls)
	}
	if !stores.markSawUnmark {
		t.Error("expected UnmarkReferenced to run before MarkOrphanedBefore")
	}
	if result.Unmarked != 2 || result.Orphaned != 3 {
		t.Errorf("expected counts to propagate from the store, got %+v", result)
	}
}

func TestStartStop(t *testing.T) {
	stores := newMockContentBlobs()
	blobStore := &mockBlobStore{}
	gc := New(Config{ContentBlobs: stores, BlobStore: blobStore, Interval: time.Hour})

	if err := gc.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error starting gc: %v", err)
	}
	gc.Stop()
}
