package driven

import (
	"context"

	"github.com/meridian-search/meridian-core/internal/core/domain"
)

// DocumentStore persists materialized Document rows.
type DocumentStore interface {
	Upsert(ctx context.Context, doc *domain.Document) error
	Get(ctx context.Context, id string) (*domain.Document, error)
	GetBySourceAndExternalID(ctx context.Context, sourceID, externalID string) (*domain.Document, error)
	Delete(ctx context.Context, id string) error
	DeleteBySource(ctx context.Context, sourceID string) error
	CountBySource(ctx context.Context, sourceID string) (int, error)
	MarkIndexed(ctx context.Context, id string) error
	// ListTypeaheadEntries returns title/url/source/id tuples for every
	// document, for rebuilding the typeahead automaton. afterID paginates
	// by id for callers that page through the full corpus in batches;
	// pass "" to start from the beginning.
	ListTypeaheadEntries(ctx context.Context, afterID string, limit int) ([]domain.TypeaheadEntry, error)
}

// EmbeddingStore persists per-chunk vectors for a document.
type EmbeddingStore interface {
	ReplaceForDocument(ctx context.Context, documentID string, embeddings []*domain.Embedding) error
	ListForDocument(ctx context.Context, documentID string) ([]*domain.Embedding, error)
	DeleteForDocument(ctx context.Context, documentID string) error
	// SearchByVector returns the nearest embeddings to the query vector,
	// each annotated with its owning document id. limit bounds the
	// candidate set the caller uses to aggregate per-document scores.
	SearchByVector(ctx context.Context, vector []float32, limit int) ([]*domain.Embedding, error)
}

// EmbeddingQueueStore holds documents awaiting vectorization.
type EmbeddingQueueStore interface {
	Enqueue(ctx context.Context, item *domain.EmbeddingQueueItem) error
	Dequeue(ctx context.Context, limit int) ([]*domain.EmbeddingQueueItem, error)
	Ack(ctx context.Context, id string) error
	Nack(ctx context.Context, id string, reason string) error
}
