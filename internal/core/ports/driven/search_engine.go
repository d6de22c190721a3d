package driven

import (
	"context"

	"github.com/meridian-search/meridian-core/internal/core/domain"
)

// SearchEngine executes fulltext/semantic/hybrid queries and maintains the
// per-document index. The native implementation runs ranking and highlight
// generation in-process over Postgres; the Vespa-backed implementation
// proxies the same contract to an external cluster that does its own
// ranking/highlighting.
type SearchEngine interface {
	// Index (re)indexes a document's searchable content. embeddings may be
	// nil when the embedding worker has not yet produced vectors.
	Index(ctx context.Context, doc *domain.Document, text string, embeddings []*domain.Embedding) error

	Search(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResponse, error)

	Delete(ctx context.Context, documentID string) error
	DeleteBySource(ctx context.Context, sourceID string) error

	HealthCheck(ctx context.Context) error
}
