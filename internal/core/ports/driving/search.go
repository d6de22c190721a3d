package driving

import (
	"context"

	"github.com/meridian-search/meridian-core/internal/core/domain"
)

// SearchService is the use-case boundary for the search HTTP API.
type SearchService interface {
	Search(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResponse, error)
	Suggest(ctx context.Context, query string, limit int) ([]domain.TypeaheadSuggestion, error)
}
