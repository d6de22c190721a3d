package services

import (
	"context"

	"github.com/meridian-search/meridian-core/internal/core/domain"
	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
	"github.com/meridian-search/meridian-core/internal/core/ports/driving"
	"github.com/meridian-search/meridian-core/internal/search/typeahead"
)

// Verify interface compliance
var _ driving.SearchService = (*searchService)(nil)

type searchService struct {
	engine    driven.SearchEngine
	typeahead *typeahead.Index
}

// NewSearchService creates a SearchService wrapping a SearchEngine for
// queries and a typeahead.Index for title suggestions; the two are
// separate because typeahead ranking has nothing to do with the fulltext/
// semantic/hybrid contract SearchEngine implementations proxy to external
// clusters.
func NewSearchService(engine driven.SearchEngine, ta *typeahead.Index) driving.SearchService {
	return &searchService{engine: engine, typeahead: ta}
}

func (s *searchService) Search(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResponse, error) {
	return s.engine.Search(ctx, req)
}

func (s *searchService) Suggest(ctx context.Context, query string, limit int) ([]domain.TypeaheadSuggestion, error) {
	if s.typeahead == nil {
		return nil, nil
	}
	return s.typeahead.Search(query, limit), nil
}
