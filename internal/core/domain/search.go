package domain

import "time"

// SearchMode selects the query strategy.
type SearchMode string

const (
	SearchModeFulltext SearchMode = "fulltext"
	SearchModeSemantic SearchMode = "semantic"
	SearchModeHybrid   SearchMode = "hybrid"
)

// SearchRequest is a single search query.
type SearchRequest struct {
	Query         string     `json:"query"`
	Mode          SearchMode `json:"mode"`
	Limit         int        `json:"limit"`
	Offset        int        `json:"offset"`
	Sources       []string   `json:"sources,omitempty"`
	ContentTypes  []string   `json:"content_types,omitempty"`
	IncludeFacets bool       `json:"include_facets"`
	UserEmail     string     `json:"user_email,omitempty"`
}

// DefaultSearchRequest returns sensible defaults for fields left unset.
func DefaultSearchRequest() SearchRequest {
	return SearchRequest{
		Mode:   SearchModeHybrid,
		Limit:  20,
		Offset: 0,
	}
}

// Validate enforces the request's invariants before it reaches the engine.
func (r *SearchRequest) Validate() error {
	if r.Query == "" {
		return ErrEmptyQuery
	}
	switch r.Mode {
	case SearchModeFulltext, SearchModeSemantic, SearchModeHybrid:
	case "":
		r.Mode = SearchModeHybrid
	default:
		return ErrInvalidInput
	}
	if r.Limit <= 0 {
		r.Limit = 20
	}
	return nil
}

// SearchResult is a single ranked document hit.
type SearchResult struct {
	Document   *Document `json:"document"`
	Score      float64   `json:"score"`
	Highlights []string  `json:"highlights,omitempty"`
}

// FacetCount is the number of hits for one facet value.
type FacetCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// SearchResponse is the full result set for a SearchRequest.
type SearchResponse struct {
	Query          string                  `json:"query"`
	CorrectedQuery string                  `json:"corrected_query,omitempty"`
	Mode           SearchMode              `json:"mode"`
	Results        []*SearchResult         `json:"results"`
	TotalCount     int                     `json:"total_count"`
	Facets         map[string][]FacetCount `json:"facets,omitempty"`
	Took           time.Duration           `json:"took" swaggertype:"integer" example:"1500000"`
}

// TypeaheadSuggestion is one typeahead candidate.
type TypeaheadSuggestion struct {
	Title      string  `json:"title"`
	URL        string  `json:"url,omitempty"`
	SourceID   string  `json:"source_id"`
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
}

// TypeaheadEntry is one document's contribution to the typeahead corpus,
// as read back from storage for an automaton rebuild.
type TypeaheadEntry struct {
	ID       string
	Title    string
	URL      string
	SourceID string
}
