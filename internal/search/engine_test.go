package search

import (
	"encoding/json"
	"testing"

	"github.com/meridian-search/meridian-core/internal/core/domain"
)

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	if got := cosineSimilarity(a, b); got < 0.999 {
		t.Errorf("expected identical vectors to score ~1, got %f", got)
	}

	orthogonal := []float32{0, 1, 0}
	if got := cosineSimilarity(a, orthogonal); got != 0 {
		t.Errorf("expected orthogonal vectors to score 0, got %f", got)
	}

	if got := cosineSimilarity(nil, b); got != 0 {
		t.Errorf("expected mismatched lengths to score 0, got %f", got)
	}
}

func TestNormalizeScores(t *testing.T) {
	results := []*domain.SearchResult{
		{Document: &domain.Document{ID: "a"}, Score: 10},
		{Document: &domain.Document{ID: "b"}, Score: 5},
		{Document: &domain.Document{ID: "c"}, Score: 0},
	}
	out := normalizeScores(results)
	if out[0] != 1 || out[2] != 0 {
		t.Errorf("expected min-max scaling to 0..1, got %+v", out)
	}
	if out[1] <= out[2] || out[1] >= out[0] {
		t.Errorf("expected middle score strictly between bounds, got %+v", out)
	}
}

func TestNormalizeScores_EqualScoresAllOne(t *testing.T) {
	results := []*domain.SearchResult{
		{Document: &domain.Document{ID: "a"}, Score: 3},
		{Document: &domain.Document{ID: "b"}, Score: 3},
	}
	out := normalizeScores(results)
	if out[0] != 1 || out[1] != 1 {
		t.Errorf("expected equal scores to both normalize to 1, got %+v", out)
	}
}

func TestNormalizeScores_Empty(t *testing.T) {
	if out := normalizeScores(nil); len(out) != 0 {
		t.Errorf("expected empty slice for no results, got %+v", out)
	}
}

func TestPaginate(t *testing.T) {
	results := make([]*domain.SearchResult, 5)
	for i := range results {
		results[i] = &domain.SearchResult{Document: &domain.Document{ID: string(rune('a' + i))}}
	}

	page := paginate(results, 1, 2)
	if len(page) != 2 || page[0].Document.ID != "b" {
		t.Errorf("expected page [b, c], got %+v", page)
	}

	if got := paginate(results, 10, 2); got != nil {
		t.Errorf("expected nil when offset exceeds length, got %+v", got)
	}

	tail := paginate(results, 4, 10)
	if len(tail) != 1 {
		t.Errorf("expected tail to be clamped to remaining results, got %+v", tail)
	}
}

func TestContains(t *testing.T) {
	if !contains([]string{"a", "b"}, "b") {
		t.Error("expected contains to find present element")
	}
	if contains([]string{"a", "b"}, "c") {
		t.Error("expected contains to reject absent element")
	}
}

func TestDocumentVisibleTo_PublicDocument(t *testing.T) {
	doc := &domain.Document{Permissions: json.RawMessage(`{"public": true}`)}
	if !documentVisibleTo(doc, "anyone@example.com") {
		t.Error("expected public document to be visible to any user")
	}
}

func TestDocumentVisibleTo_RestrictedDocument(t *testing.T) {
	doc := &domain.Document{Permissions: json.RawMessage(`{"public": false, "users": ["alice@example.com"]}`)}
	if !documentVisibleTo(doc, "alice@example.com") {
		t.Error("expected listed user to see restricted document")
	}
	if documentVisibleTo(doc, "bob@example.com") {
		t.Error("expected unlisted user to be denied")
	}
}

func TestDocumentVisibleTo_NoPermissionsDefaultsVisible(t *testing.T) {
	doc := &domain.Document{}
	if !documentVisibleTo(doc, "anyone@example.com") {
		t.Error("expected a document with no permissions set to default to visible")
	}
}

func TestPassesFilters(t *testing.T) {
	e := &Engine{}
	doc := &domain.Document{SourceID: "src1", MimeType: "text/plain", Permissions: json.RawMessage(`{"public": true}`)}

	if !e.passesFilters(doc, &domain.SearchRequest{}) {
		t.Error("expected no filters to pass")
	}
	if !e.passesFilters(doc, &domain.SearchRequest{Sources: []string{"src1"}}) {
		t.Error("expected matching source filter to pass")
	}
	if e.passesFilters(doc, &domain.SearchRequest{Sources: []string{"src2"}}) {
		t.Error("expected non-matching source filter to fail")
	}
	if e.passesFilters(doc, &domain.SearchRequest{ContentTypes: []string{"application/pdf"}}) {
		t.Error("expected non-matching content type filter to fail")
	}
}

func TestTruncateUTF8(t *testing.T) {
	if got := truncateUTF8("short", 100); got != "short" {
		t.Errorf("expected short string unchanged, got %q", got)
	}

	multibyte := "héllo wörld" // contains 2-byte runes
	truncated := truncateUTF8(multibyte, 6)
	if len(truncated) > 6 {
		t.Errorf("expected truncation to respect byte budget, got %q (%d bytes)", truncated, len(truncated))
	}
	for i, r := range truncated {
		_ = i
		if r == '�' {
			t.Errorf("truncation produced an invalid rune in %q", truncated)
		}
	}
}
