package typeahead

import "testing"

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"Hello, World!":  "hello world",
		"  multi   space": "multi space",
		"Q3 Planning":    "q3 planning",
		"":                "",
	}
	for in, want := range tests {
		if got := normalize(in); got != want {
			t.Errorf("normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIndex_Search_PrefixMatch(t *testing.T) {
	idx := NewIndex()
	idx.Rebuild([]Entry{
		{Title: "Quarterly Planning Doc", DocumentID: "doc1", SourceID: "src1"},
		{Title: "Engineering Roadmap", DocumentID: "doc2", SourceID: "src1"},
		{Title: "Planning for Q3", DocumentID: "doc3", SourceID: "src1"},
	})

	results := idx.Search("plan", 10)
	if len(results) != 2 {
		t.Fatalf("expected 2 matches for prefix 'plan', got %d: %+v", len(results), results)
	}
}

func TestIndex_Search_TitleStartOutranksMidTitle(t *testing.T) {
	idx := NewIndex()
	idx.Rebuild([]Entry{
		{Title: "Quarterly Plan Review", DocumentID: "mid", SourceID: "src1"},
		{Title: "Plan Ahead", DocumentID: "start", SourceID: "src1"},
	})

	results := idx.Search("plan", 10)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].DocumentID != "start" {
		t.Errorf("expected title-start match to rank first, got %+v", results)
	}
}

func TestIndex_Search_WordBoundaryPrefix(t *testing.T) {
	idx := NewIndex()
	idx.Rebuild([]Entry{
		{Title: "Unplanned Outage", DocumentID: "nomatch", SourceID: "src1"},
		{Title: "Release Plan 2026", DocumentID: "match", SourceID: "src1"},
	})

	results := idx.Search("plan", 10)
	var found bool
	for _, r := range results {
		if r.DocumentID == "match" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected word-boundary match on 'Release Plan 2026', got %+v", results)
	}
}

func TestIndex_Search_EmptyQuery(t *testing.T) {
	idx := NewIndex()
	idx.Rebuild([]Entry{{Title: "Something", DocumentID: "doc1"}})
	if results := idx.Search("   ", 10); results != nil {
		t.Errorf("expected nil results for empty normalized query, got %+v", results)
	}
}

func TestIndex_Search_RespectsLimit(t *testing.T) {
	idx := NewIndex()
	idx.Rebuild([]Entry{
		{Title: "Plan A", DocumentID: "a"},
		{Title: "Plan B", DocumentID: "b"},
		{Title: "Plan C", DocumentID: "c"},
	})
	results := idx.Search("plan", 2)
	if len(results) != 2 {
		t.Fatalf("expected limit of 2 results, got %d", len(results))
	}
}

func TestIndex_Rebuild_SwapsAtomically(t *testing.T) {
	idx := NewIndex()
	idx.Rebuild([]Entry{{Title: "Old Document", DocumentID: "old"}})
	if len(idx.Search("old", 10)) != 1 {
		t.Fatal("expected old document to be searchable before rebuild")
	}

	idx.Rebuild([]Entry{{Title: "New Document", DocumentID: "new"}})
	if len(idx.Search("old", 10)) != 0 {
		t.Error("expected old document to be gone after rebuild")
	}
	if len(idx.Search("new", 10)) != 1 {
		t.Error("expected new document to be searchable after rebuild")
	}
}
