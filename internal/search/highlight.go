package search

import (
	"sort"
	"strings"
)

// HighlightOptions configures fragment selection and formatting for
// GenerateHighlights.
type HighlightOptions struct {
	MaxFragments       int
	FragmentWordRadius int // words of context on each side of a match
	OpenDelim          string
	CloseDelim         string
}

// DefaultHighlightOptions returns the engine's default highlight tuning.
func DefaultHighlightOptions() HighlightOptions {
	return HighlightOptions{
		MaxFragments:       3,
		FragmentWordRadius: 5,
		OpenDelim:          "**",
		CloseDelim:         "**",
	}
}

type highlightWindow struct {
	start, end int // inclusive word indices
	terms      map[string]bool
	matches    int
}

// GenerateHighlights scans text for word-boundary, case-insensitive
// occurrences of query terms (length >= 2), builds a non-overlapping
// fragment around each first-seen occurrence, scores each fragment by how
// many distinct terms and total matches it covers, and formats the top
// fragments (re-ordered by position) with matches wrapped in delimiters.
func GenerateHighlights(text, query string, opts HighlightOptions) []string {
	terms := queryTerms(query)
	if len(terms) == 0 || text == "" {
		return nil
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	type occurrence struct {
		word int
		term string
	}
	var occurrences []occurrence
	for i, w := range words {
		if term, ok := matchTerm(w, terms); ok {
			occurrences = append(occurrences, occurrence{word: i, term: term})
		}
	}
	if len(occurrences) == 0 {
		return nil
	}

	var windows []*highlightWindow
	for _, occ := range occurrences {
		covered := false
		for _, w := range windows {
			if occ.word >= w.start && occ.word <= w.end {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		start := occ.word - opts.FragmentWordRadius
		if start < 0 {
			start = 0
		}
		end := occ.word + opts.FragmentWordRadius
		if end > len(words)-1 {
			end = len(words) - 1
		}
		overlapsExisting := false
		for _, w := range windows {
			if start <= w.end && end >= w.start {
				overlapsExisting = true
				break
			}
		}
		if overlapsExisting {
			continue
		}
		windows = append(windows, &highlightWindow{start: start, end: end, terms: map[string]bool{}})
	}

	for _, occ := range occurrences {
		for _, w := range windows {
			if occ.word >= w.start && occ.word <= w.end {
				w.terms[occ.term] = true
				w.matches++
			}
		}
	}

	sort.SliceStable(windows, func(i, j int) bool {
		return score(windows[i]) > score(windows[j])
	})
	if len(windows) > opts.MaxFragments {
		windows = windows[:opts.MaxFragments]
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].start < windows[j].start })

	fragments := make([]string, len(windows))
	for i, w := range windows {
		fragments[i] = formatFragment(words, w, terms, opts)
	}
	return []string{strings.Join(fragments, " ... ")}
}

func score(w *highlightWindow) int {
	return 2*len(w.terms) + w.matches
}

func formatFragment(words []string, w *highlightWindow, terms map[string]bool, opts HighlightOptions) string {
	parts := make([]string, 0, w.end-w.start+1)
	for i := w.start; i <= w.end; i++ {
		word := words[i]
		if _, ok := matchTerm(word, terms); ok {
			word = opts.OpenDelim + word + opts.CloseDelim
		}
		parts = append(parts, word)
	}
	return strings.Join(parts, " ")
}

// queryTerms lowercases and splits query into terms of at least 2
// characters, deduplicated.
func queryTerms(query string) map[string]bool {
	terms := make(map[string]bool)
	for _, f := range strings.Fields(query) {
		term := stripPunctuation(strings.ToLower(f))
		if len(term) >= 2 {
			terms[term] = true
		}
	}
	return terms
}

// matchTerm reports whether word, stripped of leading/trailing
// punctuation and lowercased, equals one of terms.
func matchTerm(word string, terms map[string]bool) (string, bool) {
	stripped := stripPunctuation(strings.ToLower(word))
	if terms[stripped] {
		return stripped, true
	}
	return "", false
}

func stripPunctuation(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}
