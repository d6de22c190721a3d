package search

import (
	"context"
	"database/sql"
	"strings"
)

// correctQuery attempts per-term typo correction against the document
// corpus's known lexemes. A term is left alone if it already appears
// verbatim in some document's lexical vector; otherwise the closest
// corpus term by pg_trgm similarity is substituted, provided its edit
// distance from the original term is within maxDistance. Terms shorter
// than minWordLength are never corrected, since short terms have too many
// plausible near neighbors to correct safely.
func (e *Engine) correctQuery(ctx context.Context, query string, maxDistance, minWordLength int) (string, bool) {
	terms := strings.Fields(query)
	changed := false

	for i, term := range terms {
		lower := strings.ToLower(term)
		if len([]rune(lower)) < minWordLength {
			continue
		}
		if e.termKnown(ctx, lower) {
			continue
		}
		candidate, ok := e.closestCorpusTerm(ctx, lower)
		if !ok {
			continue
		}
		if levenshtein(lower, candidate) <= maxDistance {
			terms[i] = candidate
			changed = true
		}
	}

	if !changed {
		return query, false
	}
	return strings.Join(terms, " "), true
}

func (e *Engine) termKnown(ctx context.Context, term string) bool {
	var exists bool
	err := e.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM documents WHERE lexical @@ plainto_tsquery('english', $1))`,
		term,
	).Scan(&exists)
	return err == nil && exists
}

// closestCorpusTerm finds the single best pg_trgm match for term among the
// distinct lexemes ts_stat reports across every document's lexical vector.
func (e *Engine) closestCorpusTerm(ctx context.Context, term string) (string, bool) {
	var word sql.NullString
	err := e.db.QueryRowContext(ctx, `
		SELECT word FROM ts_stat('SELECT lexical FROM documents')
		WHERE similarity(word, $1) > 0.3
		ORDER BY similarity(word, $1) DESC
		LIMIT 1
	`, term).Scan(&word)
	if err != nil || !word.Valid {
		return "", false
	}
	return word.String, true
}

// levenshtein computes the classic single-character-edit distance between
// two strings.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
