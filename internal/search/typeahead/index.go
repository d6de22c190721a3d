// Package typeahead implements prefix-over-title search. No FST/vellum
// equivalent library appears anywhere in the retrieval pack, so the
// automaton here is a hand-rolled sorted-slice binary-prefix-search
// structure instead of a true minimized finite-state automaton: every
// word-boundary suffix of every title is a sort key mapping back to the
// entry it came from, and prefix queries become a binary-search range scan
// over that sorted slice. Functionally equivalent for the rebuild-and-swap
// access pattern this package needs.
package typeahead

import (
	"sort"
	"strings"
	"sync"

	"github.com/meridian-search/meridian-core/internal/core/domain"
)

// Entry is one document eligible for typeahead matching.
type Entry struct {
	Title      string
	URL        string
	SourceID   string
	DocumentID string
}

type key struct {
	suffix string // normalized word-boundary suffix of a title
	entry  int    // index into the owning Automaton's entries slice
}

// Automaton is an immutable, built snapshot: a sorted suffix key slice plus
// the entries those keys point back into.
type Automaton struct {
	entries []Entry
	keys    []key
}

// Build normalizes every entry's title, generates a sort key for each of
// its word-boundary suffixes, and sorts the result for prefix search.
func Build(entries []Entry) *Automaton {
	a := &Automaton{entries: entries}
	for i, e := range entries {
		words := strings.Fields(normalize(e.Title))
		for start := range words {
			a.keys = append(a.keys, key{suffix: strings.Join(words[start:], " "), entry: i})
		}
	}
	sort.Slice(a.keys, func(i, j int) bool {
		if a.keys[i].suffix != a.keys[j].suffix {
			return a.keys[i].suffix < a.keys[j].suffix
		}
		return a.keys[i].entry < a.keys[j].entry
	})
	return a
}

// search returns the distinct entry indices whose suffix keys start with
// the normalized prefix.
func (a *Automaton) search(prefix string) []int {
	lo := sort.Search(len(a.keys), func(i int) bool { return a.keys[i].suffix >= prefix })
	seen := make(map[int]bool)
	var out []int
	for i := lo; i < len(a.keys) && strings.HasPrefix(a.keys[i].suffix, prefix); i++ {
		idx := a.keys[i].entry
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	return out
}

// Index holds the current Automaton behind a RWMutex so rebuilds can swap
// it atomically without readers ever observing a torn structure.
type Index struct {
	mu   sync.RWMutex
	auto *Automaton
}

// NewIndex creates an Index with an empty automaton.
func NewIndex() *Index {
	return &Index{auto: Build(nil)}
}

// Rebuild replaces the live automaton. Safe to call concurrently with Search.
func (idx *Index) Rebuild(entries []Entry) {
	auto := Build(entries)
	idx.mu.Lock()
	idx.auto = auto
	idx.mu.Unlock()
}

// Search normalizes the query, prefix-scans the automaton, scores and
// ranks candidates, and returns the top limit suggestions.
func (idx *Index) Search(query string, limit int) []domain.TypeaheadSuggestion {
	normalized := normalize(query)
	if normalized == "" || limit <= 0 {
		return nil
	}

	idx.mu.RLock()
	auto := idx.auto
	idx.mu.RUnlock()

	candidates := auto.search(normalized)
	if len(candidates) == 0 {
		return nil
	}

	queryWords := strings.Fields(normalized)
	type scored struct {
		entry Entry
		score float64
	}
	results := make([]scored, 0, len(candidates))
	for _, i := range candidates {
		e := auto.entries[i]
		titleWords := strings.Fields(normalize(e.Title))
		s, ok := wordPrefixScore(queryWords, titleWords)
		if !ok {
			s = characterAlignmentScore(normalized, normalize(e.Title))
		}
		results = append(results, scored{entry: e, score: s})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })
	if len(results) > limit {
		results = results[:limit]
	}

	out := make([]domain.TypeaheadSuggestion, len(results))
	for i, r := range results {
		out[i] = domain.TypeaheadSuggestion{
			Title:      r.entry.Title,
			URL:        r.entry.URL,
			SourceID:   r.entry.SourceID,
			DocumentID: r.entry.DocumentID,
			Score:      r.score,
		}
	}
	return out
}

// wordPrefixScore aligns each query word, in order, to some title word it
// prefixes. Returns ok=false when a query word has no remaining title word
// to align to, signalling the caller to fall back to character alignment.
func wordPrefixScore(queryWords, titleWords []string) (float64, bool) {
	const (
		base              = 10000.0
		titleStartBonus   = 2000.0
		adjacentPairBonus = 2500.0
	)

	score := base
	titlePos := 0
	firstMatchAt := -1
	prevTitlePos := -1
	adjacentPairs := 0

	for _, qw := range queryWords {
		matchPos := -1
		for p := titlePos; p < len(titleWords); p++ {
			if strings.HasPrefix(titleWords[p], qw) {
				matchPos = p
				break
			}
		}
		if matchPos == -1 {
			return 0, false
		}
		if firstMatchAt == -1 {
			firstMatchAt = matchPos
		}
		if prevTitlePos != -1 && matchPos == prevTitlePos+1 {
			adjacentPairs++
		}
		score += 800 * (float64(len(qw)) / float64(len(titleWords[matchPos])))
		prevTitlePos = matchPos
		titlePos = matchPos + 1
	}

	if firstMatchAt == 0 {
		score += titleStartBonus
	}
	score += float64(adjacentPairs) * adjacentPairBonus
	score -= float64(len(strings.Join(titleWords, " ")))
	return score, true
}

// characterAlignmentScore is the fallback when no whole-word prefix
// alignment exists: it sequentially aligns query characters against the
// title, rewarding word-boundary starts and consecutive runs and
// penalizing gaps between matched characters.
func characterAlignmentScore(query, title string) float64 {
	const (
		matchScore          = 100.0
		consecutiveBonus    = 40.0
		wordBoundaryBonus   = 60.0
		gapPenaltyPerRune   = 5.0
	)

	score := 0.0
	titlePos := 0
	lastMatchPos := -1
	for _, qr := range query {
		found := -1
		for p := titlePos; p < len(title); p++ {
			if rune(title[p]) == qr {
				found = p
				break
			}
		}
		if found == -1 {
			continue
		}
		score += matchScore
		if found == 0 || title[found-1] == ' ' {
			score += wordBoundaryBonus
		}
		if lastMatchPos != -1 {
			gap := found - lastMatchPos - 1
			if gap == 0 {
				score += consecutiveBonus
			} else {
				score -= float64(gap) * gapPenaltyPerRune
			}
		}
		lastMatchPos = found
		titlePos = found + 1
	}
	score -= float64(len(title))
	return score
}

// normalize lowercases, replaces non-alphanumeric runes with spaces, and
// collapses runs of whitespace, per the typeahead query-normalization rule.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
