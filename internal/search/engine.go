// Package search is the native driven.SearchEngine implementation: it runs
// fulltext, semantic, and hybrid ranking, typo correction, and highlight
// generation in-process against the Postgres-backed lexical/vector columns,
// rather than delegating to an external cluster the way the Vespa adapter
// does.
package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-search/meridian-core/internal/core/domain"
	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SearchEngine = (*Engine)(nil)

// Weights controls how fulltext and semantic scores are combined in hybrid
// mode. Defaults sum to ~1 per the engine's scoring contract.
type Weights struct {
	Fulltext float64
	Semantic float64
}

// DefaultWeights returns the engine's default hybrid score weighting.
func DefaultWeights() Weights {
	return Weights{Fulltext: 0.4, Semantic: 0.6}
}

// Config holds the dependencies and tuning knobs for an Engine.
type Config struct {
	DB               *sql.DB
	Documents        driven.DocumentStore
	ContentBlobs     driven.ContentBlobStore
	BlobStore        driven.BlobStore
	EmbeddingService driven.EmbeddingService
	Embeddings       driven.EmbeddingStore
	Cache            ResponseCache // optional; nil disables response caching
	Logger           *slog.Logger

	// Normalisers must be the same registry the indexer chunks against,
	// since chunk offsets are positions in normalised text, not raw blob
	// bytes. Nil disables re-normalisation and falls back to raw bytes.
	Normalisers driven.NormaliserRegistry

	Weights           Weights
	TypoMaxDistance   int // max edit distance for typo correction; 0 disables it
	TypoMinWordLength int
	Highlight         HighlightOptions

	// SemanticPoolSize bounds how many vector candidates are pulled and
	// grouped by document before ranking; it is not the result limit.
	SemanticPoolSize int
}

// DefaultConfig returns sensible defaults for fields left unset by the caller.
func DefaultConfig() Config {
	return Config{
		Weights:           DefaultWeights(),
		TypoMaxDistance:   2,
		TypoMinWordLength: 4,
		Highlight:         DefaultHighlightOptions(),
		SemanticPoolSize:  500,
	}
}

// Engine is the native, in-process driven.SearchEngine implementation.
type Engine struct {
	db               *sql.DB
	documents        driven.DocumentStore
	contentBlobs     driven.ContentBlobStore
	blobStore        driven.BlobStore
	embeddingService driven.EmbeddingService
	embeddings       driven.EmbeddingStore
	cache            ResponseCache
	logger           *slog.Logger
	normalisers      driven.NormaliserRegistry

	weights           Weights
	typoMaxDistance   int
	typoMinWordLength int
	highlight         HighlightOptions
	semanticPoolSize  int
}

// NewEngine creates a new Engine.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poolSize := cfg.SemanticPoolSize
	if poolSize <= 0 {
		poolSize = 500
	}
	weights := cfg.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	highlight := cfg.Highlight
	if highlight.MaxFragments <= 0 {
		highlight = DefaultHighlightOptions()
	}
	return &Engine{
		db:                cfg.DB,
		documents:         cfg.Documents,
		contentBlobs:      cfg.ContentBlobs,
		blobStore:         cfg.BlobStore,
		embeddingService:  cfg.EmbeddingService,
		embeddings:        cfg.Embeddings,
		cache:             cfg.Cache,
		logger:            logger,
		normalisers:       cfg.Normalisers,
		weights:           weights,
		typoMaxDistance:   cfg.TypoMaxDistance,
		typoMinWordLength: cfg.TypoMinWordLength,
		highlight:         highlight,
		semanticPoolSize:  poolSize,
	}
}

// Index folds a document's body text into its lexical vector at weight 'B',
// alongside the title already weighted 'A' by DocumentStore.Upsert. Vectors
// themselves are persisted by the embedding worker via EmbeddingStore
// directly; Index's job is purely to make text searchable once it arrives,
// whether or not embeddings are attached yet.
func (e *Engine) Index(ctx context.Context, doc *domain.Document, text string, embeddings []*domain.Embedding) error {
	_, err := e.db.ExecContext(ctx, `
		UPDATE documents
		SET lexical = setweight(to_tsvector('english', $2), 'A') || setweight(to_tsvector('english', $3), 'B')
		WHERE id = $1
	`, doc.ID, doc.Title, text)
	if err != nil {
		return fmt.Errorf("update lexical vector for document %s: %w", doc.ID, err)
	}
	return nil
}

// Delete is a no-op: embeddings carry ON DELETE CASCADE from documents, and
// the lexical vector lives on the documents row itself, so there is no
// separate index copy to clean up once DocumentStore.Delete removes the row.
func (e *Engine) Delete(ctx context.Context, documentID string) error {
	return nil
}

// DeleteBySource is a no-op for the same reason as Delete.
func (e *Engine) DeleteBySource(ctx context.Context, sourceID string) error {
	return nil
}

// HealthCheck verifies the backing database is reachable.
func (e *Engine) HealthCheck(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Search dispatches to the requested mode, applying the response cache
// around the whole operation when one is configured.
func (e *Engine) Search(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, req); ok {
			return cached, nil
		}
	}

	start := time.Now()
	var resp *domain.SearchResponse
	var err error
	switch req.Mode {
	case domain.SearchModeFulltext:
		resp, err = e.searchFulltext(ctx, req)
	case domain.SearchModeSemantic:
		resp, err = e.searchSemantic(ctx, req)
	default:
		resp, err = e.searchHybrid(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	resp.Took = time.Since(start)

	if req.IncludeFacets {
		facets, ferr := e.facets(ctx, req)
		if ferr != nil {
			e.logger.Warn("facet computation failed", "error", ferr)
		} else {
			resp.Facets = facets
		}
	}

	if e.cache != nil {
		e.cache.Set(ctx, req, resp)
	}
	return resp, nil
}

// searchFulltext runs typo-corrected tsvector matching with source,
// content-type, and permission filters applied in SQL.
func (e *Engine) searchFulltext(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResponse, error) {
	query := req.Query
	var correctedQuery string
	if e.typoMaxDistance > 0 {
		if corrected, changed := e.correctQuery(ctx, query, e.typoMaxDistance, e.typoMinWordLength); changed {
			correctedQuery = corrected
			query = corrected
		}
	}

	where, args := e.buildFilters(req, 1)
	args = append(args, query)
	tsqueryArg := len(args)
	where = append(where, fmt.Sprintf("lexical @@ plainto_tsquery('english', $%d)", tsqueryArg))

	args = append(args, req.Limit, req.Offset)
	limitArg, offsetArg := len(args)-1, len(args)

	sqlQuery := fmt.Sprintf(`
		SELECT id, source_id, external_id, title, content_id, mime_type, size_bytes,
		       url, parent_id, metadata, permissions, attributes, created_at, updated_at, indexed_at,
		       ts_rank(lexical, plainto_tsquery('english', $%d)) AS rank
		FROM documents
		WHERE %s
		ORDER BY rank DESC
		LIMIT $%d OFFSET $%d
	`, tsqueryArg, strings.Join(where, " AND "), limitArg, offsetArg)

	rows, err := e.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("fulltext query: %w", err)
	}
	defer rows.Close()

	var results []*domain.SearchResult
	for rows.Next() {
		doc, rank, err := scanDocumentWithRank(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, &domain.SearchResult{
			Document:   doc,
			Score:      rank,
			Highlights: e.highlightsFor(ctx, doc, req.Query),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	total, err := e.countFulltext(ctx, req, query)
	if err != nil {
		total = len(results)
	}

	return &domain.SearchResponse{
		Query:          req.Query,
		CorrectedQuery: correctedQuery,
		Mode:           domain.SearchModeFulltext,
		Results:        results,
		TotalCount:     total,
	}, nil
}

func (e *Engine) countFulltext(ctx context.Context, req *domain.SearchRequest, query string) (int, error) {
	where, args := e.buildFilters(req, 1)
	args = append(args, query)
	where = append(where, fmt.Sprintf("lexical @@ plainto_tsquery('english', $%d)", len(args)))

	var count int
	sqlQuery := fmt.Sprintf(`SELECT COUNT(*) FROM documents WHERE %s`, strings.Join(where, " AND "))
	err := e.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&count)
	return count, err
}

// highlightsFor loads the document's full text and generates highlight
// fragments against it; it returns nil rather than an error on any failure
// since missing highlights should never fail the surrounding search.
func (e *Engine) highlightsFor(ctx context.Context, doc *domain.Document, query string) []string {
	text, err := e.fetchText(ctx, doc)
	if err != nil || text == "" {
		return nil
	}
	return GenerateHighlights(text, query, e.highlight)
}

func (e *Engine) fetchText(ctx context.Context, doc *domain.Document) (string, error) {
	if doc.ContentID == "" || e.contentBlobs == nil || e.blobStore == nil {
		return "", nil
	}
	blob, err := e.contentBlobs.Get(ctx, doc.ContentID)
	if err != nil {
		return "", err
	}
	r, err := e.blobStore.Get(ctx, blob.StorageKey)
	if err != nil {
		return "", err
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	text := string(b)
	// Chunk offsets are positions in normalised text, not the raw blob, so
	// this must run the same normaliser the indexer chunked against before
	// any caller slices a chunk's byte range out of the result.
	if e.normalisers != nil {
		if normaliser := e.normalisers.Get(doc.MimeType); normaliser != nil {
			text = normaliser.Normalise(text, doc.MimeType)
		}
	}
	return text, nil
}

// searchSemantic embeds the query, pulls a candidate pool of nearest chunk
// vectors, groups them by document, and ranks documents by their best
// chunk's cosine similarity.
func (e *Engine) searchSemantic(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResponse, error) {
	results, err := e.rankSemantic(ctx, req)
	if err != nil {
		return nil, err
	}
	total := len(results)
	results = paginate(results, req.Offset, req.Limit)
	return &domain.SearchResponse{
		Query:      req.Query,
		Mode:       domain.SearchModeSemantic,
		Results:    results,
		TotalCount: total,
	}, nil
}

type chunkHit struct {
	chunk domain.TextChunk
	score float64
}

func (e *Engine) rankSemantic(ctx context.Context, req *domain.SearchRequest) ([]*domain.SearchResult, error) {
	if e.embeddingService == nil || e.embeddings == nil {
		return nil, fmt.Errorf("semantic search unavailable: no embedding service configured")
	}
	queryVector, err := e.embeddingService.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := e.embeddings.SearchByVector(ctx, queryVector, e.semanticPoolSize)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	byDocument := make(map[string][]chunkHit)
	for _, c := range candidates {
		score := cosineSimilarity(queryVector, c.Vector)
		byDocument[c.DocumentID] = append(byDocument[c.DocumentID], chunkHit{
			chunk: domain.TextChunk{
				Index:       c.ChunkIndex,
				StartOffset: c.ChunkStartOffset,
				EndOffset:   c.ChunkEndOffset,
			},
			score: score,
		})
	}

	var results []*domain.SearchResult
	for documentID, hits := range byDocument {
		doc, err := e.documents.Get(ctx, documentID)
		if err != nil {
			continue
		}
		if !e.passesFilters(doc, req) {
			continue
		}

		sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
		best := hits[0].score
		if len(hits) > 5 {
			hits = hits[:5]
		}
		highlights := e.extractChunkHighlights(ctx, doc, hits)

		results = append(results, &domain.SearchResult{
			Document:   doc,
			Score:      best,
			Highlights: highlights,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// extractChunkHighlights pulls the document's normalised text once and slices out
// each chunk's byte range, truncated to a UTF-8-safe 240 byte boundary.
func (e *Engine) extractChunkHighlights(ctx context.Context, doc *domain.Document, hits []chunkHit) []string {
	text, err := e.fetchText(ctx, doc)
	if err != nil || text == "" {
		return nil
	}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		start, end := h.chunk.StartOffset, h.chunk.EndOffset
		if start < 0 || end > len(text) || start >= end {
			continue
		}
		out = append(out, truncateUTF8(text[start:end], 240))
	}
	return out
}

// truncateUTF8 cuts s to at most maxBytes, backing off byte-by-byte until
// the cut point falls on a rune boundary.
func truncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	end := maxBytes
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// searchHybrid runs fulltext and semantic search concurrently, joined with
// an errgroup fan-in, then fuses per-document scores with the configured
// weights.
func (e *Engine) searchHybrid(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResponse, error) {
	var ftsResp *domain.SearchResponse
	var semResults []*domain.SearchResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ftsReq := *req
		ftsReq.Mode = domain.SearchModeFulltext
		ftsReq.Limit = e.semanticPoolSize
		ftsReq.Offset = 0
		resp, err := e.searchFulltext(gctx, &ftsReq)
		if err != nil {
			return err
		}
		ftsResp = resp
		return nil
	})
	g.Go(func() error {
		semReq := *req
		results, err := e.rankSemantic(gctx, &semReq)
		if err != nil {
			// Semantic search is best-effort in hybrid mode: if no embedding
			// service is configured the engine still serves fulltext results.
			return nil
		}
		semResults = results
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	normalizedFTS := normalizeScores(ftsResp.Results)

	type fused struct {
		result *domain.SearchResult
		score  float64
	}
	byID := make(map[string]*fused)
	for i, r := range ftsResp.Results {
		byID[r.Document.ID] = &fused{result: r, score: e.weights.Fulltext * normalizedFTS[i]}
	}
	for _, r := range semResults {
		if f, ok := byID[r.Document.ID]; ok {
			f.score += e.weights.Semantic * r.Score
			if len(r.Highlights) > 0 {
				f.result.Highlights = append(f.result.Highlights, r.Highlights...)
			}
		} else {
			byID[r.Document.ID] = &fused{result: r, score: e.weights.Semantic * r.Score}
		}
	}

	merged := make([]*fused, 0, len(byID))
	for _, f := range byID {
		merged = append(merged, f)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].score > merged[j].score })

	results := make([]*domain.SearchResult, len(merged))
	for i, f := range merged {
		f.result.Score = f.score
		results[i] = f.result
	}

	total := len(results)
	results = paginate(results, req.Offset, req.Limit)

	return &domain.SearchResponse{
		Query:          req.Query,
		CorrectedQuery: ftsResp.CorrectedQuery,
		Mode:           domain.SearchModeHybrid,
		Results:        results,
		TotalCount:     total,
	}, nil
}

// normalizeScores min-max scales scores into [0, 1]. Hybrid mode applies it
// to fulltext's unbounded ts_rank before adding the weighted semantic cosine
// similarity, which it uses as is.
func normalizeScores(results []*domain.SearchResult) []float64 {
	out := make([]float64, len(results))
	if len(results) == 0 {
		return out
	}
	min, max := results[0].Score, results[0].Score
	for _, r := range results {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	spread := max - min
	for i, r := range results {
		if spread == 0 {
			out[i] = 1
			continue
		}
		out[i] = (r.Score - min) / spread
	}
	return out
}

func paginate(results []*domain.SearchResult, offset, limit int) []*domain.SearchResult {
	if offset >= len(results) {
		return nil
	}
	end := offset + limit
	if end > len(results) {
		end = len(results)
	}
	return results[offset:end]
}

// passesFilters applies source, content-type, and permission predicates
// in Go for code paths (semantic mode) that can't express them as SQL
// directly against the candidate pool.
func (e *Engine) passesFilters(doc *domain.Document, req *domain.SearchRequest) bool {
	if len(req.Sources) > 0 && !contains(req.Sources, doc.SourceID) {
		return false
	}
	if len(req.ContentTypes) > 0 && !contains(req.ContentTypes, doc.MimeType) {
		return false
	}
	if req.UserEmail != "" && !documentVisibleTo(doc, req.UserEmail) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func documentVisibleTo(doc *domain.Document, email string) bool {
	if len(doc.Permissions) == 0 {
		return true
	}
	var perms struct {
		Public bool     `json:"public"`
		Users  []string `json:"users"`
	}
	if err := json.Unmarshal(doc.Permissions, &perms); err != nil {
		return true
	}
	if perms.Public {
		return true
	}
	return contains(perms.Users, email)
}

// buildFilters returns the WHERE clauses and positional args for source,
// content-type, and permission filtering, starting positional args at
// startArg (1-indexed, Postgres style).
func (e *Engine) buildFilters(req *domain.SearchRequest, startArg int) ([]string, []any) {
	var clauses []string
	var args []any
	arg := startArg

	if len(req.Sources) > 0 {
		clauses = append(clauses, fmt.Sprintf("source_id = ANY($%d)", arg))
		args = append(args, pq.Array(req.Sources))
		arg++
	}
	if len(req.ContentTypes) > 0 {
		clauses = append(clauses, fmt.Sprintf("mime_type = ANY($%d)", arg))
		args = append(args, pq.Array(req.ContentTypes))
		arg++
	}
	if req.UserEmail != "" {
		clauses = append(clauses, fmt.Sprintf("(permissions->>'public' = 'true' OR permissions->'users' ? $%d)", arg))
		args = append(args, req.UserEmail)
		arg++
	}
	if len(clauses) == 0 {
		clauses = append(clauses, "true")
	}
	return clauses, args
}

// facets computes source and content-type counts for the current filter
// set, ignoring pagination.
func (e *Engine) facets(ctx context.Context, req *domain.SearchRequest) (map[string][]domain.FacetCount, error) {
	where, args := e.buildFilters(req, 1)
	whereClause := strings.Join(where, " AND ")

	sources, err := e.facetCounts(ctx, "source_id", whereClause, args)
	if err != nil {
		return nil, err
	}
	contentTypes, err := e.facetCounts(ctx, "mime_type", whereClause, args)
	if err != nil {
		return nil, err
	}
	return map[string][]domain.FacetCount{
		"sources":       sources,
		"content_types": contentTypes,
	}, nil
}

func (e *Engine) facetCounts(ctx context.Context, column, whereClause string, args []any) ([]domain.FacetCount, error) {
	sqlQuery := fmt.Sprintf(`
		SELECT %s, COUNT(*) FROM documents WHERE %s GROUP BY %s ORDER BY COUNT(*) DESC LIMIT 20
	`, column, whereClause, column)
	rows, err := e.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FacetCount
	for rows.Next() {
		var fc domain.FacetCount
		if err := rows.Scan(&fc.Value, &fc.Count); err != nil {
			return nil, err
		}
		out = append(out, fc)
	}
	return out, rows.Err()
}

func scanDocumentWithRank(rows *sql.Rows) (*domain.Document, float64, error) {
	var doc domain.Document
	var contentID, url, parentID sql.NullString
	var metadata, permissions, attributes []byte
	var rank float64

	err := rows.Scan(
		&doc.ID, &doc.SourceID, &doc.ExternalID, &doc.Title, &contentID, &doc.MimeType, &doc.SizeBytes,
		&url, &parentID, &metadata, &permissions, &attributes, &doc.CreatedAt, &doc.UpdatedAt, &doc.IndexedAt,
		&rank,
	)
	if err != nil {
		return nil, 0, err
	}
	doc.ContentID = contentID.String
	doc.URL = url.String
	doc.ParentID = parentID.String
	doc.Metadata = json.RawMessage(metadata)
	doc.Permissions = json.RawMessage(permissions)
	doc.Attributes = json.RawMessage(attributes)
	return &doc, rank, nil
}
