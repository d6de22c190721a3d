package vespa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/meridian-search/meridian-core/internal/core/domain"
	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SearchEngine = (*SearchEngine)(nil)

// SearchEngine is the alternate driven.SearchEngine implementation for
// operators who already run a Vespa-like HTTP cluster. It implements the
// same request/response contract as the native engine but delegates
// ranking and highlighting to the cluster's own query language instead of
// running those algorithms in-process.
type SearchEngine struct {
	baseURL    string
	httpClient *http.Client
}

// Config holds the cluster connection configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

// NewSearchEngine creates a new Vespa-backed SearchEngine.
func NewSearchEngine(cfg Config) *SearchEngine {
	return &SearchEngine{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type vespaDocument struct {
	Fields vespaFields `json:"fields"`
}

type vespaFields struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	SourceID   string    `json:"source_id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	URL        string    `json:"url,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// Index pushes a document and its chunk embeddings into the cluster,
// averaging per-chunk vectors into a single document-level embedding field
// since the cluster's schema indexes one vector per document, not per chunk.
func (s *SearchEngine) Index(ctx context.Context, doc *domain.Document, text string, embeddings []*domain.Embedding) error {
	fields := vespaFields{
		ID:         doc.ID,
		DocumentID: doc.ID,
		SourceID:   doc.SourceID,
		Title:      doc.Title,
		Content:    text,
		URL:        doc.URL,
	}
	if len(embeddings) > 0 {
		fields.Embedding = averageVectors(embeddings)
	}

	body, err := json.Marshal(vespaDocument{Fields: fields})
	if err != nil {
		return err
	}

	docURL := fmt.Sprintf("%s/document/v1/meridian/document/docid/%s", s.baseURL, doc.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, docURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vespa index failed: %s - %s", resp.Status, string(respBody))
	}
	return nil
}

func averageVectors(embeddings []*domain.Embedding) []float32 {
	if len(embeddings) == 0 {
		return nil
	}
	dims := len(embeddings[0].Vector)
	sum := make([]float64, dims)
	for _, e := range embeddings {
		for i, v := range e.Vector {
			if i < dims {
				sum[i] += float64(v)
			}
		}
	}
	out := make([]float32, dims)
	for i, v := range sum {
		out[i] = float32(v / float64(len(embeddings)))
	}
	return out
}

// Search proxies the request to the cluster's own query language.
func (s *SearchEngine) Search(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResponse, error) {
	start := time.Now()
	yql := s.buildYQL(req)

	searchReq := map[string]any{
		"yql":    yql,
		"hits":   req.Limit,
		"offset": req.Offset,
	}

	switch req.Mode {
	case domain.SearchModeFulltext:
		searchReq["ranking.profile"] = "bm25"
	case domain.SearchModeSemantic:
		searchReq["ranking.profile"] = "semantic"
	default:
		searchReq["ranking.profile"] = "hybrid"
	}

	body, err := json.Marshal(searchReq)
	if err != nil {
		return nil, err
	}

	searchURL := fmt.Sprintf("%s/search/", s.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, searchURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("vespa search failed: %s - %s", resp.Status, string(respBody))
	}

	var searchResp vespaSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, err
	}

	results := make([]*domain.SearchResult, 0, len(searchResp.Root.Children))
	for _, hit := range searchResp.Root.Children {
		doc := &domain.Document{
			ID:       hit.Fields.DocumentID,
			SourceID: hit.Fields.SourceID,
			Title:    hit.Fields.Title,
			URL:      hit.Fields.URL,
		}
		results = append(results, &domain.SearchResult{
			Document: doc,
			Score:    hit.Relevance,
		})
	}

	return &domain.SearchResponse{
		Query:      req.Query,
		Mode:       req.Mode,
		Results:    results,
		TotalCount: int(searchResp.Root.Fields.TotalCount),
		Took:       time.Since(start),
	}, nil
}

func (s *SearchEngine) buildYQL(req *domain.SearchRequest) string {
	var conditions []string

	if req.Query != "" {
		escaped := strings.ReplaceAll(req.Query, "\"", "\\\"")
		switch req.Mode {
		case domain.SearchModeFulltext:
			conditions = append(conditions, fmt.Sprintf("content contains \"%s\"", escaped))
		case domain.SearchModeSemantic:
			conditions = append(conditions, "({targetHits:100}nearestNeighbor(embedding,embedding))")
		default:
			conditions = append(conditions, fmt.Sprintf("content contains \"%s\" or ({targetHits:100}nearestNeighbor(embedding,embedding))", escaped))
		}
	}

	if len(req.Sources) > 0 {
		sourceConds := make([]string, len(req.Sources))
		for i, sourceID := range req.Sources {
			sourceConds[i] = fmt.Sprintf("source_id contains \"%s\"", sourceID)
		}
		conditions = append(conditions, "("+strings.Join(sourceConds, " or ")+")")
	}

	whereClause := "true"
	if len(conditions) > 0 {
		whereClause = strings.Join(conditions, " and ")
	}
	return fmt.Sprintf("select * from document where %s", whereClause)
}

type vespaSearchResponse struct {
	Root struct {
		Fields struct {
			TotalCount int64 `json:"totalCount"`
		} `json:"fields"`
		Children []struct {
			Relevance float64     `json:"relevance"`
			Fields    vespaFields `json:"fields"`
		} `json:"children"`
	} `json:"root"`
}

// Delete removes a document from the cluster.
func (s *SearchEngine) Delete(ctx context.Context, documentID string) error {
	docURL := fmt.Sprintf("%s/document/v1/meridian/document/docid/%s", s.baseURL, documentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, docURL, nil)
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode != 404 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vespa delete failed: %s - %s", resp.Status, string(respBody))
	}
	return nil
}

// DeleteBySource removes all documents for a source via a selection query.
func (s *SearchEngine) DeleteBySource(ctx context.Context, sourceID string) error {
	selection := fmt.Sprintf("document.source_id==\"%s\"", sourceID)
	deleteURL := fmt.Sprintf("%s/document/v1/meridian/document/docid/?selection=%s&cluster=meridian",
		s.baseURL, url.QueryEscape(selection))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, deleteURL, nil)
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vespa delete by selection failed: %s - %s", resp.Status, string(respBody))
	}
	return nil
}

// HealthCheck verifies the cluster is reachable.
func (s *SearchEngine) HealthCheck(ctx context.Context) error {
	healthURL := fmt.Sprintf("%s/state/v1/health", s.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vespa health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vespa unhealthy: %s", resp.Status)
	}
	return nil
}
