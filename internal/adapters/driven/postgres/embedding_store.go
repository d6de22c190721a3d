package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"

	"github.com/lib/pq"

	"github.com/meridian-search/meridian-core/internal/core/domain"
	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.EmbeddingStore = (*EmbeddingStore)(nil)

// EmbeddingStore implements driven.EmbeddingStore using a float4[] column.
// There is no vector index: SearchByVector pulls candidate rows and scores
// them with cosine similarity in Go, which is adequate at the corpus sizes
// this store targets and avoids a pgvector dependency the cluster may not
// have installed.
type EmbeddingStore struct {
	db *DB
	// scanCap bounds how many embedding rows SearchByVector pulls per
	// query before scoring in Go.
	scanCap int
}

// NewEmbeddingStore creates a new EmbeddingStore.
func NewEmbeddingStore(db *DB) *EmbeddingStore {
	return &EmbeddingStore{db: db, scanCap: 20000}
}

// ReplaceForDocument atomically swaps a document's embedding set, used when
// content changes and every chunk is re-vectorized.
func (s *EmbeddingStore) ReplaceForDocument(ctx context.Context, documentID string, embeddings []*domain.Embedding) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE document_id = $1`, documentID); err != nil {
			return fmt.Errorf("clear existing embeddings: %w", err)
		}
		if len(embeddings) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO embeddings (
				id, document_id, chunk_index, chunk_start_offset, chunk_end_offset,
				vector, model_name, dimensions, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range embeddings {
			if _, err := stmt.ExecContext(ctx,
				e.ID, documentID, e.ChunkIndex, e.ChunkStartOffset, e.ChunkEndOffset,
				pq.Array(e.Vector), e.ModelName, e.Dimensions, e.CreatedAt,
			); err != nil {
				return fmt.Errorf("insert embedding %s chunk %d: %w", documentID, e.ChunkIndex, err)
			}
		}
		return nil
	})
}

// ListForDocument returns a document's embeddings ordered by chunk index.
func (s *EmbeddingStore) ListForDocument(ctx context.Context, documentID string) ([]*domain.Embedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, chunk_start_offset, chunk_end_offset,
		       vector, model_name, dimensions, created_at
		FROM embeddings WHERE document_id = $1 ORDER BY chunk_index
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEmbeddings(rows)
}

// DeleteForDocument removes all embeddings for a document.
func (s *EmbeddingStore) DeleteForDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE document_id = $1`, documentID)
	return err
}

// SearchByVector scores up to scanCap candidate embeddings by cosine
// similarity to the query vector and returns the top limit.
func (s *EmbeddingStore) SearchByVector(ctx context.Context, vector []float32, limit int) ([]*domain.Embedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, chunk_start_offset, chunk_end_offset,
		       vector, model_name, dimensions, created_at
		FROM embeddings LIMIT $1
	`, s.scanCap)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates, err := scanEmbeddings(rows)
	if err != nil {
		return nil, err
	}

	type scored struct {
		emb   *domain.Embedding
		score float64
	}
	results := make([]scored, 0, len(candidates))
	for _, e := range candidates {
		results = append(results, scored{emb: e, score: cosineSimilarity(vector, e.Vector)})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	out := make([]*domain.Embedding, len(results))
	for i, r := range results {
		out[i] = r.emb
	}
	return out, nil
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

func scanEmbeddings(rows *sql.Rows) ([]*domain.Embedding, error) {
	var out []*domain.Embedding
	for rows.Next() {
		var e domain.Embedding
		if err := rows.Scan(
			&e.ID, &e.DocumentID, &e.ChunkIndex, &e.ChunkStartOffset, &e.ChunkEndOffset,
			pq.Array(&e.Vector), &e.ModelName, &e.Dimensions, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
