package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/meridian-search/meridian-core/internal/core/domain"
	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.EmbeddingQueueStore = (*EmbeddingQueueStore)(nil)

// EmbeddingQueueStore implements driven.EmbeddingQueueStore against the
// embedding_queue table, using FOR UPDATE SKIP LOCKED for wait-free
// multi-consumer dequeue, mirroring the connector event queue.
type EmbeddingQueueStore struct {
	db *DB
}

// NewEmbeddingQueueStore creates a new EmbeddingQueueStore.
func NewEmbeddingQueueStore(db *DB) *EmbeddingQueueStore {
	return &EmbeddingQueueStore{db: db}
}

// Enqueue adds a document's pending chunks to the embedding queue.
func (s *EmbeddingQueueStore) Enqueue(ctx context.Context, item *domain.EmbeddingQueueItem) error {
	chunksJSON, err := json.Marshal(item.Chunks)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO embedding_queue (id, document_id, chunks, status, attempts, created_at)
		VALUES ($1, $2, $3, 'pending', $4, $5)
	`, item.ID, item.DocumentID, chunksJSON, item.Attempts, item.CreatedAt)
	return err
}

// Dequeue claims up to limit pending items ordered oldest-first.
func (s *EmbeddingQueueStore) Dequeue(ctx context.Context, limit int) ([]*domain.EmbeddingQueueItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, document_id, chunks, attempts, created_at
		FROM embedding_queue
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("select embedding queue items: %w", err)
	}

	var items []*domain.EmbeddingQueueItem
	var ids []string
	for rows.Next() {
		item, err := scanEmbeddingQueueItem(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, item)
		ids = append(ids, item.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(items) == 0 {
		return nil, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `UPDATE embedding_queue SET status = 'processing' WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanEmbeddingQueueItem(row interface{ Scan(dest ...any) error }) (*domain.EmbeddingQueueItem, error) {
	var item domain.EmbeddingQueueItem
	var chunksJSON []byte
	if err := row.Scan(&item.ID, &item.DocumentID, &chunksJSON, &item.Attempts, &item.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(chunksJSON, &item.Chunks); err != nil {
		return nil, fmt.Errorf("unmarshal chunks: %w", err)
	}
	return &item, nil
}

// Ack removes a completed item from the queue.
func (s *EmbeddingQueueStore) Ack(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM embedding_queue WHERE id = $1`, id)
	return err
}

// Nack requeues a failed item, incrementing its attempt count. An item is
// dropped on its third failed attempt; the document stays searchable by
// lexical text, just without a vector.
func (s *EmbeddingQueueStore) Nack(ctx context.Context, id string, reason string) error {
	var attempts int
	err := s.db.QueryRowContext(ctx, `SELECT attempts FROM embedding_queue WHERE id = $1`, id).Scan(&attempts)
	if err == sql.ErrNoRows {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	attempts++
	if attempts >= 3 {
		_, err = s.db.ExecContext(ctx, `DELETE FROM embedding_queue WHERE id = $1`, id)
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE embedding_queue SET status = 'pending', attempts = $1 WHERE id = $2`, attempts, id)
	return err
}
