package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/meridian-search/meridian-core/internal/core/domain"
	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
)

// Ensure Queue implements EventQueue
var _ driven.EventQueue = (*Queue)(nil)

// Queue implements EventQueue against the connector_events_queue table,
// using SELECT ... FOR UPDATE SKIP LOCKED for wait-free multi-consumer dequeue.
type Queue struct {
	db *sql.DB
}

// NewQueue creates a new PostgreSQL-backed event queue.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue adds a single queue item.
func (q *Queue) Enqueue(ctx context.Context, item *domain.QueueItem) error {
	query := `
		INSERT INTO connector_events_queue (
			id, source_id, sync_run_id, event_type, payload, status,
			retry_count, max_retries, created_at, processed_at, last_error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := q.db.ExecContext(ctx, query,
		item.ID, item.SourceID, item.SyncRunID, string(item.EventType), []byte(item.Payload),
		string(item.Status), item.RetryCount, item.MaxRetries, item.CreatedAt,
		nullTime(item.ProcessedAt), item.LastError,
	)
	if err != nil {
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	return &nt.Time
}

// EnqueueBatch adds multiple queue items atomically, preserving the order
// they were appended so FIFO-within-partition dequeue reflects emission order.
func (q *Queue) EnqueueBatch(ctx context.Context, items []*domain.QueueItem) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO connector_events_queue (
			id, source_id, sync_run_id, event_type, payload, status,
			retry_count, max_retries, created_at, processed_at, last_error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		_, err := stmt.ExecContext(ctx,
			item.ID, item.SourceID, item.SyncRunID, string(item.EventType), []byte(item.Payload),
			string(item.Status), item.RetryCount, item.MaxRetries, item.CreatedAt,
			nullTime(item.ProcessedAt), item.LastError,
		)
		if err != nil {
			return fmt.Errorf("insert queue item %s: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Dequeue claims up to limit pending items from a single (source_id,
// sync_run_id) partition, so a batch is never applied out of emission order
// within a run. The partition chosen is the one with the most pending rows,
// tie-broken by the oldest row, which keeps the queue draining its busiest
// run first instead of starving it behind a trickle from other sources.
func (q *Queue) Dequeue(ctx context.Context, limit int) ([]*domain.QueueItem, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	selectQuery := `
		WITH target_partition AS (
			SELECT source_id, sync_run_id
			FROM connector_events_queue
			WHERE status = $1
			GROUP BY source_id, sync_run_id
			ORDER BY count(*) DESC, min(id) ASC
			LIMIT 1
		)
		SELECT q.id, q.source_id, q.sync_run_id, q.event_type, q.payload, q.status,
		       q.retry_count, q.max_retries, q.created_at, q.processed_at, q.last_error
		FROM connector_events_queue q
		JOIN target_partition t
		  ON q.source_id = t.source_id AND q.sync_run_id = t.sync_run_id
		WHERE q.status = $1
		ORDER BY q.id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.QueryContext(ctx, selectQuery, string(domain.QueueItemPending), limit)
	if err != nil {
		return nil, fmt.Errorf("select queue items: %w", err)
	}

	var items []*domain.QueueItem
	var ids []string
	for rows.Next() {
		item, err := scanQueueItem(rows)
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

	updateQuery := `UPDATE connector_events_queue SET status = $1 WHERE id = ANY($2)`
	if _, err := tx.ExecContext(ctx, updateQuery, string(domain.QueueItemProcessing), pqStringArrayLiteral(ids)); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	for _, item := range items {
		item.Status = domain.QueueItemProcessing
	}
	return items, nil
}

func scanQueueItem(row rowScanner) (*domain.QueueItem, error) {
	var item domain.QueueItem
	var payload []byte
	var eventType, status string
	var processedAt sql.NullTime

	err := row.Scan(
		&item.ID, &item.SourceID, &item.SyncRunID, &eventType, &payload, &status,
		&item.RetryCount, &item.MaxRetries, &item.CreatedAt, &processedAt, &item.LastError,
	)
	if err != nil {
		return nil, err
	}
	item.EventType = domain.ConnectorEventType(eventType)
	item.Status = domain.QueueItemStatus(status)
	item.Payload = payload
	item.ProcessedAt = timePtr(processedAt)
	return &item, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Ack marks an item completed.
func (q *Queue) Ack(ctx context.Context, itemID string) error {
	now := time.Now()
	query := `UPDATE connector_events_queue SET status = $1, processed_at = $2, last_error = '' WHERE id = $3`
	result, err := q.db.ExecContext(ctx, query, string(domain.QueueItemCompleted), now, itemID)
	if err != nil {
		return fmt.Errorf("update queue item: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Nack marks an item failed, requeuing it to pending if retries remain,
// otherwise dead_letter.
func (q *Queue) Nack(ctx context.Context, itemID string, reason string) error {
	item, err := q.GetItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("get item: %w", err)
	}

	item.RetryCount++
	now := time.Now()

	if item.CanRetry() {
		query := `UPDATE connector_events_queue SET status = $1, retry_count = $2, last_error = $3 WHERE id = $4`
		_, err = q.db.ExecContext(ctx, query, string(domain.QueueItemPending), item.RetryCount, reason, itemID)
	} else {
		query := `UPDATE connector_events_queue SET status = $1, retry_count = $2, last_error = $3, processed_at = $4 WHERE id = $5`
		_, err = q.db.ExecContext(ctx, query, string(domain.QueueItemDeadLetter), item.RetryCount, reason, now, itemID)
	}
	if err != nil {
		return fmt.Errorf("update queue item: %w", err)
	}
	return nil
}

// GetItem retrieves a queue item by id.
func (q *Queue) GetItem(ctx context.Context, itemID string) (*domain.QueueItem, error) {
	query := `
		SELECT id, source_id, sync_run_id, event_type, payload, status,
		       retry_count, max_retries, created_at, processed_at, last_error
		FROM connector_events_queue
		WHERE id = $1
	`
	item, err := scanQueueItem(q.db.QueryRowContext(ctx, query, itemID))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query queue item: %w", err)
	}
	return item, nil
}

// RecoverStaleProcessing requeues processing items whose created_at is older
// than staleAfterSeconds back to pending, incrementing retry_count. The time
// an item entered processing is not recorded, so age is counted from creation.
func (q *Queue) RecoverStaleProcessing(ctx context.Context, staleAfterSeconds int) (int, error) {
	cutoff := time.Now().Add(-time.Duration(staleAfterSeconds) * time.Second)
	query := `
		UPDATE connector_events_queue
		SET status = $1, retry_count = retry_count + 1
		WHERE status = $2 AND created_at < $3
	`
	result, err := q.db.ExecContext(ctx, query, string(domain.QueueItemPending), string(domain.QueueItemProcessing), cutoff)
	if err != nil {
		return 0, fmt.Errorf("recover stale items: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

// Stats returns queue depth and age statistics.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	stats := &driven.QueueStats{}

	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM connector_events_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		switch domain.QueueItemStatus(status) {
		case domain.QueueItemPending:
			stats.PendingCount = count
		case domain.QueueItemProcessing:
			stats.ProcessingCount = count
		case domain.QueueItemCompleted:
			stats.CompletedCount = count
		case domain.QueueItemFailed:
			stats.FailedCount = count
		case domain.QueueItemDeadLetter:
			stats.DeadLetterCount = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var age sql.NullInt64
	ageQuery := `SELECT EXTRACT(EPOCH FROM (NOW() - MIN(created_at)))::bigint FROM connector_events_queue WHERE status = $1`
	if err := q.db.QueryRowContext(ctx, ageQuery, string(domain.QueueItemPending)).Scan(&age); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("query oldest age: %w", err)
	}
	if age.Valid {
		stats.OldestPendingAge = age.Int64
	}

	return stats, nil
}

// Ping checks database connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// Close is a no-op; the underlying *sql.DB is owned by the caller.
func (q *Queue) Close() error {
	return nil
}

func pqStringArrayLiteral(ids []string) string {
	s := "{"
	for i, id := range ids {
		if i > 0 {
			s += ","
		}
		s += `"` + id + `"`
	}
	return s + "}"
}
