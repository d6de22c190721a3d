package driven

import (
	"context"

	"github.com/meridian-search/meridian-core/internal/core/domain"
)

// QueueStats summarizes event queue depth and age.
type QueueStats struct {
	PendingCount     int64
	ProcessingCount  int64
	CompletedCount   int64
	FailedCount      int64
	DeadLetterCount  int64
	OldestPendingAge int64 // seconds
}

// EventQueue persists ConnectorEvents as QueueItems and serves them to the
// indexer FIFO within a (source_id, sync_run_id) partition.
type EventQueue interface {
	Enqueue(ctx context.Context, item *domain.QueueItem) error
	EnqueueBatch(ctx context.Context, items []*domain.QueueItem) error

	// Dequeue claims up to limit pending items for processing, oldest first
	// within partition, using FOR UPDATE SKIP LOCKED for wait-free multi-consumer safety.
	Dequeue(ctx context.Context, limit int) ([]*domain.QueueItem, error)

	Ack(ctx context.Context, itemID string) error
	Nack(ctx context.Context, itemID string, reason string) error

	GetItem(ctx context.Context, itemID string) (*domain.QueueItem, error)

	// RecoverStaleProcessing requeues items stuck in processing longer than
	// staleAfterSeconds, e.g. after a crashed indexer worker.
	RecoverStaleProcessing(ctx context.Context, staleAfterSeconds int) (int, error)

	Stats(ctx context.Context) (*QueueStats, error)
	Ping(ctx context.Context) error
	Close() error
}
