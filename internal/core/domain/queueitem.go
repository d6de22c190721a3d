package domain

import (
	"encoding/json"
	"time"
)

// QueueItemStatus is the lifecycle state of a queued ConnectorEvent.
type QueueItemStatus string

const (
	QueueItemPending    QueueItemStatus = "pending"
	QueueItemProcessing QueueItemStatus = "processing"
	QueueItemCompleted  QueueItemStatus = "completed"
	QueueItemFailed     QueueItemStatus = "failed"
	QueueItemDeadLetter QueueItemStatus = "dead_letter"
)

const defaultMaxQueueRetries = 3

// QueueItem is a queued ConnectorEvent row. Dequeue order is FIFO within the
// (SourceID, SyncRunID) partition: each Dequeue call takes items from a
// single partition, ordered by id.
type QueueItem struct {
	ID          string             `json:"id"`
	SourceID    string             `json:"source_id"`
	SyncRunID   string             `json:"sync_run_id"`
	EventType   ConnectorEventType `json:"event_type"`
	Payload     json.RawMessage    `json:"payload"`
	Status      QueueItemStatus    `json:"status"`
	RetryCount  int                `json:"retry_count"`
	MaxRetries  int                `json:"max_retries"`
	CreatedAt   time.Time          `json:"created_at"`
	ProcessedAt *time.Time         `json:"processed_at,omitempty"`
	LastError   string             `json:"last_error,omitempty"`
}

// NewQueueItem builds a pending QueueItem from a ConnectorEvent payload.
func NewQueueItem(id string, ev *ConnectorEvent, payload json.RawMessage) *QueueItem {
	return &QueueItem{
		ID:         id,
		SourceID:   ev.SourceID,
		SyncRunID:  ev.SyncRunID,
		EventType:  ev.Type,
		Payload:    payload,
		Status:     QueueItemPending,
		MaxRetries: defaultMaxQueueRetries,
		CreatedAt:  time.Now(),
	}
}

// CanRetry reports whether the item may be requeued after a processing failure.
func (q *QueueItem) CanRetry() bool {
	return q.RetryCount < q.MaxRetries
}
