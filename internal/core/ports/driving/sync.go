package driving

import (
	"context"
	"encoding/json"

	"github.com/meridian-search/meridian-core/internal/core/domain"
)

// TriggerResult is returned from a successful sync trigger.
type TriggerResult struct {
	SyncRunID string `json:"sync_run_id"`
}

// CompleteParams is the body of POST /sdk/sync/{id}/complete.
type CompleteParams struct {
	DocumentsScanned int             `json:"documents_scanned"`
	DocumentsUpdated int             `json:"documents_updated"`
	NewState         json.RawMessage `json:"new_state,omitempty"`
}

// EventParams is the body of POST /sdk/events.
type EventParams struct {
	SyncRunID string                `json:"sync_run_id"`
	SourceID  string                `json:"source_id"`
	Event     domain.ConnectorEvent `json:"event"`
}

// ContentParams is the body of POST /sdk/content.
type ContentParams struct {
	SyncRunID   string `json:"sync_run_id"`
	Content     []byte `json:"content"`
	ContentType string `json:"content_type"`
}

// SyncOrchestrator is the use-case boundary for triggering, cancelling, and
// driving sync runs. It backs both the admin HTTP routes (Trigger, Cancel)
// and the SDK callback routes connector processes call during a run.
type SyncOrchestrator interface {
	// Trigger starts a new sync run for source. Returns the new run id, or
	// an error wrapping one of ErrNotFound, ErrSourceInactive,
	// ErrSyncInProgress, ErrConcurrencyLimit, ErrConnectorUnavailable.
	Trigger(ctx context.Context, sourceID string) (*TriggerResult, error)

	// Cancel forwards a cancellation to the connector running syncRunID.
	// Returns ErrRunNotRunning if the run isn't currently running.
	Cancel(ctx context.Context, syncRunID string) error

	GetRun(ctx context.Context, syncRunID string) (*domain.SyncRun, error)
	ListRunsForSource(ctx context.Context, sourceID string, limit int) ([]*domain.SyncRun, error)

	// Heartbeat, Scanned, Complete, Fail, and CancelCallback are the SDK
	// callbacks a connector process invokes while it owns syncRunID. Each
	// refreshes last_activity_at; all reject terminal runs with
	// ErrRunNotRunning.
	Heartbeat(ctx context.Context, syncRunID string) error
	Scanned(ctx context.Context, syncRunID string, count int) error
	Complete(ctx context.Context, syncRunID string, params CompleteParams) error
	Fail(ctx context.Context, syncRunID string, reason string) error
	CancelCallback(ctx context.Context, syncRunID string) error

	// Event enqueues one ConnectorEvent reported during syncRunID.
	Event(ctx context.Context, params EventParams) error

	// StoreContent persists a content blob reported during syncRunID and
	// returns its id.
	StoreContent(ctx context.Context, params ContentParams) (string, error)

	// RunStaleDetection transitions runs stuck in running past the stale
	// timeout to failed, returning their ids.
	RunStaleDetection(ctx context.Context) ([]string, error)

	// RunDueSources triggers every source whose schedule has come due.
	RunDueSources(ctx context.Context) ([]*TriggerResult, error)
}
