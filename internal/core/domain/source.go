package domain

import (
	"encoding/json"
	"time"
)

// SyncStatus is the status tag a Source carries after its most recent sync run.
type SyncStatus string

const (
	SyncStatusIdle      SyncStatus = "idle"
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// Source is a configured ingestion endpoint for one external provider account.
// Config is opaque to the core - the connector that owns ProviderType defines
// and validates its shape. ConnectorState is likewise opaque: the connector
// reads it on /sync and the core persists whatever it returns in new_state.
type Source struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	ProviderType    ProviderType    `json:"provider_type"`
	Config          json.RawMessage `json:"config"`
	ConnectorState  json.RawMessage `json:"connector_state,omitempty"`
	Active          bool            `json:"active"`
	IntervalSeconds int             `json:"interval_seconds"`
	NextRunAt       *time.Time      `json:"next_run_at,omitempty"`
	LastSyncAt      *time.Time      `json:"last_sync_at,omitempty"`
	SyncStatus      SyncStatus      `json:"sync_status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// SourceSummary provides a summary of a source's indexed state.
type SourceSummary struct {
	Source        *Source    `json:"source"`
	DocumentCount int        `json:"document_count"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty"`
	SyncStatus    SyncStatus `json:"sync_status"`
}
