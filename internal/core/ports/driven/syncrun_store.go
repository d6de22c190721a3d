package driven

import (
	"context"
	"time"

	"github.com/meridian-search/meridian-core/internal/core/domain"
)

// SyncRunStore persists SyncRun rows.
type SyncRunStore interface {
	Create(ctx context.Context, run *domain.SyncRun) error
	Update(ctx context.Context, run *domain.SyncRun) error
	Get(ctx context.Context, id string) (*domain.SyncRun, error)
	ListBySource(ctx context.Context, sourceID string, limit int) ([]*domain.SyncRun, error)
	// ListStale returns runs still Running whose heartbeat is older than
	// the given cutoff, used to detect connector processes that died
	// without reporting /sdk/fail.
	ListStale(ctx context.Context, cutoff time.Time) ([]*domain.SyncRun, error)
}

// ConnectorRegistry resolves a provider type to the base URL of the HTTP
// connector process responsible for it. The mapping is static per-process
// configuration, not a database table: operators deploy one connector
// process per provider and point the orchestrator at it.
type ConnectorRegistry interface {
	URLFor(providerType domain.ProviderType) (string, bool)
	SharedSecret(providerType domain.ProviderType) (string, bool)
}
