package driven

import (
	"context"
	"encoding/json"
	"time"

	"github.com/meridian-search/meridian-core/internal/core/domain"
)

// SourceStore persists Source configuration and schedule state.
type SourceStore interface {
	Save(ctx context.Context, source *domain.Source) error
	Get(ctx context.Context, id string) (*domain.Source, error)
	GetByName(ctx context.Context, name string) (*domain.Source, error)
	List(ctx context.Context) ([]*domain.Source, error)
	ListActive(ctx context.Context) ([]*domain.Source, error)

	// ListDue returns active sources whose NextRunAt has passed. Any row
	// locks it takes end with the query; SyncRunStore.Create is what rejects
	// a second running run for the same source.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Source, error)

	Delete(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error

	// UpdateScheduleAndState commits a completed/failed sync run's effect on
	// the owning source: new connector cursor, next run time, status.
	UpdateScheduleAndState(ctx context.Context, id string, connectorState json.RawMessage, nextRunAt, lastSyncAt *time.Time, status domain.SyncStatus) error
}
