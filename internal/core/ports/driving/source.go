package driving

import (
	"context"
	"encoding/json"

	"github.com/meridian-search/meridian-core/internal/core/domain"
)

// CreateSourceRequest describes a new Source to provision.
type CreateSourceRequest struct {
	Name            string              `json:"name"`
	ProviderType    domain.ProviderType `json:"provider_type"`
	Config          json.RawMessage     `json:"config"`
	IntervalSeconds int                 `json:"interval_seconds"`
}

// UpdateSourceRequest patches an existing Source. Nil fields are left unchanged.
type UpdateSourceRequest struct {
	Name            *string         `json:"name,omitempty"`
	Config          json.RawMessage `json:"config,omitempty"`
	IntervalSeconds *int            `json:"interval_seconds,omitempty"`
}

// SourceService exposes admin operations over Source configuration.
type SourceService interface {
	Create(ctx context.Context, req CreateSourceRequest) (*domain.Source, error)
	Get(ctx context.Context, id string) (*domain.Source, error)
	List(ctx context.Context) ([]*domain.Source, error)
	ListWithSummary(ctx context.Context) ([]*domain.SourceSummary, error)
	Update(ctx context.Context, id string, req UpdateSourceRequest) (*domain.Source, error)
	Delete(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error
}
