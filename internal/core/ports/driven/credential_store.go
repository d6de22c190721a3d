package driven

import (
	"context"

	"github.com/meridian-search/meridian-core/internal/core/domain"
)

// CredentialStore persists encrypted ServiceCredential rows.
type CredentialStore interface {
	Save(ctx context.Context, cred *domain.ServiceCredential) error
	Get(ctx context.Context, id string) (*domain.ServiceCredential, error)
	List(ctx context.Context) ([]*domain.ServiceCredential, error)
	Delete(ctx context.Context, id string) error
	GetByProvider(ctx context.Context, providerType domain.ProviderType) ([]*domain.ServiceCredential, error)
}
