// Package registry provides a static, process-configuration-driven
// ConnectorRegistry: one connector process per provider, deployed at a
// known URL, with a shared secret used to authenticate its SDK callbacks.
package registry

import (
	"github.com/meridian-search/meridian-core/internal/core/domain"
	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ConnectorRegistry = (*StaticRegistry)(nil)

type entry struct {
	url    string
	secret string
}

// StaticRegistry resolves provider types to connector base URLs from an
// in-memory map built once at startup from environment configuration.
type StaticRegistry struct {
	entries map[domain.ProviderType]entry
}

// New creates an empty StaticRegistry; call Register for each configured
// provider.
func New() *StaticRegistry {
	return &StaticRegistry{entries: make(map[domain.ProviderType]entry)}
}

// Register binds a provider type to its connector's base URL and shared
// secret. An empty secret makes SharedSecret report false, so the server
// rejects every SDK callback from that connector.
func (r *StaticRegistry) Register(providerType domain.ProviderType, baseURL, sharedSecret string) {
	r.entries[providerType] = entry{url: baseURL, secret: sharedSecret}
}

func (r *StaticRegistry) URLFor(providerType domain.ProviderType) (string, bool) {
	e, ok := r.entries[providerType]
	if !ok || e.url == "" {
		return "", false
	}
	return e.url, true
}

func (r *StaticRegistry) SharedSecret(providerType domain.ProviderType) (string, bool) {
	e, ok := r.entries[providerType]
	if !ok || e.secret == "" {
		return "", false
	}
	return e.secret, true
}

// Providers returns the provider types with a registered connector URL.
func (r *StaticRegistry) Providers() []domain.ProviderType {
	out := make([]domain.ProviderType, 0, len(r.entries))
	for pt, e := range r.entries {
		if e.url != "" {
			out = append(out, pt)
		}
	}
	return out
}
