package registry

import (
	"testing"

	"github.com/meridian-search/meridian-core/internal/core/domain"
)

func TestStaticRegistry_RegisterAndResolve(t *testing.T) {
	r := New()
	r.Register(domain.ProviderTypeFilesystem, "http://localhost:9001", "sekret")

	url, ok := r.URLFor(domain.ProviderTypeFilesystem)
	if !ok || url != "http://localhost:9001" {
		t.Errorf("expected registered URL, got %q ok=%v", url, ok)
	}

	secret, ok := r.SharedSecret(domain.ProviderTypeFilesystem)
	if !ok || secret != "sekret" {
		t.Errorf("expected registered secret, got %q ok=%v", secret, ok)
	}
}

func TestStaticRegistry_UnknownProvider(t *testing.T) {
	r := New()
	if _, ok := r.URLFor(domain.ProviderTypeJira); ok {
		t.Error("expected unregistered provider to resolve false")
	}
	if _, ok := r.SharedSecret(domain.ProviderTypeJira); ok {
		t.Error("expected unregistered provider secret to resolve false")
	}
}

func TestStaticRegistry_EmptySecretResolvesFalse(t *testing.T) {
	r := New()
	r.Register(domain.ProviderTypeWeb, "http://localhost:9002", "")
	if _, ok := r.SharedSecret(domain.ProviderTypeWeb); ok {
		t.Error("expected an empty shared secret to resolve false")
	}
}

func TestStaticRegistry_Providers(t *testing.T) {
	r := New()
	r.Register(domain.ProviderTypeFilesystem, "http://localhost:9001", "a")
	r.Register(domain.ProviderTypeWeb, "http://localhost:9002", "b")

	providers := r.Providers()
	if len(providers) != 2 {
		t.Errorf("expected 2 registered providers, got %+v", providers)
	}
}
