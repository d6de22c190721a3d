package ai

import (
	"testing"

	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
)

func TestNewFactory(t *testing.T) {
	factory := NewFactory()
	if factory == nil {
		t.Fatal("expected non-nil factory")
	}
}

func TestFactory_CreateEmbeddingService_OpenAI(t *testing.T) {
	factory := NewFactory()

	svc, err := factory.CreateEmbeddingService(driven.EmbeddingConfig{
		Provider: "openai",
		Model:    "text-embedding-3-small",
		APIKey:   "sk-test",
	})
	if err != nil {
		t.Errorf("expected no error for OpenAI, got %v", err)
	}
	if svc == nil {
		t.Error("expected non-nil service for OpenAI")
	}
}

func TestFactory_CreateEmbeddingService_DefaultsToOpenAI(t *testing.T) {
	factory := NewFactory()

	svc, err := factory.CreateEmbeddingService(driven.EmbeddingConfig{
		APIKey: "sk-test",
	})
	if err != nil {
		t.Errorf("expected no error for default provider, got %v", err)
	}
	if svc == nil {
		t.Error("expected non-nil service for default provider")
	}
}

func TestFactory_CreateEmbeddingService_InvalidProvider(t *testing.T) {
	factory := NewFactory()

	_, err := factory.CreateEmbeddingService(driven.EmbeddingConfig{
		Provider: "invalid-provider",
		Model:    "some-model",
		APIKey:   "test-key",
	})
	if err == nil {
		t.Error("expected error for invalid provider")
	}
}
