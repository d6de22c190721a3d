package driven

// EmbeddingConfig carries the provider/model/endpoint settings needed to
// construct an EmbeddingService, sourced from process environment
// (EMBEDDING_SERVICE_URL, EMBEDDING_MODEL, EMBEDDING_API_KEY).
type EmbeddingConfig struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

// AIServiceFactory creates the embedding service for the process's
// configured provider.
type AIServiceFactory interface {
	// CreateEmbeddingService creates an embedding service from config.
	CreateEmbeddingService(cfg EmbeddingConfig) (EmbeddingService, error)
}
