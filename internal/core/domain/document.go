package domain

import (
	"encoding/json"
	"time"
)

// Document is a materialized searchable record produced by applying
// ConnectorEvents. Uniqueness is on (SourceID, ExternalID).
type Document struct {
	ID         string          `json:"id"`
	SourceID   string          `json:"source_id"`
	ExternalID string          `json:"external_id"`
	Title      string          `json:"title"`
	ContentID  string          `json:"content_id,omitempty"`
	MimeType   string          `json:"mime_type"`
	SizeBytes  int64           `json:"size_bytes"`
	URL        string          `json:"url,omitempty"`
	ParentID   string          `json:"parent_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Permissions json.RawMessage `json:"permissions,omitempty"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	IndexedAt  time.Time       `json:"indexed_at"`
}

// Embedding is one vectorized chunk of a document's content blob.
// Uniqueness is on (DocumentID, ChunkIndex, ModelName).
type Embedding struct {
	ID               string    `json:"id"`
	DocumentID       string    `json:"document_id"`
	ChunkIndex       int       `json:"chunk_index"`
	ChunkStartOffset int       `json:"chunk_start_offset"`
	ChunkEndOffset   int       `json:"chunk_end_offset"`
	Vector           []float32 `json:"vector"`
	ModelName        string    `json:"model_name"`
	Dimensions       int       `json:"dimensions"`
	CreatedAt        time.Time `json:"created_at"`
}

// EmbeddingQueueItem is a unit of embedding work: a document and the text
// chunks that still need vectors.
type EmbeddingQueueItem struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Chunks     []TextChunk `json:"chunks"`
	Attempts   int       `json:"attempts"`
	CreatedAt  time.Time `json:"created_at"`
}

// TextChunk is one non-overlapping byte range of a content blob's text,
// produced by the chunker.
type TextChunk struct {
	Index       int    `json:"index"`
	Text        string `json:"text"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
}

// DocumentWithEmbeddings combines a document with its current embeddings.
type DocumentWithEmbeddings struct {
	Document   *Document    `json:"document"`
	Embeddings []*Embedding `json:"embeddings"`
}
