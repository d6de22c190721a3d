// Package indexer consumes ConnectorEvents from the event queue, applies
// them to the document store, and hands off chunked text to the embedding
// queue. It is the process that turns a connector's "document created" call
// into a searchable, vectorized row.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/meridian-search/meridian-core/internal/core/domain"
	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
)

// Indexer drains the event queue and materializes Documents, chunked text,
// and embedding work from ConnectorEvents.
type Indexer struct {
	queue          driven.EventQueue
	documents      driven.DocumentStore
	blobs          driven.ContentBlobStore
	blobStore      driven.BlobStore
	normalisers    driven.NormaliserRegistry
	pipeline       driven.PostProcessorPipeline
	embeddingQueue driven.EmbeddingQueueStore
	searchEngine   driven.SearchEngine
	logger         *slog.Logger

	concurrency  int
	batchSize    int
	pollInterval time.Duration

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Config holds the dependencies and tuning knobs for an Indexer.
type Config struct {
	Queue          driven.EventQueue
	Documents      driven.DocumentStore
	Blobs          driven.ContentBlobStore
	BlobStore      driven.BlobStore
	Normalisers    driven.NormaliserRegistry
	Pipeline       driven.PostProcessorPipeline
	EmbeddingQueue driven.EmbeddingQueueStore
	// SearchEngine is optional; when set the indexer pushes a lexical-only
	// index update as soon as a document is chunked, ahead of the
	// embedding worker filling in vectors.
	SearchEngine driven.SearchEngine
	Logger       *slog.Logger

	Concurrency  int           // number of concurrent consumer goroutines
	BatchSize    int           // items claimed per Dequeue call
	PollInterval time.Duration // sleep between empty dequeues
}

// New creates an Indexer.
func New(cfg Config) *Indexer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	return &Indexer{
		queue:          cfg.Queue,
		documents:      cfg.Documents,
		blobs:          cfg.Blobs,
		blobStore:      cfg.BlobStore,
		normalisers:    cfg.Normalisers,
		pipeline:       cfg.Pipeline,
		embeddingQueue: cfg.EmbeddingQueue,
		searchEngine:   cfg.SearchEngine,
		logger:         logger,
		concurrency:    concurrency,
		batchSize:      batchSize,
		pollInterval:   pollInterval,
	}
}

// Start launches the consumer goroutines. It returns immediately; call Wait
// or Stop to manage the indexer's lifetime.
func (ix *Indexer) Start(ctx context.Context) error {
	ix.mu.Lock()
	if ix.running {
		ix.mu.Unlock()
		return nil
	}
	ix.running = true
	ix.stopCh = make(chan struct{})
	ix.doneCh = make(chan struct{})
	ix.mu.Unlock()

	ix.logger.Info("indexer starting", "concurrency", ix.concurrency, "batch_size", ix.batchSize)

	var wg sync.WaitGroup
	for i := 0; i < ix.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			ix.consumeLoop(ctx, workerID)
		}(i)
	}

	go func() {
		wg.Wait()
		close(ix.doneCh)
	}()

	return nil
}

// Stop signals all consumers to exit and blocks until they do.
func (ix *Indexer) Stop() {
	ix.mu.Lock()
	if !ix.running {
		ix.mu.Unlock()
		return
	}
	close(ix.stopCh)
	ix.mu.Unlock()

	<-ix.doneCh

	ix.mu.Lock()
	ix.running = false
	ix.mu.Unlock()

	ix.logger.Info("indexer stopped")
}

// Wait blocks until the indexer stops.
func (ix *Indexer) Wait() {
	<-ix.doneCh
}

func (ix *Indexer) consumeLoop(ctx context.Context, workerID int) {
	logger := ix.logger.With("worker_id", workerID)
	logger.Info("indexer consumer started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ix.stopCh:
			return
		default:
		}

		items, err := ix.queue.Dequeue(ctx, ix.batchSize)
		if err != nil {
			logger.Error("dequeue failed", "error", err)
			ix.sleep(ctx, ix.pollInterval)
			continue
		}
		if len(items) == 0 {
			ix.sleep(ctx, ix.pollInterval)
			continue
		}

		for _, item := range items {
			ix.processItem(ctx, item, logger)
		}
	}
}

func (ix *Indexer) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	case <-ix.stopCh:
	}
}

func (ix *Indexer) processItem(ctx context.Context, item *domain.QueueItem, logger *slog.Logger) {
	logger = logger.With("item_id", item.ID, "source_id", item.SourceID, "event_type", item.EventType)

	var event domain.ConnectorEvent
	if err := json.Unmarshal(item.Payload, &event); err != nil {
		logger.Error("malformed event payload, sending to dead letter", "error", err)
		_ = ix.queue.Nack(ctx, item.ID, fmt.Sprintf("unmarshal payload: %v", err))
		return
	}

	var err error
	switch event.Type {
	case domain.ConnectorEventDocumentDeleted:
		err = ix.applyDelete(ctx, &event)
	case domain.ConnectorEventDocumentCreated, domain.ConnectorEventDocumentUpdated:
		err = ix.applyUpsert(ctx, &event)
	default:
		err = fmt.Errorf("unhandled event type: %s", event.Type)
	}

	if err != nil {
		logger.Error("apply event failed", "error", err)
		if nackErr := ix.queue.Nack(ctx, item.ID, err.Error()); nackErr != nil {
			logger.Error("nack failed", "error", nackErr)
		}
		return
	}

	if ackErr := ix.queue.Ack(ctx, item.ID); ackErr != nil {
		logger.Error("ack failed", "error", ackErr)
	}
}

func (ix *Indexer) applyDelete(ctx context.Context, event *domain.ConnectorEvent) error {
	if err := ix.documents.Delete(ctx, event.DocumentID); err != nil && err != domain.ErrNotFound {
		return fmt.Errorf("delete document: %w", err)
	}
	if ix.searchEngine != nil {
		if err := ix.searchEngine.Delete(ctx, event.DocumentID); err != nil {
			return fmt.Errorf("delete from search engine: %w", err)
		}
	}
	return nil
}

func (ix *Indexer) applyUpsert(ctx context.Context, event *domain.ConnectorEvent) error {
	now := time.Now()
	doc := &domain.Document{
		ID:          event.DocumentID,
		SourceID:    event.SourceID,
		ExternalID:  event.ExternalID,
		Title:       event.Title,
		ContentID:   event.ContentID,
		MimeType:    event.MimeType,
		URL:         event.URL,
		ParentID:    event.ParentID,
		Metadata:    event.Metadata,
		Permissions: event.Permissions,
		Attributes:  event.Attributes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := ix.documents.Upsert(ctx, doc); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}

	if event.ContentID == "" {
		return nil
	}

	chunks, blobSize, err := ix.chunkContent(ctx, event.ContentID, event.MimeType)
	if err != nil {
		return fmt.Errorf("chunk content: %w", err)
	}
	doc.SizeBytes = blobSize

	if err := ix.blobs.MarkReferenced(ctx, []string{event.ContentID}); err != nil {
		return fmt.Errorf("mark blob referenced: %w", err)
	}

	if len(chunks) == 0 {
		return ix.documents.MarkIndexed(ctx, doc.ID)
	}

	domainChunks := make([]domain.TextChunk, len(chunks))
	for i, c := range chunks {
		domainChunks[i] = domain.TextChunk{
			Index:       c.Position,
			Text:        c.Content,
			StartOffset: c.StartOffset,
			EndOffset:   c.EndOffset,
		}
	}

	queueItem := &domain.EmbeddingQueueItem{
		ID:         domain.NewID(),
		DocumentID: doc.ID,
		Chunks:     domainChunks,
		CreatedAt:  now,
	}
	if err := ix.embeddingQueue.Enqueue(ctx, queueItem); err != nil {
		return fmt.Errorf("enqueue embedding work: %w", err)
	}

	if ix.searchEngine != nil {
		text := joinChunkText(domainChunks)
		if err := ix.searchEngine.Index(ctx, doc, text, nil); err != nil {
			return fmt.Errorf("index document: %w", err)
		}
	}

	return ix.documents.MarkIndexed(ctx, doc.ID)
}

func joinChunkText(chunks []domain.TextChunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Text
	}
	return strings.Join(parts, "\n")
}

// chunkContent reads a content blob, runs it through the normaliser for its
// MIME type, then through the chunking pipeline. It returns the chunks and
// the blob's size in bytes.
func (ix *Indexer) chunkContent(ctx context.Context, contentID, mimeType string) ([]driven.Chunk, int64, error) {
	blob, err := ix.blobs.Get(ctx, contentID)
	if err != nil {
		return nil, 0, fmt.Errorf("get blob metadata: %w", err)
	}

	r, err := ix.blobStore.Get(ctx, blob.StorageKey)
	if err != nil {
		return nil, 0, fmt.Errorf("read blob bytes: %w", err)
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("read blob body: %w", err)
	}

	text := string(raw)
	if normaliser := ix.normalisers.Get(mimeType); normaliser != nil {
		text = normaliser.Normalise(text, mimeType)
	}

	return ix.pipeline.Process(text), int64(len(raw)), nil
}
