// Package embeddingworker drains the embedding queue, vectorizes each
// document's pending chunks through an EmbeddingService, and writes the
// resulting vectors into the embedding store. It is the process that turns
// the chunked text the indexer produces into searchable vectors.
package embeddingworker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/meridian-search/meridian-core/internal/core/domain"
	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
)

// Worker drains EmbeddingQueueStore and replaces each document's embedding
// set via EmbeddingService and EmbeddingStore.
type Worker struct {
	queue      driven.EmbeddingQueueStore
	embeddings driven.EmbeddingStore
	service    driven.EmbeddingService
	documents  driven.DocumentStore
	search     driven.SearchEngine
	logger     *slog.Logger

	concurrency  int
	batchSize    int
	pollInterval time.Duration

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Config holds the dependencies and tuning knobs for a Worker.
type Config struct {
	Queue      driven.EmbeddingQueueStore
	Embeddings driven.EmbeddingStore
	Service    driven.EmbeddingService
	// Documents and Search are optional. When both are set the worker
	// re-indexes the document into the search engine with its freshly
	// computed vectors once they are written to the embedding store.
	Documents driven.DocumentStore
	Search    driven.SearchEngine
	Logger    *slog.Logger

	Concurrency  int           // number of concurrent consumer goroutines
	BatchSize    int           // items claimed per Dequeue call
	PollInterval time.Duration // sleep between empty dequeues
}

// New creates an embedding Worker.
func New(cfg Config) *Worker {
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

	return &Worker{
		queue:        cfg.Queue,
		embeddings:   cfg.Embeddings,
		service:      cfg.Service,
		documents:    cfg.Documents,
		search:       cfg.Search,
		logger:       logger,
		concurrency:  concurrency,
		batchSize:    batchSize,
		pollInterval: pollInterval,
	}
}

// Start launches the consumer goroutines. It returns immediately; call Wait
// or Stop to manage the worker's lifetime.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("embedding worker starting", "concurrency", w.concurrency, "batch_size", w.batchSize, "model", w.service.Model())

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.consumeLoop(ctx, workerID)
		}(i)
	}

	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	return nil
}

// Stop signals all consumers to exit and blocks until they do.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("embedding worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	<-w.doneCh
}

func (w *Worker) consumeLoop(ctx context.Context, workerID int) {
	logger := w.logger.With("worker_id", workerID)
	logger.Info("embedding consumer started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		items, err := w.queue.Dequeue(ctx, w.batchSize)
		if err != nil {
			logger.Error("dequeue failed", "error", err)
			w.sleep(ctx, w.pollInterval)
			continue
		}
		if len(items) == 0 {
			w.sleep(ctx, w.pollInterval)
			continue
		}

		for _, item := range items {
			w.processItem(ctx, item, logger)
		}
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	case <-w.stopCh:
	}
}

func (w *Worker) processItem(ctx context.Context, item *domain.EmbeddingQueueItem, logger *slog.Logger) {
	logger = logger.With("item_id", item.ID, "document_id", item.DocumentID, "chunks", len(item.Chunks))

	if len(item.Chunks) == 0 {
		if ackErr := w.queue.Ack(ctx, item.ID); ackErr != nil {
			logger.Error("ack failed", "error", ackErr)
		}
		return
	}

	texts := make([]string, len(item.Chunks))
	for i, c := range item.Chunks {
		texts[i] = c.Text
	}

	vectors, err := w.service.Embed(ctx, texts)
	if err != nil {
		logger.Error("embed failed", "error", err, "attempt", item.Attempts+1)
		if nackErr := w.queue.Nack(ctx, item.ID, err.Error()); nackErr != nil {
			logger.Error("nack failed", "error", nackErr)
		}
		return
	}
	if len(vectors) != len(item.Chunks) {
		err := fmt.Errorf("embedding service returned %d vectors for %d chunks", len(vectors), len(item.Chunks))
		logger.Error("vector count mismatch", "error", err)
		if nackErr := w.queue.Nack(ctx, item.ID, err.Error()); nackErr != nil {
			logger.Error("nack failed", "error", nackErr)
		}
		return
	}

	now := time.Now()
	embeddings := make([]*domain.Embedding, len(item.Chunks))
	for i, c := range item.Chunks {
		embeddings[i] = &domain.Embedding{
			ID:               domain.NewID(),
			DocumentID:       item.DocumentID,
			ChunkIndex:       c.Index,
			ChunkStartOffset: c.StartOffset,
			ChunkEndOffset:   c.EndOffset,
			Vector:           vectors[i],
			ModelName:        w.service.Model(),
			Dimensions:       w.service.Dimensions(),
			CreatedAt:        now,
		}
	}

	if err := w.embeddings.ReplaceForDocument(ctx, item.DocumentID, embeddings); err != nil {
		logger.Error("replace embeddings failed", "error", err)
		if nackErr := w.queue.Nack(ctx, item.ID, err.Error()); nackErr != nil {
			logger.Error("nack failed", "error", nackErr)
		}
		return
	}

	if w.search != nil && w.documents != nil {
		if err := w.reindex(ctx, item, embeddings); err != nil {
			logger.Error("search engine reindex failed", "error", err)
		}
	}

	if ackErr := w.queue.Ack(ctx, item.ID); ackErr != nil {
		logger.Error("ack failed", "error", ackErr)
	}
}

// reindex pushes the document's chunk text and freshly computed embeddings
// into the search engine. A failure here does not fail the queue item: the
// vectors are already durable in the embedding store, and the document
// remains searchable on its lexical-only index from the indexer's pass.
func (w *Worker) reindex(ctx context.Context, item *domain.EmbeddingQueueItem, embeddings []*domain.Embedding) error {
	doc, err := w.documents.Get(ctx, item.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	texts := make([]string, len(item.Chunks))
	for i, c := range item.Chunks {
		texts[i] = c.Text
	}

	return w.search.Index(ctx, doc, strings.Join(texts, "\n"), embeddings)
}
