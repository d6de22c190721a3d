// Package blobgc periodically reclaims content_blobs that no document (or
// in-flight event) references any longer. Each cycle first rescues orphaned
// blobs that became referenced again, then marks unreferenced blobs
// orphaned, then deletes blobs that have sat orphaned past the retention
// window.
package blobgc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
)

const (
	defaultInterval    = 1 * time.Hour
	defaultRetention   = 7 * 24 * time.Hour
	defaultGracePeriod = 1 * time.Hour
	defaultBatchSize   = 100
)

// Result summarizes a single GC cycle.
type Result struct {
	Unmarked int
	Orphaned int
	Deleted  int
	DryRun   bool
}

// Config holds the dependencies and tuning knobs for the GC loop.
type Config struct {
	ContentBlobs driven.ContentBlobStore
	BlobStore    driven.BlobStore
	Logger       *slog.Logger

	Interval time.Duration // how often a cycle runs
	Retention time.Duration // how long a blob must stay orphaned before sweep
	// GracePeriod delays marking blobs created more recently than this,
	// so a blob mid-upload (content written, document row not yet
	// committed) isn't marked orphaned in the same cycle it was created.
	GracePeriod time.Duration
	BatchSize   int // blobs swept per ListOrphaned call
	DryRun      bool
}

// GC runs the mark/unmark/sweep cycle on a ticker.
type GC struct {
	contentBlobs driven.ContentBlobStore
	blobStore    driven.BlobStore
	logger       *slog.Logger

	interval    time.Duration
	retention   time.Duration
	gracePeriod time.Duration
	batchSize   int
	dryRun      bool

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a GC loop.
func New(cfg Config) *GC {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	gracePeriod := cfg.GracePeriod
	if gracePeriod <= 0 {
		gracePeriod = defaultGracePeriod
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	return &GC{
		contentBlobs: cfg.ContentBlobs,
		blobStore:    cfg.BlobStore,
		logger:       logger,
		interval:     interval,
		retention:    retention,
		gracePeriod:  gracePeriod,
		batchSize:    batchSize,
		dryRun:       cfg.DryRun,
	}
}

// Start begins the GC loop, running one cycle immediately. It runs until
// Stop is called or ctx is cancelled.
func (g *GC) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = true
	g.stopCh = make(chan struct{})
	g.doneCh = make(chan struct{})
	g.mu.Unlock()

	g.logger.Info("blob gc starting", "interval", g.interval, "retention", g.retention, "dry_run", g.dryRun)
	go g.run(ctx)
	return nil
}

// Stop gracefully stops the GC loop and waits for it to exit.
func (g *GC) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	close(g.stopCh)
	g.mu.Unlock()

	<-g.doneCh

	g.mu.Lock()
	g.running = false
	g.mu.Unlock()

	g.logger.Info("blob gc stopped")
}

func (g *GC) run(ctx context.Context) {
	defer close(g.doneCh)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	g.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stopCh:
			return
		case <-ticker.C:
			g.runCycle(ctx)
		}
	}
}

func (g *GC) runCycle(ctx context.Context) {
	result, err := g.RunOnce(ctx)
	if err != nil {
		g.logger.Error("blob gc cycle failed", "error", err)
		return
	}
	if result.Orphaned > 0 || result.Deleted > 0 || result.Unmarked > 0 {
		g.logger.Info("blob gc cycle complete",
			"unmarked", result.Unmarked, "orphaned", result.Orphaned, "deleted", result.Deleted, "dry_run", result.DryRun)
	}
}

// RunOnce executes a single mark/unmark/sweep cycle and returns its counts.
// It is exported so an operator can trigger an out-of-band sweep (e.g. from
// a one-shot cron invocation) without waiting on the ticker.
func (g *GC) RunOnce(ctx context.Context) (Result, error) {
	unmarked, err := g.contentBlobs.UnmarkReferenced(ctx)
	if err != nil {
		return Result{}, err
	}

	orphaned, err := g.contentBlobs.MarkOrphanedBefore(ctx, time.Now().Add(-g.gracePeriod))
	if err != nil {
		return Result{Unmarked: unmarked}, err
	}

	deleted, err := g.sweep(ctx)
	if err != nil {
		return Result{Unmarked: unmarked, Orphaned: orphaned, Deleted: deleted}, err
	}

	return Result{Unmarked: unmarked, Orphaned: orphaned, Deleted: deleted, DryRun: g.dryRun}, nil
}

// sweep repeatedly fetches batches of expired orphans until one comes back
// short of a full batch, deleting each blob's bytes then its metadata row.
func (g *GC) sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-g.retention)
	deleted := 0

	for {
		blobs, err := g.contentBlobs.ListOrphaned(ctx, cutoff, g.batchSize)
		if err != nil {
			return deleted, err
		}
		if len(blobs) == 0 {
			return deleted, nil
		}

		for _, blob := range blobs {
			if g.dryRun {
				g.logger.Info("blob gc dry run would delete", "blob_id", blob.ID, "storage_key", blob.StorageKey, "orphaned_at", blob.OrphanedAt)
				continue
			}
			if err := g.blobStore.Delete(ctx, blob.StorageKey); err != nil {
				g.logger.Error("failed to delete blob bytes", "blob_id", blob.ID, "error", err)
				continue
			}
			if err := g.contentBlobs.Delete(ctx, blob.ID); err != nil {
				g.logger.Error("failed to delete blob metadata", "blob_id", blob.ID, "error", err)
				continue
			}
			deleted++
		}

		if g.dryRun || len(blobs) < g.batchSize {
			return deleted, nil
		}
	}
}
