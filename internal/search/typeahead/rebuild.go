package typeahead

import (
	"context"
	"log/slog"
	"time"

	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
)

// Rebuilder periodically pages through the document store and swaps a fresh
// automaton into an Index, following the same ticker-driven consumer-loop
// shape as the other background workers in this module.
type Rebuilder struct {
	documents driven.DocumentStore
	index     *Index
	logger    *slog.Logger
	interval  time.Duration
	pageSize  int
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// RebuilderConfig configures a Rebuilder.
type RebuilderConfig struct {
	Documents driven.DocumentStore
	Index     *Index
	Logger    *slog.Logger
	Interval  time.Duration
	PageSize  int
}

// NewRebuilder creates a Rebuilder from cfg, defaulting Interval to 5
// minutes and PageSize to 1000 when unset.
func NewRebuilder(cfg RebuilderConfig) *Rebuilder {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Rebuilder{
		documents: cfg.Documents,
		index:     cfg.Index,
		logger:    cfg.Logger,
		interval:  cfg.Interval,
		pageSize:  cfg.PageSize,
	}
}

// Start runs an initial rebuild synchronously, then continues on a ticker
// in the background until Stop is called.
func (r *Rebuilder) Start(ctx context.Context) error {
	if err := r.RunOnce(ctx); err != nil {
		r.logger.Error("initial typeahead rebuild failed", "error", err)
	}

	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.run(ctx)
	return nil
}

// Stop signals the background loop to exit and waits for it to finish.
func (r *Rebuilder) Stop() {
	if r.stopCh == nil {
		return
	}
	close(r.stopCh)
	<-r.doneCh
}

func (r *Rebuilder) run(ctx context.Context) {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error("typeahead rebuild failed", "error", err)
			}
		}
	}
}

// RunOnce pages through every document and swaps the result into the
// Index. A failed page aborts the rebuild; the Index keeps serving the
// previous snapshot until the next successful attempt.
func (r *Rebuilder) RunOnce(ctx context.Context) error {
	var entries []Entry
	afterID := ""
	for {
		page, err := r.documents.ListTypeaheadEntries(ctx, afterID, r.pageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		for _, e := range page {
			entries = append(entries, Entry{
				Title:      e.Title,
				URL:        e.URL,
				SourceID:   e.SourceID,
				DocumentID: e.ID,
			})
		}
		afterID = page[len(page)-1].ID
		if len(page) < r.pageSize {
			break
		}
	}

	r.index.Rebuild(entries)
	r.logger.Info("typeahead index rebuilt", "entries", len(entries))
	return nil
}
