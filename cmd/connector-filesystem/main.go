// Command connector-filesystem is a reference connector process: it walks
// a local directory tree and reports document events back to meridian-core
// over the SDK routes. One process handles one source; the base path,
// core address, and shared secret are process configuration, matching the
// "one connector process per provider" model the core's ConnectorRegistry
// assumes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/meridian-search/meridian-core/internal/connectorsdk"
	"github.com/meridian-search/meridian-core/internal/core/domain"
)

const maxReadSize = 10 * 1024 * 1024 // 10MB, mirrors the upstream scanner's text-read cap

func main() {
	basePath := getEnv("BASE_PATH", ".")
	coreURL := getEnv("CORE_BASE_URL", "http://localhost:8080")
	secret := os.Getenv("CONNECTOR_SECRET")
	port := getEnvInt("PORT", 9001)
	watch := getEnvBool("WATCH_ENABLED", false)

	if _, err := os.Stat(basePath); err != nil {
		log.Fatalf("base path %q is not accessible: %v", basePath, err)
	}

	c := &connector{
		basePath: basePath,
		coreURL:  coreURL,
		secret:   secret,
		watch:    watch,
		cancels:  make(map[string]context.CancelFunc),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync", c.handleSync)
	mux.HandleFunc("POST /cancel", c.handleCancel)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	server := &http.Server{Addr: fmt.Sprintf("0.0.0.0:%d", port), Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf("connector-filesystem listening on :%d, watching %s", port, basePath)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

type syncDispatchBody struct {
	SyncRunID  string          `json:"sync_run_id"`
	SourceID   string          `json:"source_id"`
	SyncMode   string          `json:"sync_mode"`
	LastSyncAt *time.Time      `json:"last_sync_at,omitempty"`
}

type connector struct {
	basePath string
	coreURL  string
	secret   string
	watch    bool

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func (c *connector) handleSync(w http.ResponseWriter, r *http.Request) {
	var body syncDispatchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !verifySecret(r, c.secret) {
		http.Error(w, "invalid connector secret", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancels[body.SyncRunID] = cancel
	c.mu.Unlock()

	go c.runSync(ctx, body)

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"started"}`))
}

func (c *connector) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SyncRunID string `json:"sync_run_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !verifySecret(r, c.secret) {
		http.Error(w, "invalid connector secret", http.StatusUnauthorized)
		return
	}

	status := "not_found"
	c.mu.Lock()
	if cancel, ok := c.cancels[body.SyncRunID]; ok {
		cancel()
		delete(c.cancels, body.SyncRunID)
		status = "cancelled"
	}
	c.mu.Unlock()

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"` + status + `"}`))
}

// runSync walks basePath, reporting one DocumentCreated event per file,
// then completes the run. Heartbeats are sent every 30s so the
// orchestrator's stale-detection sweep doesn't mark a long scan as dead.
func (c *connector) runSync(ctx context.Context, body syncDispatchBody) {
	defer func() {
		c.mu.Lock()
		delete(c.cancels, body.SyncRunID)
		c.mu.Unlock()
	}()

	client := connectorsdk.New(c.coreURL, body.SyncRunID, c.secret)

	heartbeatStop := make(chan struct{})
	go c.heartbeatLoop(ctx, client, heartbeatStop)
	defer close(heartbeatStop)

	scanned, updated, err := c.scan(ctx, client, body.SourceID)
	if err != nil {
		if reportErr := client.Fail(context.Background(), err.Error()); reportErr != nil {
			log.Printf("failed to report sync failure: %v", reportErr)
		}
		return
	}

	if err := client.Complete(context.Background(), connectorsdk.CompleteParams{
		DocumentsScanned: scanned,
		DocumentsUpdated: updated,
	}); err != nil {
		log.Printf("failed to report sync completion: %v", err)
	}

	if c.watch {
		go c.watchForChanges(context.Background(), client, body.SourceID)
	}
}

func (c *connector) heartbeatLoop(ctx context.Context, client *connectorsdk.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := client.Heartbeat(ctx); err != nil {
				log.Printf("heartbeat failed: %v", err)
			}
		}
	}
}

// scan walks basePath and reports a DocumentCreated event per eligible
// file, returning the number of files scanned and reported.
func (c *connector) scan(ctx context.Context, client *connectorsdk.Client, sourceID string) (scanned, updated int, err error) {
	walkErr := filepath.WalkDir(c.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Printf("skipping %s: %v", path, err)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			log.Printf("skipping %s: %v", path, err)
			return nil
		}

		scanned++
		if scanned%50 == 0 {
			_ = client.Scanned(ctx, scanned)
		}

		if err := c.reportFile(ctx, client, sourceID, path, info); err != nil {
			log.Printf("failed to report %s: %v", path, err)
			return nil
		}
		updated++
		return nil
	})
	if walkErr != nil {
		return scanned, updated, walkErr
	}
	_ = client.Scanned(ctx, scanned)
	return scanned, updated, nil
}

func (c *connector) reportFile(ctx context.Context, client *connectorsdk.Client, sourceID, path string, info fs.FileInfo) error {
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	var contentID string
	if info.Size() <= maxReadSize && isTextMime(mimeType) {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		id, err := client.StoreContent(ctx, data, mimeType)
		if err != nil {
			return fmt.Errorf("store content: %w", err)
		}
		contentID = id
	}

	relPath, err := filepath.Rel(c.basePath, path)
	if err != nil {
		relPath = path
	}

	event := domain.ConnectorEvent{
		Type:       domain.ConnectorEventDocumentCreated,
		DocumentID: relPath,
		ExternalID: relPath,
		ContentID:  contentID,
		Title:      filepath.Base(path),
		MimeType:   mimeType,
		URL:        "file://" + path,
	}
	return client.Event(ctx, sourceID, event)
}

func isTextMime(mimeType string) bool {
	if strings.HasPrefix(mimeType, "text/") {
		return true
	}
	switch mimeType {
	case "application/json", "application/xml", "application/javascript":
		return true
	}
	return false
}

// watchForChanges follows up an initial scan with an fsnotify watch, so a
// long-running connector process reports incremental changes without
// waiting for the next scheduled full sync. Each detected file change is
// stored and reported as a standalone DocumentUpdated event, outside any
// sync run, matching how the upstream watcher decouples detection from the
// scan that seeded the index.
func (c *connector) watchForChanges(ctx context.Context, client *connectorsdk.Client, sourceID string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("failed to start filesystem watcher: %v", err)
		return
	}
	defer watcher.Close()

	if err := filepath.WalkDir(c.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		return watcher.Add(path)
	}); err != nil {
		log.Printf("failed to register watch paths: %v", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil || info.IsDir() {
				continue
			}
			if err := c.reportFile(ctx, client, sourceID, event.Name, info); err != nil {
				log.Printf("failed to report watched change %s: %v", event.Name, err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("filesystem watcher error: %v", err)
		}
	}
}

func verifySecret(r *http.Request, expected string) bool {
	if expected == "" {
		return true
	}
	return r.Header.Get("X-Connector-Secret") == expected
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1" || v == "yes"
	}
	return defaultValue
}
