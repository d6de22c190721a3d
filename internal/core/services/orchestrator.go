package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/meridian-search/meridian-core/internal/core/domain"
	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
	"github.com/meridian-search/meridian-core/internal/core/ports/driving"
)

var _ driving.SyncOrchestrator = (*syncOrchestrator)(nil)

const (
	defaultMaxConcurrentSyncs        = 10
	defaultMaxConcurrentSyncsPerType = 3
	defaultStaleSyncTimeout          = 60 * time.Minute
	connectorCallTimeout             = 30 * time.Second
)

// syncOrchestrator coordinates sync-run lifecycle: triggering connector
// processes, accepting their SDK callbacks, and detecting ones that died
// without reporting back.
type syncOrchestrator struct {
	sources     driven.SourceStore
	runs        driven.SyncRunStore
	queue       driven.EventQueue
	blobs       driven.ContentBlobStore
	blobStore   driven.BlobStore
	registry    driven.ConnectorRegistry
	credentials driven.CredentialStore
	encryptor   driven.SecretEncryptor

	httpClient *http.Client
	breakersMu sync.Mutex
	breakers   map[domain.ProviderType]*gobreaker.CircuitBreaker

	maxConcurrentSyncs        int
	maxConcurrentSyncsPerType int
	staleSyncTimeout          time.Duration

	logger *slog.Logger
}

// OrchestratorConfig holds dependencies for the sync orchestrator.
type OrchestratorConfig struct {
	Sources     driven.SourceStore
	Runs        driven.SyncRunStore
	Queue       driven.EventQueue
	Blobs       driven.ContentBlobStore
	BlobStore   driven.BlobStore
	Registry    driven.ConnectorRegistry
	Credentials driven.CredentialStore
	Encryptor   driven.SecretEncryptor

	MaxConcurrentSyncs        int
	MaxConcurrentSyncsPerType int
	StaleSyncTimeout          time.Duration

	Logger *slog.Logger
}

// NewSyncOrchestrator creates a SyncOrchestrator.
func NewSyncOrchestrator(cfg OrchestratorConfig) driving.SyncOrchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxConcurrent := cfg.MaxConcurrentSyncs
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentSyncs
	}
	maxConcurrentPerType := cfg.MaxConcurrentSyncsPerType
	if maxConcurrentPerType <= 0 {
		maxConcurrentPerType = defaultMaxConcurrentSyncsPerType
	}
	staleTimeout := cfg.StaleSyncTimeout
	if staleTimeout <= 0 {
		staleTimeout = defaultStaleSyncTimeout
	}

	return &syncOrchestrator{
		sources:                   cfg.Sources,
		runs:                      cfg.Runs,
		queue:                     cfg.Queue,
		blobs:                     cfg.Blobs,
		blobStore:                 cfg.BlobStore,
		registry:                  cfg.Registry,
		credentials:               cfg.Credentials,
		encryptor:                 cfg.Encryptor,
		httpClient:                &http.Client{Timeout: connectorCallTimeout},
		breakers:                  make(map[domain.ProviderType]*gobreaker.CircuitBreaker),
		maxConcurrentSyncs:        maxConcurrent,
		maxConcurrentSyncsPerType: maxConcurrentPerType,
		staleSyncTimeout:          staleTimeout,
		logger:                    logger,
	}
}

// breakerFor returns the circuit breaker for a provider type, creating one
// on first use. Each provider gets its own breaker so a crashed filesystem
// connector doesn't trip requests meant for a healthy Jira connector.
// Trigger runs on HTTP handler goroutines, so the map needs a lock: two
// concurrent first-sight requests for the same provider would otherwise
// race on the map write.
func (o *syncOrchestrator) breakerFor(providerType domain.ProviderType) *gobreaker.CircuitBreaker {
	o.breakersMu.Lock()
	defer o.breakersMu.Unlock()

	if cb, ok := o.breakers[providerType]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(providerType),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	o.breakers[providerType] = cb
	return cb
}

func (o *syncOrchestrator) Trigger(ctx context.Context, sourceID string) (*driving.TriggerResult, error) {
	source, err := o.sources.Get(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if !source.Active {
		return nil, domain.ErrSourceInactive
	}

	existing, err := o.runs.ListBySource(ctx, sourceID, 1)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 && existing[0].Status == domain.SyncRunStatusRunning {
		return nil, domain.ErrSyncInProgress
	}

	if err := o.checkConcurrencyGates(ctx, source.ProviderType); err != nil {
		return nil, err
	}

	// This check and the one above are plain reads, not a row lock: two
	// concurrent manual Trigger calls for the same source can both pass
	// them before either inserts. runs.Create is the actual guarantee,
	// backed by a partial unique index on sync_runs(source_id) WHERE
	// status = 'running'; it returns ErrSyncInProgress for the loser.

	syncType := domain.SyncTypeIncremental
	if source.ConnectorState == nil {
		syncType = domain.SyncTypeFull
	}

	now := time.Now()
	run := &domain.SyncRun{
		ID:             domain.NewID(),
		SourceID:       sourceID,
		Trigger:        domain.SyncTriggerManual,
		Type:           syncType,
		Status:         domain.SyncRunStatusRunning,
		StartedAt:      now,
		LastActivityAt: now,
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return nil, err
	}

	if err := o.dispatchSync(ctx, source, run); err != nil {
		run.Status = domain.SyncRunStatusFailed
		run.ErrorMessage = err.Error()
		completed := time.Now()
		run.CompletedAt = &completed
		if updateErr := o.runs.Update(ctx, run); updateErr != nil {
			o.logger.Error("failed to mark run failed after dispatch error", "sync_run_id", run.ID, "error", updateErr)
		}
		return nil, fmt.Errorf("dispatch sync: %w", err)
	}

	return &driving.TriggerResult{SyncRunID: run.ID}, nil
}

func (o *syncOrchestrator) checkConcurrencyGates(ctx context.Context, providerType domain.ProviderType) error {
	sources, err := o.sources.ListActive(ctx)
	if err != nil {
		return err
	}

	var totalRunning, typeRunning int
	for _, s := range sources {
		runs, err := o.runs.ListBySource(ctx, s.ID, 1)
		if err != nil || len(runs) == 0 || runs[0].Status != domain.SyncRunStatusRunning {
			continue
		}
		totalRunning++
		if s.ProviderType == providerType {
			typeRunning++
		}
	}

	if totalRunning >= o.maxConcurrentSyncs || typeRunning >= o.maxConcurrentSyncsPerType {
		return domain.ErrConcurrencyLimit
	}
	return nil
}

type syncDispatchBody struct {
	SyncRunID  string          `json:"sync_run_id"`
	SourceID   string          `json:"source_id"`
	SyncMode   domain.SyncType `json:"sync_mode"`
	LastSyncAt *time.Time      `json:"last_sync_at,omitempty"`
	Credential string          `json:"credential,omitempty"`
}

// sourceConfig is the subset of Source.Config the orchestrator itself
// interprets. Everything else in Config is opaque and passed through
// untouched by never being read here.
type sourceConfig struct {
	CredentialID string `json:"credential_id"`
}

// resolveCredential decrypts the plaintext secret a connector needs to
// authenticate to its external provider, if the source references one via
// config.credential_id. Sources with no credential configured (e.g. a
// filesystem connector reading a local path) resolve to "" with no error.
func (o *syncOrchestrator) resolveCredential(ctx context.Context, source *domain.Source) (string, error) {
	if o.credentials == nil || o.encryptor == nil || len(source.Config) == 0 {
		return "", nil
	}

	var cfg sourceConfig
	if err := json.Unmarshal(source.Config, &cfg); err != nil || cfg.CredentialID == "" {
		return "", nil
	}

	cred, err := o.credentials.Get(ctx, cfg.CredentialID)
	if err != nil {
		return "", fmt.Errorf("load credential %s: %w", cfg.CredentialID, err)
	}
	plaintext, err := o.encryptor.DecryptString(cred.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("decrypt credential %s: %w", cfg.CredentialID, err)
	}
	return plaintext, nil
}

func (o *syncOrchestrator) dispatchSync(ctx context.Context, source *domain.Source, run *domain.SyncRun) error {
	baseURL, ok := o.registry.URLFor(source.ProviderType)
	if !ok {
		return domain.ErrConnectorUnavailable
	}

	credential, err := o.resolveCredential(ctx, source)
	if err != nil {
		return err
	}

	body, err := json.Marshal(syncDispatchBody{
		SyncRunID:  run.ID,
		SourceID:   source.ID,
		SyncMode:   run.Type,
		LastSyncAt: source.LastSyncAt,
		Credential: credential,
	})
	if err != nil {
		return err
	}

	_, err = o.breakerFor(source.ProviderType).Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/sync", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if secret, ok := o.registry.SharedSecret(source.ProviderType); ok {
			req.Header.Set("X-Connector-Secret", secret)
		}

		resp, err := o.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("calling connector: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("connector returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}

func (o *syncOrchestrator) Cancel(ctx context.Context, syncRunID string) error {
	run, err := o.runs.Get(ctx, syncRunID)
	if err != nil {
		return err
	}
	if run.Status != domain.SyncRunStatusRunning {
		return domain.ErrRunNotRunning
	}

	source, err := o.sources.Get(ctx, run.SourceID)
	if err != nil {
		return err
	}
	baseURL, ok := o.registry.URLFor(source.ProviderType)
	if !ok {
		return domain.ErrConnectorUnavailable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/cancel", bytes.NewReader([]byte(fmt.Sprintf(`{"sync_run_id":%q}`, syncRunID))))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if secret, ok := o.registry.SharedSecret(source.ProviderType); ok {
		req.Header.Set("X-Connector-Secret", secret)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling connector cancel: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("connector cancel returned status %d", resp.StatusCode)
	}
	return nil
}

func (o *syncOrchestrator) GetRun(ctx context.Context, syncRunID string) (*domain.SyncRun, error) {
	return o.runs.Get(ctx, syncRunID)
}

func (o *syncOrchestrator) ListRunsForSource(ctx context.Context, sourceID string, limit int) ([]*domain.SyncRun, error) {
	return o.runs.ListBySource(ctx, sourceID, limit)
}

func (o *syncOrchestrator) requireRunning(ctx context.Context, syncRunID string) (*domain.SyncRun, error) {
	run, err := o.runs.Get(ctx, syncRunID)
	if err != nil {
		return nil, err
	}
	if run.Status != domain.SyncRunStatusRunning {
		return nil, domain.ErrRunNotRunning
	}
	return run, nil
}

func (o *syncOrchestrator) Heartbeat(ctx context.Context, syncRunID string) error {
	run, err := o.requireRunning(ctx, syncRunID)
	if err != nil {
		return err
	}
	run.LastActivityAt = time.Now()
	return o.runs.Update(ctx, run)
}

func (o *syncOrchestrator) Scanned(ctx context.Context, syncRunID string, count int) error {
	run, err := o.requireRunning(ctx, syncRunID)
	if err != nil {
		return err
	}
	run.DocumentsScanned = count
	run.LastActivityAt = time.Now()
	return o.runs.Update(ctx, run)
}

func (o *syncOrchestrator) Complete(ctx context.Context, syncRunID string, params driving.CompleteParams) error {
	run, err := o.requireRunning(ctx, syncRunID)
	if err != nil {
		return err
	}

	now := time.Now()
	run.Status = domain.SyncRunStatusCompleted
	run.CompletedAt = &now
	run.LastActivityAt = now
	run.DocumentsScanned = params.DocumentsScanned
	run.DocumentsUpdated = params.DocumentsUpdated
	run.NewState = params.NewState
	if err := o.runs.Update(ctx, run); err != nil {
		return err
	}

	nextRun := now
	source, err := o.sources.Get(ctx, run.SourceID)
	if err == nil {
		nextRun = now.Add(time.Duration(source.IntervalSeconds) * time.Second)
	}
	return o.sources.UpdateScheduleAndState(ctx, run.SourceID, params.NewState, &nextRun, &now, domain.SyncStatusCompleted)
}

func (o *syncOrchestrator) Fail(ctx context.Context, syncRunID string, reason string) error {
	run, err := o.requireRunning(ctx, syncRunID)
	if err != nil {
		return err
	}

	now := time.Now()
	run.Status = domain.SyncRunStatusFailed
	run.ErrorMessage = reason
	run.CompletedAt = &now
	run.LastActivityAt = now
	if err := o.runs.Update(ctx, run); err != nil {
		return err
	}

	return o.sources.UpdateScheduleAndState(ctx, run.SourceID, nil, nil, nil, domain.SyncStatusFailed)
}

func (o *syncOrchestrator) CancelCallback(ctx context.Context, syncRunID string) error {
	run, err := o.requireRunning(ctx, syncRunID)
	if err != nil {
		return err
	}

	now := time.Now()
	run.Status = domain.SyncRunStatusCancelled
	run.CompletedAt = &now
	run.LastActivityAt = now
	return o.runs.Update(ctx, run)
}

func (o *syncOrchestrator) Event(ctx context.Context, params driving.EventParams) error {
	event := params.Event
	event.SyncRunID = params.SyncRunID
	event.SourceID = params.SourceID
	if err := event.Validate(); err != nil {
		return err
	}

	run, err := o.requireRunning(ctx, params.SyncRunID)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	item := domain.NewQueueItem(domain.NewID(), &event, payload)
	if err := o.queue.Enqueue(ctx, item); err != nil {
		return err
	}

	run.LastActivityAt = time.Now()
	return o.runs.Update(ctx, run)
}

func (o *syncOrchestrator) StoreContent(ctx context.Context, params driving.ContentParams) (string, error) {
	if _, err := o.requireRunning(ctx, params.SyncRunID); err != nil {
		return "", err
	}

	digest := sha256.Sum256(params.Content)
	sum := hex.EncodeToString(digest[:])
	if existing, err := o.blobs.GetBySha256(ctx, sum); err == nil && existing != nil {
		return existing.ID, nil
	}

	id := domain.NewID()
	key := "content/" + id
	if err := o.blobStore.Put(ctx, key, bytes.NewReader(params.Content), int64(len(params.Content)), params.ContentType); err != nil {
		return "", err
	}

	blob := &domain.ContentBlob{
		ID:          id,
		Sha256:      sum,
		StorageKey:  key,
		Backend:     o.blobStore.Backend(),
		SizeBytes:   int64(len(params.Content)),
		ContentType: params.ContentType,
		CreatedAt:   time.Now(),
	}
	if err := o.blobs.Save(ctx, blob); err != nil {
		return "", err
	}
	return id, nil
}

func (o *syncOrchestrator) RunStaleDetection(ctx context.Context) ([]string, error) {
	cutoff := time.Now().Add(-o.staleSyncTimeout)
	stale, err := o.runs.ListStale(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(stale))
	for _, run := range stale {
		now := time.Now()
		run.Status = domain.SyncRunStatusFailed
		run.ErrorMessage = "sync timed out"
		run.CompletedAt = &now
		if err := o.runs.Update(ctx, run); err != nil {
			o.logger.Error("failed to mark stale run failed", "sync_run_id", run.ID, "error", err)
			continue
		}
		if err := o.sources.UpdateScheduleAndState(ctx, run.SourceID, nil, nil, nil, domain.SyncStatusFailed); err != nil {
			o.logger.Warn("failed to update source status after stale detection", "source_id", run.SourceID, "error", err)
		}
		ids = append(ids, run.ID)
	}
	return ids, nil
}

func (o *syncOrchestrator) RunDueSources(ctx context.Context) ([]*driving.TriggerResult, error) {
	due, err := o.sources.ListDue(ctx, time.Now(), 50)
	if err != nil {
		return nil, err
	}

	results := make([]*driving.TriggerResult, 0, len(due))
	for _, source := range due {
		result, err := o.Trigger(ctx, source.ID)
		if err != nil {
			o.logger.Warn("scheduled trigger failed", "source_id", source.ID, "error", err)
			continue
		}
		results = append(results, result)
	}
	return results, nil
}
