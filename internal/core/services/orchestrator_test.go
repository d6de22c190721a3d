package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/meridian-search/meridian-core/internal/core/domain"
	"github.com/meridian-search/meridian-core/internal/core/ports/driving"
)

type mockSyncRunStore struct {
	mu   sync.Mutex
	runs map[string]*domain.SyncRun
}

func newMockSyncRunStore() *mockSyncRunStore {
	return &mockSyncRunStore{runs: make(map[string]*domain.SyncRun)}
}

func (m *mockSyncRunStore) Create(ctx context.Context, run *domain.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *mockSyncRunStore) Update(ctx context.Context, run *domain.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *mockSyncRunStore) Get(ctx context.Context, id string) (*domain.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (m *mockSyncRunStore) ListBySource(ctx context.Context, sourceID string, limit int) ([]*domain.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.SyncRun
	for _, run := range m.runs {
		if run.SourceID == sourceID {
			cp := *run
			out = append(out, &cp)
		}
	}
	// newest first, matching the real store's ORDER BY started_at DESC
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].StartedAt.After(out[i].StartedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockSyncRunStore) ListStale(ctx context.Context, cutoff time.Time) ([]*domain.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.SyncRun
	for _, run := range m.runs {
		if run.Status == domain.SyncRunStatusRunning && run.LastActivityAt.Before(cutoff) {
			cp := *run
			out = append(out, &cp)
		}
	}
	return out, nil
}

type mockConnectorRegistry struct {
	urls    map[domain.ProviderType]string
	secrets map[domain.ProviderType]string
}

func (r *mockConnectorRegistry) URLFor(providerType domain.ProviderType) (string, bool) {
	u, ok := r.urls[providerType]
	return u, ok
}

func (r *mockConnectorRegistry) SharedSecret(providerType domain.ProviderType) (string, bool) {
	s, ok := r.secrets[providerType]
	return s, ok
}

// mockCredentialStore and reverseEncryptor exercise the orchestrator's
// credential-resolution path without a real cipher; reverseEncryptor just
// reverses the string so decrypt-of-encrypt round-trips visibly.
type mockCredentialStore struct {
	creds map[string]*domain.ServiceCredential
}

func (m *mockCredentialStore) Save(ctx context.Context, cred *domain.ServiceCredential) error {
	m.creds[cred.ID] = cred
	return nil
}
func (m *mockCredentialStore) Get(ctx context.Context, id string) (*domain.ServiceCredential, error) {
	c, ok := m.creds[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}
func (m *mockCredentialStore) List(ctx context.Context) ([]*domain.ServiceCredential, error) {
	return nil, nil
}
func (m *mockCredentialStore) Delete(ctx context.Context, id string) error { return nil }
func (m *mockCredentialStore) GetByProvider(ctx context.Context, providerType domain.ProviderType) ([]*domain.ServiceCredential, error) {
	return nil, nil
}

type reverseEncryptor struct{}

func (reverseEncryptor) EncryptString(s string) ([]byte, error) {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return []byte(string(runes)), nil
}
func (reverseEncryptor) DecryptString(blob []byte) (string, error) {
	runes := []rune(string(blob))
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes), nil
}

func newTestOrchestrator(t *testing.T, connectorURL string) (driving.SyncOrchestrator, *mockSourceStore, *mockSyncRunStore) {
	t.Helper()

	sourceStore := newMockSourceStore()
	runStore := newMockSyncRunStore()
	registry := &mockConnectorRegistry{
		urls:    map[domain.ProviderType]string{domain.ProviderTypeFilesystem: connectorURL},
		secrets: map[domain.ProviderType]string{},
	}

	orchestrator := NewSyncOrchestrator(OrchestratorConfig{
		Sources:                   sourceStore,
		Runs:                      runStore,
		Registry:                  registry,
		MaxConcurrentSyncs:        2,
		MaxConcurrentSyncsPerType: 1,
	})
	return orchestrator, sourceStore, runStore
}

func newTestSource(id string, active bool) *domain.Source {
	return &domain.Source{
		ID:              id,
		Name:            "Local Files " + id,
		ProviderType:    domain.ProviderTypeFilesystem,
		Active:          active,
		IntervalSeconds: 3600,
		SyncStatus:      domain.SyncStatusIdle,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
}

func TestOrchestrator_Trigger_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	orchestrator, sourceStore, runStore := newTestOrchestrator(t, server.URL)
	source := newTestSource("source-1", true)
	_ = sourceStore.Save(context.Background(), source)

	result, err := orchestrator.Trigger(context.Background(), source.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SyncRunID == "" {
		t.Error("expected a sync run id")
	}

	run, err := runStore.Get(context.Background(), result.SyncRunID)
	if err != nil {
		t.Fatalf("unexpected error fetching run: %v", err)
	}
	if run.Status != domain.SyncRunStatusRunning {
		t.Errorf("expected running status, got %s", run.Status)
	}
}

func TestOrchestrator_Trigger_WithCredential_SendsDecryptedSecret(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sourceStore := newMockSourceStore()
	runStore := newMockSyncRunStore()
	registry := &mockConnectorRegistry{
		urls:    map[domain.ProviderType]string{domain.ProviderTypeFilesystem: server.URL},
		secrets: map[domain.ProviderType]string{},
	}
	encryptor := reverseEncryptor{}
	ciphertext, err := encryptor.EncryptString("super-secret-api-key")
	if err != nil {
		t.Fatalf("unexpected error encrypting fixture credential: %v", err)
	}
	credentials := &mockCredentialStore{creds: map[string]*domain.ServiceCredential{
		"cred-1": {ID: "cred-1", ProviderType: domain.ProviderTypeFilesystem, Ciphertext: ciphertext},
	}}

	orchestrator := NewSyncOrchestrator(OrchestratorConfig{
		Sources:                   sourceStore,
		Runs:                      runStore,
		Registry:                  registry,
		Credentials:               credentials,
		Encryptor:                 encryptor,
		MaxConcurrentSyncs:        2,
		MaxConcurrentSyncsPerType: 1,
	})

	source := newTestSource("source-1", true)
	source.Config = json.RawMessage(`{"credential_id":"cred-1"}`)
	_ = sourceStore.Save(context.Background(), source)

	if _, err := orchestrator.Trigger(context.Background(), source.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := gotBody["credential"].(string)
	if got != "super-secret-api-key" {
		t.Errorf("expected connector to receive decrypted credential %q, got %q", "super-secret-api-key", got)
	}
}

func TestOrchestrator_Trigger_NoCredentialConfigured_OmitsCredentialField(t *testing.T) {
	var rawBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rawBody = string(body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	orchestrator, sourceStore, _ := newTestOrchestrator(t, server.URL)
	source := newTestSource("source-1", true)
	_ = sourceStore.Save(context.Background(), source)

	if _, err := orchestrator.Trigger(context.Background(), source.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(rawBody, "credential") {
		t.Errorf("expected no credential field in dispatch body, got %q", rawBody)
	}
}

func TestOrchestrator_Trigger_SourceNotFound(t *testing.T) {
	orchestrator, _, _ := newTestOrchestrator(t, "http://unused")
	if _, err := orchestrator.Trigger(context.Background(), "ghost"); err != domain.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOrchestrator_Trigger_InactiveSource(t *testing.T) {
	orchestrator, sourceStore, _ := newTestOrchestrator(t, "http://unused")
	source := newTestSource("source-1", false)
	_ = sourceStore.Save(context.Background(), source)

	if _, err := orchestrator.Trigger(context.Background(), source.ID); err != domain.ErrSourceInactive {
		t.Errorf("expected ErrSourceInactive, got %v", err)
	}
}

func TestOrchestrator_Trigger_AlreadyRunning(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	orchestrator, sourceStore, _ := newTestOrchestrator(t, server.URL)
	source := newTestSource("source-1", true)
	_ = sourceStore.Save(context.Background(), source)

	if _, err := orchestrator.Trigger(context.Background(), source.ID); err != nil {
		t.Fatalf("unexpected error on first trigger: %v", err)
	}
	if _, err := orchestrator.Trigger(context.Background(), source.ID); err != domain.ErrSyncInProgress {
		t.Errorf("expected ErrSyncInProgress, got %v", err)
	}
}

func TestOrchestrator_Trigger_ConnectorFailureMarksRunFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	orchestrator, sourceStore, runStore := newTestOrchestrator(t, server.URL)
	source := newTestSource("source-1", true)
	_ = sourceStore.Save(context.Background(), source)

	if _, err := orchestrator.Trigger(context.Background(), source.ID); err == nil {
		t.Fatal("expected an error from the connector failure")
	}

	runs, _ := runStore.ListBySource(context.Background(), source.ID, 1)
	if len(runs) != 1 {
		t.Fatalf("expected one run to have been recorded, got %d", len(runs))
	}
	if runs[0].Status != domain.SyncRunStatusFailed {
		t.Errorf("expected failed status, got %s", runs[0].Status)
	}
}

func TestOrchestrator_SDKCallbacks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	orchestrator, sourceStore, runStore := newTestOrchestrator(t, server.URL)
	source := newTestSource("source-1", true)
	_ = sourceStore.Save(context.Background(), source)

	result, err := orchestrator.Trigger(context.Background(), source.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := orchestrator.Heartbeat(context.Background(), result.SyncRunID); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}
	if err := orchestrator.Scanned(context.Background(), result.SyncRunID, 42); err != nil {
		t.Fatalf("scanned failed: %v", err)
	}
	if err := orchestrator.Complete(context.Background(), result.SyncRunID, driving.CompleteParams{
		DocumentsScanned: 42,
		DocumentsUpdated: 10,
	}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	run, _ := runStore.Get(context.Background(), result.SyncRunID)
	if run.Status != domain.SyncRunStatusCompleted {
		t.Errorf("expected completed status, got %s", run.Status)
	}
	if run.DocumentsUpdated != 10 {
		t.Errorf("expected 10 documents updated, got %d", run.DocumentsUpdated)
	}

	updatedSource, _ := sourceStore.Get(context.Background(), source.ID)
	if updatedSource.SyncStatus != domain.SyncStatusCompleted {
		t.Errorf("expected source sync status completed, got %s", updatedSource.SyncStatus)
	}
}

func TestOrchestrator_Callback_RejectsTerminalRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	orchestrator, sourceStore, _ := newTestOrchestrator(t, server.URL)
	source := newTestSource("source-1", true)
	_ = sourceStore.Save(context.Background(), source)

	result, _ := orchestrator.Trigger(context.Background(), source.ID)
	if err := orchestrator.Fail(context.Background(), result.SyncRunID, "boom"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := orchestrator.Heartbeat(context.Background(), result.SyncRunID); err != domain.ErrRunNotRunning {
		t.Errorf("expected ErrRunNotRunning, got %v", err)
	}
}

func TestOrchestrator_RunStaleDetection(t *testing.T) {
	orchestrator, sourceStore, runStore := newTestOrchestrator(t, "http://unused")
	source := newTestSource("source-1", true)
	_ = sourceStore.Save(context.Background(), source)

	run := &domain.SyncRun{
		ID:             "run-1",
		SourceID:       source.ID,
		Status:         domain.SyncRunStatusRunning,
		StartedAt:      time.Now().Add(-2 * time.Hour),
		LastActivityAt: time.Now().Add(-90 * time.Minute),
	}
	_ = runStore.Create(context.Background(), run)

	ids, err := orchestrator.RunStaleDetection(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 || ids[0] != run.ID {
		t.Fatalf("expected run %s to be flagged stale, got %v", run.ID, ids)
	}

	updated, _ := runStore.Get(context.Background(), run.ID)
	if updated.Status != domain.SyncRunStatusFailed {
		t.Errorf("expected failed status, got %s", updated.Status)
	}
	if updated.ErrorMessage != "sync timed out" {
		t.Errorf("expected timeout message, got %q", updated.ErrorMessage)
	}
}
