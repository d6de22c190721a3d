package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/meridian-search/meridian-core/internal/core/domain"
	"github.com/meridian-search/meridian-core/internal/core/ports/driving"
)

type mockSourceService struct {
	createFn          func(ctx context.Context, req driving.CreateSourceRequest) (*domain.Source, error)
	getFn             func(ctx context.Context, id string) (*domain.Source, error)
	listWithSummaryFn func(ctx context.Context) ([]*domain.SourceSummary, error)
	updateFn          func(ctx context.Context, id string, req driving.UpdateSourceRequest) (*domain.Source, error)
	deleteFn          func(ctx context.Context, id string) error
	setActiveFn       func(ctx context.Context, id string, active bool) error
}

func (m *mockSourceService) Create(ctx context.Context, req driving.CreateSourceRequest) (*domain.Source, error) {
	if m.createFn != nil {
		return m.createFn(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockSourceService) Get(ctx context.Context, id string) (*domain.Source, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (m *mockSourceService) List(ctx context.Context) ([]*domain.Source, error) {
	return nil, errors.New("not implemented")
}

func (m *mockSourceService) ListWithSummary(ctx context.Context) ([]*domain.SourceSummary, error) {
	if m.listWithSummaryFn != nil {
		return m.listWithSummaryFn(ctx)
	}
	return nil, errors.New("not implemented")
}

func (m *mockSourceService) Update(ctx context.Context, id string, req driving.UpdateSourceRequest) (*domain.Source, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockSourceService) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return errors.New("not implemented")
}

func (m *mockSourceService) SetActive(ctx context.Context, id string, active bool) error {
	if m.setActiveFn != nil {
		return m.setActiveFn(ctx, id, active)
	}
	return errors.New("not implemented")
}

type mockSyncOrchestrator struct {
	triggerFn          func(ctx context.Context, sourceID string) (*driving.TriggerResult, error)
	cancelFn           func(ctx context.Context, syncRunID string) error
	getRunFn           func(ctx context.Context, syncRunID string) (*domain.SyncRun, error)
	listRunsFn         func(ctx context.Context, sourceID string, limit int) ([]*domain.SyncRun, error)
	heartbeatFn        func(ctx context.Context, syncRunID string) error
	scannedFn          func(ctx context.Context, syncRunID string, count int) error
	completeFn         func(ctx context.Context, syncRunID string, params driving.CompleteParams) error
	failFn             func(ctx context.Context, syncRunID string, reason string) error
	cancelCallbackFn   func(ctx context.Context, syncRunID string) error
	eventFn            func(ctx context.Context, params driving.EventParams) error
	storeContentFn     func(ctx context.Context, params driving.ContentParams) (string, error)
	runStaleDetectionFn func(ctx context.Context) ([]string, error)
	runDueSourcesFn     func(ctx context.Context) ([]*driving.TriggerResult, error)
}

func (m *mockSyncOrchestrator) Trigger(ctx context.Context, sourceID string) (*driving.TriggerResult, error) {
	if m.triggerFn != nil {
		return m.triggerFn(ctx, sourceID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockSyncOrchestrator) Cancel(ctx context.Context, syncRunID string) error {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, syncRunID)
	}
	return errors.New("not implemented")
}

func (m *mockSyncOrchestrator) GetRun(ctx context.Context, syncRunID string) (*domain.SyncRun, error) {
	if m.getRunFn != nil {
		return m.getRunFn(ctx, syncRunID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockSyncOrchestrator) ListRunsForSource(ctx context.Context, sourceID string, limit int) ([]*domain.SyncRun, error) {
	if m.listRunsFn != nil {
		return m.listRunsFn(ctx, sourceID, limit)
	}
	return nil, errors.New("not implemented")
}

func (m *mockSyncOrchestrator) Heartbeat(ctx context.Context, syncRunID string) error {
	if m.heartbeatFn != nil {
		return m.heartbeatFn(ctx, syncRunID)
	}
	return errors.New("not implemented")
}

func (m *mockSyncOrchestrator) Scanned(ctx context.Context, syncRunID string, count int) error {
	if m.scannedFn != nil {
		return m.scannedFn(ctx, syncRunID, count)
	}
	return errors.New("not implemented")
}

func (m *mockSyncOrchestrator) Complete(ctx context.Context, syncRunID string, params driving.CompleteParams) error {
	if m.completeFn != nil {
		return m.completeFn(ctx, syncRunID, params)
	}
	return errors.New("not implemented")
}

func (m *mockSyncOrchestrator) Fail(ctx context.Context, syncRunID string, reason string) error {
	if m.failFn != nil {
		return m.failFn(ctx, syncRunID, reason)
	}
	return errors.New("not implemented")
}

func (m *mockSyncOrchestrator) CancelCallback(ctx context.Context, syncRunID string) error {
	if m.cancelCallbackFn != nil {
		return m.cancelCallbackFn(ctx, syncRunID)
	}
	return errors.New("not implemented")
}

func (m *mockSyncOrchestrator) Event(ctx context.Context, params driving.EventParams) error {
	if m.eventFn != nil {
		return m.eventFn(ctx, params)
	}
	return errors.New("not implemented")
}

func (m *mockSyncOrchestrator) StoreContent(ctx context.Context, params driving.ContentParams) (string, error) {
	if m.storeContentFn != nil {
		return m.storeContentFn(ctx, params)
	}
	return "", errors.New("not implemented")
}

func (m *mockSyncOrchestrator) RunStaleDetection(ctx context.Context) ([]string, error) {
	if m.runStaleDetectionFn != nil {
		return m.runStaleDetectionFn(ctx)
	}
	return nil, errors.New("not implemented")
}

func (m *mockSyncOrchestrator) RunDueSources(ctx context.Context) ([]*driving.TriggerResult, error) {
	if m.runDueSourcesFn != nil {
		return m.runDueSourcesFn(ctx)
	}
	return nil, errors.New("not implemented")
}

type mockSearchService struct {
	searchFn  func(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResponse, error)
	suggestFn func(ctx context.Context, query string, limit int) ([]domain.TypeaheadSuggestion, error)
}

func (m *mockSearchService) Search(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResponse, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockSearchService) Suggest(ctx context.Context, query string, limit int) ([]domain.TypeaheadSuggestion, error) {
	if m.suggestFn != nil {
		return m.suggestFn(ctx, query, limit)
	}
	return nil, errors.New("not implemented")
}

type mockRegistry struct {
	urls    map[domain.ProviderType]string
	secrets map[domain.ProviderType]string
}

func (r *mockRegistry) URLFor(providerType domain.ProviderType) (string, bool) {
	u, ok := r.urls[providerType]
	return u, ok
}

func (r *mockRegistry) SharedSecret(providerType domain.ProviderType) (string, bool) {
	s, ok := r.secrets[providerType]
	return s, ok
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(ctx context.Context) error { return m.err }

func newTestServer(sources *mockSourceService, orchestrator *mockSyncOrchestrator, search *mockSearchService) *Server {
	if sources == nil {
		sources = &mockSourceService{}
	}
	if orchestrator == nil {
		orchestrator = &mockSyncOrchestrator{}
	}
	if search == nil {
		search = &mockSearchService{}
	}
	return NewServer(
		Config{Version: "test", JWTSecret: "secret"},
		sources,
		orchestrator,
		search,
		&mockRegistry{urls: map[domain.ProviderType]string{}, secrets: map[domain.ProviderType]string{}},
		&mockPinger{},
		&mockPinger{},
		slog.Default(),
	)
}

func adminRequest(method, path string, body []byte) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+testAdminToken())
	return req
}

func testAdminToken() string {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "admin",
	}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	return token
}

func TestHandleHealth(t *testing.T) {
	server := newTestServer(nil, nil, nil)
	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()

	server.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestHandleHealth_Degraded(t *testing.T) {
	server := NewServer(
		Config{Version: "test"},
		&mockSourceService{},
		&mockSyncOrchestrator{},
		&mockSearchService{},
		&mockRegistry{},
		&mockPinger{err: errors.New("down")},
		&mockPinger{},
		slog.Default(),
	)
	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()

	server.router.ServeHTTP(rr, req)

	var body map[string]interface{}
	_ = json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "degraded" {
		t.Errorf("expected degraded status, got %v", body["status"])
	}
}

func TestHandleListSources_RequiresAuth(t *testing.T) {
	server := newTestServer(nil, nil, nil)
	req := httptest.NewRequest("GET", "/api/v1/sources", nil)
	rr := httptest.NewRecorder()

	server.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}
}

func TestHandleCreateSource(t *testing.T) {
	sources := &mockSourceService{
		createFn: func(ctx context.Context, req driving.CreateSourceRequest) (*domain.Source, error) {
			return &domain.Source{ID: "src-1", Name: req.Name, ProviderType: req.ProviderType}, nil
		},
	}
	server := newTestServer(sources, nil, nil)

	body, _ := json.Marshal(driving.CreateSourceRequest{Name: "Docs", ProviderType: domain.ProviderTypeFilesystem})
	req := adminRequest("POST", "/api/v1/sources", body)
	rr := httptest.NewRecorder()

	server.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleCreateSource_AlreadyExists(t *testing.T) {
	sources := &mockSourceService{
		createFn: func(ctx context.Context, req driving.CreateSourceRequest) (*domain.Source, error) {
			return nil, domain.ErrAlreadyExists
		},
	}
	server := newTestServer(sources, nil, nil)

	body, _ := json.Marshal(driving.CreateSourceRequest{Name: "Docs"})
	req := adminRequest("POST", "/api/v1/sources", body)
	rr := httptest.NewRecorder()

	server.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", rr.Code)
	}
}

func TestHandleGetSource_NotFound(t *testing.T) {
	sources := &mockSourceService{
		getFn: func(ctx context.Context, id string) (*domain.Source, error) {
			return nil, domain.ErrNotFound
		},
	}
	server := newTestServer(sources, nil, nil)

	req := adminRequest("GET", "/api/v1/sources/ghost", nil)
	rr := httptest.NewRecorder()

	server.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestHandleTriggerSync(t *testing.T) {
	orchestrator := &mockSyncOrchestrator{
		triggerFn: func(ctx context.Context, sourceID string) (*driving.TriggerResult, error) {
			return &driving.TriggerResult{SyncRunID: "run-1"}, nil
		},
	}
	server := newTestServer(nil, orchestrator, nil)

	req := adminRequest("POST", "/api/v1/sources/src-1/sync", nil)
	rr := httptest.NewRecorder()

	server.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleTriggerSync_ConcurrencyLimit(t *testing.T) {
	orchestrator := &mockSyncOrchestrator{
		triggerFn: func(ctx context.Context, sourceID string) (*driving.TriggerResult, error) {
			return nil, domain.ErrConcurrencyLimit
		},
	}
	server := newTestServer(nil, orchestrator, nil)

	req := adminRequest("POST", "/api/v1/sources/src-1/sync", nil)
	rr := httptest.NewRecorder()

	server.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", rr.Code)
	}
}

func TestHandleSearch(t *testing.T) {
	search := &mockSearchService{
		searchFn: func(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResponse, error) {
			return &domain.SearchResponse{Results: nil, TotalCount: 0}, nil
		},
	}
	server := newTestServer(nil, nil, search)

	body, _ := json.Marshal(domain.SearchRequest{Query: "invoices"})
	req := adminRequest("POST", "/api/v1/search", body)
	rr := httptest.NewRecorder()

	server.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleSearch_EmptyQuery(t *testing.T) {
	search := &mockSearchService{
		searchFn: func(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResponse, error) {
			return nil, domain.ErrEmptyQuery
		},
	}
	server := newTestServer(nil, nil, search)

	body, _ := json.Marshal(domain.SearchRequest{})
	req := adminRequest("POST", "/api/v1/search", body)
	rr := httptest.NewRecorder()

	server.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestHandleSDKHeartbeat_RequiresSecret(t *testing.T) {
	orchestrator := &mockSyncOrchestrator{
		heartbeatFn: func(ctx context.Context, syncRunID string) error { return nil },
	}
	server := newTestServer(nil, orchestrator, nil)

	req := httptest.NewRequest("POST", "/sdk/sync/run-1/heartbeat", nil)
	rr := httptest.NewRecorder()

	server.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 without connector secret, got %d", rr.Code)
	}
}

func TestHandleSDKComplete(t *testing.T) {
	var gotParams driving.CompleteParams
	orchestrator := &mockSyncOrchestrator{
		getRunFn: func(ctx context.Context, syncRunID string) (*domain.SyncRun, error) {
			return &domain.SyncRun{ID: syncRunID, SourceID: "src-1"}, nil
		},
		completeFn: func(ctx context.Context, syncRunID string, params driving.CompleteParams) error {
			gotParams = params
			return nil
		},
	}
	sources := &mockSourceService{
		getFn: func(ctx context.Context, id string) (*domain.Source, error) {
			return &domain.Source{ID: id, ProviderType: domain.ProviderTypeFilesystem}, nil
		},
	}
	server := NewServer(
		Config{Version: "test"},
		sources,
		orchestrator,
		&mockSearchService{},
		&mockRegistry{secrets: map[domain.ProviderType]string{domain.ProviderTypeFilesystem: "shh"}},
		&mockPinger{},
		&mockPinger{},
		slog.Default(),
	)

	body, _ := json.Marshal(driving.CompleteParams{DocumentsScanned: 5, DocumentsUpdated: 2})
	req := httptest.NewRequest("POST", "/sdk/sync/run-1/complete", bytes.NewReader(body))
	req.Header.Set("X-Connector-Secret", "shh")
	rr := httptest.NewRecorder()

	server.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotParams.DocumentsUpdated != 2 {
		t.Errorf("expected documents updated to be forwarded, got %d", gotParams.DocumentsUpdated)
	}
}
