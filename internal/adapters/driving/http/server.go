package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/meridian-search/meridian-core/internal/core/domain"
	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
	"github.com/meridian-search/meridian-core/internal/core/ports/driving"
)

// Pinger is a health-check interface satisfied by infrastructure clients
// the server reports on in /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP surface for the admin API, the connector SDK callback
// routes, and the search API.
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string

	sourceService    driving.SourceService
	syncOrchestrator driving.SyncOrchestrator
	searchService    driving.SearchService

	registry driven.ConnectorRegistry

	db          Pinger
	redisClient Pinger

	logger *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Host      string
	Port      int
	Version   string
	JWTSecret string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:    "0.0.0.0",
		Port:    8080,
		Version: "dev",
	}
}

// NewServer creates an HTTP server and wires its routes.
func NewServer(
	cfg Config,
	sourceService driving.SourceService,
	syncOrchestrator driving.SyncOrchestrator,
	searchService driving.SearchService,
	registry driven.ConnectorRegistry,
	db Pinger,
	redisClient Pinger,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:           http.NewServeMux(),
		version:          cfg.Version,
		sourceService:    sourceService,
		syncOrchestrator: syncOrchestrator,
		searchService:    searchService,
		registry:         registry,
		db:               db,
		redisClient:      redisClient,
		logger:           logger,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.setupRoutes(cfg.JWTSecret)
	return s
}

// runLookup adapts Server's own dependencies to ConnectorRunLookup so SDK
// handlers can verify the X-Connector-Secret header without an extra port.
type runLookup struct {
	orchestrator driving.SyncOrchestrator
	sources      driving.SourceService
	registry     driven.ConnectorRegistry
}

func (l *runLookup) ProviderTypeForRun(ctx context.Context, syncRunID string) (string, error) {
	run, err := l.orchestrator.GetRun(ctx, syncRunID)
	if err != nil {
		return "", err
	}
	source, err := l.sources.Get(ctx, run.SourceID)
	if err != nil {
		return "", err
	}
	return string(source.ProviderType), nil
}

func (l *runLookup) SharedSecret(providerType string) (string, bool) {
	return l.registry.SharedSecret(domain.ProviderType(providerType))
}

func (s *Server) setupRoutes(jwtSecret string) {
	auth := NewAuthMiddleware(jwtSecret)
	logging := NewLoggingMiddleware(s.logger)
	recovery := NewRecoveryMiddleware(s.logger)
	wrap := func(h http.Handler) http.Handler { return recovery.Handler(logging.Handler(h)) }
	lookup := &runLookup{orchestrator: s.syncOrchestrator, sources: s.sourceService, registry: s.registry}

	s.router.Handle("GET /health", wrap(http.HandlerFunc(s.handleHealth)))
	s.router.Handle("GET /ready", wrap(http.HandlerFunc(s.handleReady)))
	s.router.Handle("GET /version", wrap(http.HandlerFunc(s.handleVersion)))

	admin := func(h http.HandlerFunc) http.Handler {
		return wrap(auth.Authenticate(auth.RequireAdmin(http.HandlerFunc(h))))
	}
	authenticated := func(h http.HandlerFunc) http.Handler {
		return wrap(auth.Authenticate(http.HandlerFunc(h)))
	}

	s.router.Handle("GET /api/v1/sources", admin(s.handleListSources))
	s.router.Handle("POST /api/v1/sources", admin(s.handleCreateSource))
	s.router.Handle("GET /api/v1/sources/{id}", admin(s.handleGetSource))
	s.router.Handle("PUT /api/v1/sources/{id}", admin(s.handleUpdateSource))
	s.router.Handle("DELETE /api/v1/sources/{id}", admin(s.handleDeleteSource))
	s.router.Handle("POST /api/v1/sources/{id}/enable", admin(s.handleEnableSource))
	s.router.Handle("POST /api/v1/sources/{id}/disable", admin(s.handleDisableSource))

	s.router.Handle("POST /api/v1/sources/{id}/sync", admin(s.handleTriggerSync))
	s.router.Handle("GET /api/v1/sources/{id}/sync", admin(s.handleListRunsForSource))
	s.router.Handle("GET /api/v1/sync/{id}", admin(s.handleGetRun))
	s.router.Handle("POST /api/v1/sync/{id}/cancel", admin(s.handleCancelSync))

	s.router.Handle("POST /api/v1/search", authenticated(s.handleSearch))
	s.router.Handle("GET /api/v1/suggestions", authenticated(s.handleSuggest))

	sdk := func(h func(http.ResponseWriter, *http.Request, *runLookup)) http.Handler {
		return wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h(w, r, lookup)
		}))
	}

	s.router.Handle("POST /sdk/sync/{id}/heartbeat", sdk(s.handleSDKHeartbeat))
	s.router.Handle("POST /sdk/sync/{id}/scanned", sdk(s.handleSDKScanned))
	s.router.Handle("POST /sdk/sync/{id}/complete", sdk(s.handleSDKComplete))
	s.router.Handle("POST /sdk/sync/{id}/fail", sdk(s.handleSDKFail))
	s.router.Handle("POST /sdk/sync/{id}/cancel", sdk(s.handleSDKCancel))
	s.router.Handle("POST /sdk/events", sdk(s.handleSDKEvent))
	s.router.Handle("POST /sdk/content", sdk(s.handleSDKContent))
}

// Start starts the HTTP server and blocks until ctx is cancelled, at which
// point it attempts a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// Stop shuts the server down immediately using the given context's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
