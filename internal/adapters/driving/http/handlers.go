package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/meridian-search/meridian-core/internal/core/domain"
	"github.com/meridian-search/meridian-core/internal/core/ports/driving"
)

// Health endpoints

type componentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]componentHealth)
	healthy := true

	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			components["postgres"] = componentHealth{Status: "unhealthy", Message: err.Error()}
			healthy = false
		} else {
			components["postgres"] = componentHealth{Status: "healthy"}
		}
	}

	if s.redisClient != nil {
		if err := s.redisClient.Ping(r.Context()); err != nil {
			components["redis"] = componentHealth{Status: "unhealthy", Message: err.Error()}
			healthy = false
		} else {
			components["redis"] = componentHealth{Status: "healthy"}
		}
	}

	status := "healthy"
	if !healthy {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"components": components,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// Source endpoints

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.sourceService.ListWithSummary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sources")
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	source, err := s.sourceService.Get(r.Context(), id)
	if err != nil {
		writeSourceError(w, err, "failed to get source")
		return
	}
	writeJSON(w, http.StatusOK, source)
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req driving.CreateSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	source, err := s.sourceService.Create(r.Context(), req)
	if err != nil {
		writeSourceError(w, err, "failed to create source")
		return
	}
	writeJSON(w, http.StatusCreated, source)
}

func (s *Server) handleUpdateSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req driving.UpdateSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	source, err := s.sourceService.Update(r.Context(), id, req)
	if err != nil {
		writeSourceError(w, err, "failed to update source")
		return
	}
	writeJSON(w, http.StatusOK, source)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sourceService.Delete(r.Context(), id); err != nil {
		writeSourceError(w, err, "failed to delete source")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleEnableSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sourceService.SetActive(r.Context(), id, true); err != nil {
		writeSourceError(w, err, "failed to enable source")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

func (s *Server) handleDisableSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sourceService.SetActive(r.Context(), id, false); err != nil {
		writeSourceError(w, err, "failed to disable source")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

func writeSourceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "source not found")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "source already exists")
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid input")
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

// Sync endpoints

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	sourceID := r.PathValue("id")
	result, err := s.syncOrchestrator.Trigger(r.Context(), sourceID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "source not found")
		case errors.Is(err, domain.ErrSourceInactive):
			writeError(w, http.StatusBadRequest, "source is inactive")
		case errors.Is(err, domain.ErrSyncInProgress):
			writeError(w, http.StatusConflict, "sync already running for this source")
		case errors.Is(err, domain.ErrConcurrencyLimit):
			writeError(w, http.StatusConflict, "concurrency limit reached")
		case errors.Is(err, domain.ErrConnectorUnavailable):
			writeError(w, http.StatusServiceUnavailable, "connector unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "failed to trigger sync")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (s *Server) handleCancelSync(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if err := s.syncOrchestrator.Cancel(r.Context(), runID); err != nil {
		writeRunError(w, err, "failed to cancel sync")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	run, err := s.syncOrchestrator.GetRun(r.Context(), runID)
	if err != nil {
		writeRunError(w, err, "failed to get sync run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRunsForSource(w http.ResponseWriter, r *http.Request) {
	sourceID := r.PathValue("id")
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	runs, err := s.syncOrchestrator.ListRunsForSource(r.Context(), sourceID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sync runs")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeRunError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "sync run not found")
	case errors.Is(err, domain.ErrRunNotRunning):
		writeError(w, http.StatusConflict, "sync run is not running")
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

// Search endpoints

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req domain.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.searchService.Search(r.Context(), &req)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyQuery) || errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	suggestions, err := s.searchService.Suggest(r.Context(), query, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "suggest failed")
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

// SDK callback endpoints. Each handler takes sync_run_id from the path
// (/sdk/sync/{id}/*) or from the request body (/sdk/events, /sdk/content),
// checks the connector's shared secret, then forwards to the orchestrator.

func (s *Server) handleSDKHeartbeat(w http.ResponseWriter, r *http.Request, lookup *runLookup) {
	id := r.PathValue("id")
	if !verifyConnectorSecret(r, lookup, id) {
		writeError(w, http.StatusUnauthorized, "invalid connector secret")
		return
	}
	if err := s.syncOrchestrator.Heartbeat(r.Context(), id); err != nil {
		writeRunError(w, err, "heartbeat failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSDKScanned(w http.ResponseWriter, r *http.Request, lookup *runLookup) {
	id := r.PathValue("id")
	if !verifyConnectorSecret(r, lookup, id) {
		writeError(w, http.StatusUnauthorized, "invalid connector secret")
		return
	}

	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.syncOrchestrator.Scanned(r.Context(), id, body.Count); err != nil {
		writeRunError(w, err, "scanned update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSDKComplete(w http.ResponseWriter, r *http.Request, lookup *runLookup) {
	id := r.PathValue("id")
	if !verifyConnectorSecret(r, lookup, id) {
		writeError(w, http.StatusUnauthorized, "invalid connector secret")
		return
	}

	var params driving.CompleteParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.syncOrchestrator.Complete(r.Context(), id, params); err != nil {
		writeRunError(w, err, "complete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSDKFail(w http.ResponseWriter, r *http.Request, lookup *runLookup) {
	id := r.PathValue("id")
	if !verifyConnectorSecret(r, lookup, id) {
		writeError(w, http.StatusUnauthorized, "invalid connector secret")
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.syncOrchestrator.Fail(r.Context(), id, body.Reason); err != nil {
		writeRunError(w, err, "fail callback failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSDKCancel(w http.ResponseWriter, r *http.Request, lookup *runLookup) {
	id := r.PathValue("id")
	if !verifyConnectorSecret(r, lookup, id) {
		writeError(w, http.StatusUnauthorized, "invalid connector secret")
		return
	}
	if err := s.syncOrchestrator.CancelCallback(r.Context(), id); err != nil {
		writeRunError(w, err, "cancel callback failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSDKEvent(w http.ResponseWriter, r *http.Request, lookup *runLookup) {
	var params driving.EventParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !verifyConnectorSecret(r, lookup, params.SyncRunID) {
		writeError(w, http.StatusUnauthorized, "invalid connector secret")
		return
	}

	if err := s.syncOrchestrator.Event(r.Context(), params); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid event")
			return
		}
		writeRunError(w, err, "event enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleSDKContent(w http.ResponseWriter, r *http.Request, lookup *runLookup) {
	var params driving.ContentParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !verifyConnectorSecret(r, lookup, params.SyncRunID) {
		writeError(w, http.StatusUnauthorized, "invalid connector secret")
		return
	}

	id, err := s.syncOrchestrator.StoreContent(r.Context(), params)
	if err != nil {
		writeRunError(w, err, "store content failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"content_id": id})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
