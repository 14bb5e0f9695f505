package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sketchpacks/plugin-catalog/pkg/catalog"
	"github.com/sketchpacks/plugin-catalog/pkg/lifecycle"
)

const maxBodyBytes = 1 << 20

// PluginList is the response of the listing endpoints.
type PluginList struct {
	View     string                 `json:"view,omitempty"`
	Plugins  []catalog.PluginRecord `json:"plugins"`
	Count    int                    `json:"count"`
	Warnings []string               `json:"warnings,omitempty"`
}

// InstallationRequest is the body of PUT /plugins/{id}/installation.
type InstallationRequest struct {
	InstallPath string `json:"install_path"`
	Version     string `json:"version"`
}

// SyncResponse is the response of POST /sync.
type SyncResponse struct {
	Loaded int                       `json:"loaded"`
	Status *catalog.SyncStatusRecord `json:"status,omitempty"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.Count(r.Context())
	if err != nil {
		s.logger.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
		return
	}
	resp := map[string]any{"status": "ok", "plugins": n}
	if stats := s.cache.Stats(); stats != nil {
		resp["cache"] = stats
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/v1/plugins?view=all|popular|newest|installed
func (s *Server) listPluginsHandler(w http.ResponseWriter, r *http.Request) {
	view, err := catalog.ParseView(r.URL.Query().Get("view"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.store.FindAll(r.Context(), view.Query())
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PluginList{View: string(view), Plugins: nonNil(records), Count: len(records)})
}

// GET /api/v1/plugins/{id}
func (s *Server) getPluginHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// POST /api/v1/plugins/{id}/lock
func (s *Server) toggleLockHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.locks.Toggle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// PUT /api/v1/plugins/{id}/installation
func (s *Server) installSucceededHandler(w http.ResponseWriter, r *http.Request) {
	var req InstallationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	rec, err := s.recorder.Apply(r.Context(), lifecycle.InstallSucceeded{
		ID:          chi.URLParam(r, "id"),
		InstallPath: req.InstallPath,
		Version:     req.Version,
	})
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DELETE /api/v1/plugins/{id}/installation
func (s *Server) installRemovedHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.recorder.Apply(r.Context(), lifecycle.InstallRemoved{ID: chi.URLParam(r, "id")})
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// POST /api/v1/lifecycle/events
func (s *Server) lifecycleEventHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read request body: %v", err))
		return
	}
	outcome, err := lifecycle.DecodeOutcome(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.outcomes == nil {
		rec, err := s.recorder.Apply(r.Context(), outcome)
		if err != nil {
			s.writeCatalogError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	select {
	case s.outcomes <- outcome:
		writeJSON(w, http.StatusAccepted, map[string]string{"accepted": outcome.PluginID()})
	case <-r.Context().Done():
		writeError(w, http.StatusServiceUnavailable, "lifecycle event queue is full")
	}
}

// GET /api/v1/updates
func (s *Server) updatesHandler(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.FindUpdatable(r.Context())
	if err != nil && records == nil {
		s.writeCatalogError(w, r, err)
		return
	}

	resp := PluginList{Plugins: nonNil(records), Count: len(records)}
	if err != nil {
		resp.Warnings = []string{err.Error()}
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /api/v1/sync
func (s *Server) syncHandler(w http.ResponseWriter, r *http.Request) {
	merged, err := s.engine.Sync(r.Context())
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}

	resp := SyncResponse{Loaded: len(merged)}
	if status, err := s.engine.LastStatus(r.Context()); err == nil {
		resp.Status = status
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/v1/sync/status
func (s *Server) syncStatusHandler(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.LastStatus(r.Context())
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// writeCatalogError maps catalog errors onto HTTP status codes.
func (s *Server) writeCatalogError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, catalog.ErrNoSyncStatus):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, catalog.ErrInvalidInstall):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, catalog.ErrSyncFailed):
		s.logger.Warn("sync request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func nonNil(records []catalog.PluginRecord) []catalog.PluginRecord {
	if records == nil {
		return []catalog.PluginRecord{}
	}
	return records
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
