package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/vitalsync/internal/types"
)

// handleTriggerSync handles POST /api/sync/trigger - Run a sync cycle now
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxUsers int `json:"maxUsers"`
	}

	// An empty body means default batch sizing.
	if r.ContentLength > 0 {
		if err := parseJSONBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
			return
		}
	}
	if req.MaxUsers < 0 {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "maxUsers cannot be negative", nil)
		return
	}

	stats, err := s.scheduler.TriggerManualSync(r.Context(), req.MaxUsers)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

// handleSyncStatus handles GET /api/sync/status - Scheduler status
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.scheduler.GetStatus())
}

// handleSyncStats handles GET /api/sync/stats?window=24h - Aggregate sync stats
func (s *Server) handleSyncStats(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid window duration", nil)
			return
		}
		window = parsed
	}

	report, err := s.syncService.GetSyncStats(r.Context(), window)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}

// handleSyncUser handles POST /api/users/:id/sync - Sync one user now
func (s *Server) handleSyncUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	if userID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "User ID required", nil)
		return
	}

	log, err := s.syncService.SyncUser(r.Context(), userID, types.TriggerManual)
	if err != nil && log == nil {
		respondWithError(w, err)
		return
	}

	// A failed sync still produced an audit row; return it with 200 so the
	// caller can read the classified error from the log itself.
	respondJSON(w, http.StatusOK, log)
}

// handleGetSyncJob handles GET /api/sync/jobs/:jobId - Look up one sync attempt
func (s *Server) handleGetSyncJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	if jobID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Job ID required", nil)
		return
	}

	log, err := s.syncService.GetSyncLog(r.Context(), jobID)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, log)
}

// handleGetSyncHistory handles GET /api/users/:id/sync/history
func (s *Server) handleGetSyncHistory(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	if userID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "User ID required", nil)
		return
	}

	limit := parseQueryInt(r, "limit", 50)
	offset := parseQueryInt(r, "offset", 0)
	if limit <= 0 || limit > 500 {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be between 1 and 500", nil)
		return
	}
	if offset < 0 {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "offset cannot be negative", nil)
		return
	}

	logs, err := s.syncService.GetUserSyncHistory(r.Context(), userID, limit, offset)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"userId": userID,
		"limit":  limit,
		"offset": offset,
		"logs":   logs,
	})
}

func parseQueryInt(r *http.Request, key string, defaultValue int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return value
}
