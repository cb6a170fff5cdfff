package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const maxListLimit = 100

// ErrRunInProgress is returned by a RunStarter that is already running.
var ErrRunInProgress = errors.New("a run is already in progress")

// StartRunRequest is the optional body of POST /api/runs.
type StartRunRequest struct {
	Env map[string]string `json:"env,omitempty"`
}

// StartRun launches the pipeline in the background. Only one run may be in
// flight at a time.
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	runID, err := h.runs.Start(req.Env)
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			h.writeError(w, http.StatusConflict, ErrRunInProgress.Error(), nil)
			return
		}
		h.writeError(w, http.StatusServiceUnavailable, "server is shutting down", err)
		return
	}
	w.Header().Set("Location", "/api/runs/"+runID)
	h.writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID})
}

// ListRuns returns finalized reports, newest first.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = min(n, maxListLimit)
	}
	reports, err := h.store.ListReports(r.Context(), r.URL.Query().Get("pipeline"), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list runs", err)
		return
	}
	h.writeJSON(w, http.StatusOK, reports)
}

// GetRun returns one finalized report.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	report, err := h.store.GetReport(r.Context(), runID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load run", err)
		return
	}
	if report == nil {
		h.writeError(w, http.StatusNotFound, "run not found", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// Status reports the lifecycle state of the current or most recent run.
func (h *Handlers) Status(w http.ResponseWriter, _ *http.Request) {
	runID, status, stage := h.runs.Status()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"busy":   h.runs.Busy(),
		"runId":  runID,
		"status": status,
		"stage":  stage,
	})
}
