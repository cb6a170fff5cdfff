// Package handlers implements HTTP request handlers for the stagehand API.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dwsmith1983/stagehand/internal/store"
	"github.com/dwsmith1983/stagehand/pkg/types"
)

// RunStarter launches background runs and reports the live one.
type RunStarter interface {
	Start(env map[string]string) (string, error)
	Busy() bool
	Status() (runID string, status types.RunStatus, stage string)
}

// Handlers contains all HTTP handler dependencies.
type Handlers struct {
	runs   RunStarter
	store  store.Store
	logger *slog.Logger
}

// New creates a new Handlers instance.
func New(runs RunStarter, st store.Store) *Handlers {
	return &Handlers{
		runs:   runs,
		store:  st,
		logger: slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (h *Handlers) SetLogger(l *slog.Logger) {
	if l != nil {
		h.logger = l
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encoding response", "error", err)
	}
}

// writeError logs the internal error and returns a sanitized JSON error to the client.
func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		h.logger.Error(msg, "error", err, "status", status)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
