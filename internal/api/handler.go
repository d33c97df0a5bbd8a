// Package api provides HTTP handlers for the Zeus assistant API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/flow23flow23/artistrm-360-sub002/internal/dialog"
	"github.com/flow23flow23/artistrm-360-sub002/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	repo        store.Repository
	registry    *dialog.Registry
	defaultLang string
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, registry *dialog.Registry, defaultLang string) *Handler {
	if defaultLang == "" {
		defaultLang = "es-ES"
	}
	return &Handler{
		repo:        repo,
		registry:    registry,
		defaultLang: defaultLang,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
