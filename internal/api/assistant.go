package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flow23flow23/artistrm-360-sub002/internal/domain"
	"github.com/flow23flow23/artistrm-360-sub002/internal/identity"
	"github.com/flow23flow23/artistrm-360-sub002/internal/store"
	"github.com/go-chi/chi/v5"
)

const maxPreferencesBody = 16 << 10

// AssistantHandler serves the REST side of the assistant: identity,
// preferences and read-only transcripts.
type AssistantHandler struct {
	*Handler
}

// NewAssistantHandler creates an assistant handler.
func NewAssistantHandler(base *Handler) *AssistantHandler {
	return &AssistantHandler{Handler: base}
}

// RegisterRoutes registers assistant routes.
func (h *AssistantHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Route("/assistant", func(r chi.Router) {
			r.Get("/preferences", h.GetPreferences)
			r.Put("/preferences", h.PutPreferences)
			r.Get("/sessions/{sessionID}/transcript", h.GetTranscript)
		})
	})
}

// GetMe returns the current artist and their live dialog count.
func (h *AssistantHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	dialogs := 0
	if h.registry != nil {
		dialogs = h.registry.Count(userID)
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":        user.UserID,
		"display_name":   user.DisplayName,
		"active_dialogs": dialogs,
	})
}

// GetPreferences returns the stored preferences or the defaults.
func (h *AssistantHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	prefs, err := h.loadPreferences(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to load preferences", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load preferences")
		return
	}
	JSON(w, http.StatusOK, prefs)
}

// PutPreferences replaces the artist's preferences. Numeric settings are
// clamped and an empty language falls back to the server default.
func (h *AssistantHandler) PutPreferences(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var in domain.UserPreferences
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPreferencesBody))
	if err := dec.Decode(&in); err != nil {
		Error(w, http.StatusBadRequest, "invalid preferences body")
		return
	}

	prefs := in.Normalize(h.defaultLang)
	prefs.UserID = userID
	prefs.UpdatedAt = time.Now().UTC()

	if err := h.repo.PutPreferences(r.Context(), &prefs); err != nil {
		slog.Error("Failed to store preferences", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to store preferences")
		return
	}

	slog.Info("Preferences updated", "user_id", userID, "language", prefs.Language, "voice_enabled", prefs.VoiceEnabled)
	JSON(w, http.StatusOK, prefs)
}

// GetTranscript returns the stored turns of a session owned by the caller.
func (h *AssistantHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.repo.GetSession(r.Context(), sessionID)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		slog.Error("Failed to load session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if !session.OwnedBy(userID) {
		slog.Warn("Transcript access denied", "user_id", userID, "session_id", sessionID)
		Error(w, http.StatusForbidden, "forbidden")
		return
	}

	turns, err := h.repo.Turns(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to load transcript", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}
	if turns == nil {
		turns = []domain.Turn{}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": session.SessionID,
		"created_at": session.CreatedAt,
		"turns":      turns,
	})
}

func (h *AssistantHandler) loadPreferences(ctx context.Context, userID string) (domain.UserPreferences, error) {
	prefs, err := h.repo.GetPreferences(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.DefaultPreferences(userID, h.defaultLang), nil
	}
	if err != nil {
		return domain.UserPreferences{}, err
	}
	return *prefs, nil
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo    store.Repository
	timeout time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository) *HealthHandler {
	return &HealthHandler{repo: repo, timeout: 5 * time.Second}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
