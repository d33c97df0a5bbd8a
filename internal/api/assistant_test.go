package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flow23flow23/artistrm-360-sub002/internal/dialog"
	"github.com/flow23flow23/artistrm-360-sub002/internal/domain"
	"github.com/flow23flow23/artistrm-360-sub002/internal/identity"
	"github.com/flow23flow23/artistrm-360-sub002/internal/store"
	"github.com/go-chi/chi/v5"
)

func newTestRouter(t *testing.T) (http.Handler, *store.SQLiteStore) {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "zeus.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	now := time.Now().UTC()
	for _, id := range []string{"artist-1", "artist-2"} {
		if err := repo.UpsertUser(context.Background(), &domain.User{
			UserID: id, DisplayName: "Artist " + id, LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			t.Fatalf("UpsertUser failed: %v", err)
		}
	}

	r := chi.NewRouter()
	NewAssistantHandler(NewHandler(repo, dialog.NewRegistry(), "es-ES")).RegisterRoutes(r)
	NewHealthHandler(repo).RegisterHealth(r)
	return r, repo
}

func do(t *testing.T, h http.Handler, userID, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req = req.WithContext(identity.NewContext(req.Context(), userID, "default"))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPreferencesRoundTrip(t *testing.T) {
	t.Parallel()

	h, _ := newTestRouter(t)

	rec := do(t, h, "artist-1", http.MethodGet, "/api/assistant/preferences", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var defaults domain.UserPreferences
	if err := json.NewDecoder(rec.Body).Decode(&defaults); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !defaults.VoiceEnabled || defaults.Language != "es-ES" {
		t.Fatalf("Expected default preferences, got %+v", defaults)
	}

	rec = do(t, h, "artist-1", http.MethodPut, "/api/assistant/preferences",
		`{"user_id":"someone-else","voice_enabled":false,"volume":4,"rate":1.2,"pitch":1,"language":"en-US"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, "artist-1", http.MethodGet, "/api/assistant/preferences", "")
	var stored domain.UserPreferences
	if err := json.NewDecoder(rec.Body).Decode(&stored); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stored.UserID != "artist-1" {
		t.Errorf("Expected preferences bound to caller, got %q", stored.UserID)
	}
	if stored.VoiceEnabled || stored.Language != "en-US" {
		t.Errorf("Expected stored preferences, got %+v", stored)
	}
	if stored.Volume != 1 {
		t.Errorf("Expected volume clamped to 1, got %v", stored.Volume)
	}
}

func TestPutPreferencesRejectsBadBody(t *testing.T) {
	t.Parallel()

	h, _ := newTestRouter(t)
	rec := do(t, h, "artist-1", http.MethodPut, "/api/assistant/preferences", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
}

func TestGetTranscript(t *testing.T) {
	t.Parallel()

	h, repo := newTestRouter(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.CreateSession(ctx, &domain.Session{SessionID: "s-1", UserID: "artist-1", CreatedAt: created, Origin: domain.OriginWeb}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := repo.Append(ctx, "s-1", domain.Committed("", domain.RoleUser, "hola", created.Add(time.Second))); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	tests := []struct {
		name   string
		userID string
		path   string
		want   int
	}{
		{"owner", "artist-1", "/api/assistant/sessions/s-1/transcript", http.StatusOK},
		{"other artist", "artist-2", "/api/assistant/sessions/s-1/transcript", http.StatusForbidden},
		{"missing session", "artist-1", "/api/assistant/sessions/nope/transcript", http.StatusNotFound},
		{"anonymous", "", "/api/assistant/sessions/s-1/transcript", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.userID, http.MethodGet, tt.path, "")
			if rec.Code != tt.want {
				t.Fatalf("Expected %d, got %d", tt.want, rec.Code)
			}
			if tt.want != http.StatusOK {
				return
			}
			var body struct {
				SessionID string        `json:"session_id"`
				Turns     []domain.Turn `json:"turns"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.SessionID != "s-1" || len(body.Turns) != 1 || body.Turns[0].Content != "hola" {
				t.Fatalf("Unexpected transcript: %+v", body)
			}
		})
	}
}

func TestGetMe(t *testing.T) {
	t.Parallel()

	h, _ := newTestRouter(t)
	rec := do(t, h, "artist-1", http.MethodGet, "/api/me", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["display_name"] != "Artist artist-1" || body["active_dialogs"] != float64(0) {
		t.Fatalf("Unexpected body: %v", body)
	}

	if rec := do(t, h, "", http.MethodGet, "/api/me", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 without identity, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	h, repo := newTestRouter(t)
	rec := do(t, h, "", http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	_ = repo.Close()
	rec = do(t, h, "", http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503 after close, got %d", rec.Code)
	}
}
