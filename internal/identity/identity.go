// Package identity provides per-device artist identity and per-tab dialog ids.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/flow23flow23/artistrm-360-sub002/internal/domain"
	"github.com/flow23flow23/artistrm-360-sub002/internal/store"
)

const (
	AnonCookieName       = "zeus_artist_id"
	DialogHeaderName     = "X-Zeus-Dialog-ID"
	DefaultDialogIDValue = "default"
	anonCookieMaxAge     = 30 * 24 * time.Hour
)

type contextKey int

const (
	userIDKey contextKey = iota
	displayNameKey
	dialogIDKey
)

var (
	anonIDPattern   = regexp.MustCompile(`^artist_[a-f0-9]{32}$`)
	dialogIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// DisplayNameFromContext extracts the display name from the request context.
func DisplayNameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(displayNameKey).(string); ok {
		return v
	}
	return ""
}

// DialogIDFromContext extracts the browser-tab dialog ID from the request context.
func DialogIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(dialogIDKey).(string); ok {
		return v
	}
	return DefaultDialogIDValue
}

// NewContext returns ctx carrying userID and dialogID.
func NewContext(ctx context.Context, userID, dialogID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, displayNameKey, deriveDisplayName(userID))
	return context.WithValue(ctx, dialogIDKey, sanitizeDialogID(dialogID))
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate artist id: %w", err)
	}
	return "artist_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func sanitizeDialogID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !dialogIDPattern.MatchString(id) {
		return DefaultDialogIDValue
	}
	return id
}

func deriveDisplayName(userID string) string {
	if len(userID) > 15 {
		return "artist-" + userID[len(userID)-8:]
	}
	return "artist"
}

func ensureUser(ctx context.Context, users store.UserStore, userID string) error {
	user, err := users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	now := time.Now()
	if user != nil {
		if user.IdleFor(now) < time.Minute {
			return nil
		}
		return users.UpdateLastSeen(ctx, userID, now)
	}

	return users.UpsertUser(ctx, &domain.User{
		UserID:      userID,
		DisplayName: deriveDisplayName(userID),
		LastSeenAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func setIdentityCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		setIdentityCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setIdentityCookie(w, id, isDev)
	return id, nil
}

func dialogIDFromRequest(r *http.Request) string {
	id := r.Header.Get(DialogHeaderName)
	if id == "" {
		id = r.URL.Query().Get("dialog_id")
	}
	return sanitizeDialogID(id)
}

// Middleware injects the per-device artist identity and the per-tab dialog ID.
func Middleware(users store.UserStore, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := getOrCreateAnonID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish identity"}`, http.StatusInternalServerError)
				return
			}

			if err := ensureUser(r.Context(), users, userID); err != nil {
				http.Error(w, `{"error":"failed to initialize user"}`, http.StatusInternalServerError)
				return
			}

			ctx := NewContext(r.Context(), userID, dialogIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for session audit metadata.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
