// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/flow23flow23/artistrm-360-sub002/internal/domain"
)

// ErrNotFound is returned when a session, turn or preference record does not exist.
var ErrNotFound = errors.New("store: not found")

// UserStore persists artist accounts.
type UserStore interface {
	// GetUser retrieves a user by their user ID. Returns nil, nil if absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// SessionStore persists conversation sessions. Sessions are immutable once created.
type SessionStore interface {
	// CreateSession stores a new session.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession returns the session or ErrNotFound.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// LatestSession returns the most recently created session of userID or ErrNotFound.
	LatestSession(ctx context.Context, userID string) (*domain.Session, error)
}

// PreferenceStore persists per-user assistant settings.
type PreferenceStore interface {
	// GetPreferences returns the stored preferences or ErrNotFound.
	GetPreferences(ctx context.Context, userID string) (*domain.UserPreferences, error)

	// PutPreferences creates or replaces the preferences of prefs.UserID.
	PutPreferences(ctx context.Context, prefs *domain.UserPreferences) error
}

// TranscriptStore is an append-only ordered log of turns keyed by session.
// It does not interpret role or status beyond turn validation.
type TranscriptStore interface {
	// Append adds turn at the end of the session log and returns its turn ID.
	// An empty TurnID is assigned by the store.
	Append(ctx context.Context, sessionID string, turn domain.Turn) (string, error)

	// Update applies patch to an existing turn. Returns ErrNotFound when the
	// turn does not exist in the session.
	Update(ctx context.Context, sessionID, turnID string, patch domain.TurnPatch) error

	// Turns returns the ordered turns of a session.
	Turns(ctx context.Context, sessionID string) ([]domain.Turn, error)

	// Subscribe delivers the full ordered transcript once immediately and
	// again after every Append or Update on the session. Snapshots are
	// delivered in mutation order on a goroutine owned by the store and must
	// not be modified. The returned function cancels the subscription.
	Subscribe(ctx context.Context, sessionID string, onChange func([]domain.Turn)) (func(), error)
}

// Repository is the full persistence surface of the assistant service.
type Repository interface {
	UserStore
	SessionStore
	PreferenceStore
	TranscriptStore

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend and ends all subscriptions.
	Close() error
}
