package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/flow23flow23/artistrm-360-sub002/internal/domain"
	"github.com/flow23flow23/artistrm-360-sub002/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	locks  *sessionLocks
	hub    *Hub
	retry  shared.RetryPolicy
	logger *slog.Logger
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode lets subscribers read while a writer appends.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		locks:  newSessionLocks(),
		hub:    NewHub(defaultSubscriberQueue, logger),
		retry:  shared.DefaultRetryPolicy,
		logger: logger,
	}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		origin TEXT NOT NULL DEFAULT '',
		client_ip TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, created_at);

	CREATE TABLE IF NOT EXISTS turns (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		turn_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		status TEXT NOT NULL,
		ts INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq),
		UNIQUE (session_id, turn_id)
	);

	CREATE TABLE IF NOT EXISTS preferences (
		user_id TEXT PRIMARY KEY,
		voice_enabled INTEGER NOT NULL,
		volume REAL NOT NULL,
		rate REAL NOT NULL,
		pitch REAL NOT NULL,
		language TEXT NOT NULL,
		dark_theme INTEGER NOT NULL,
		auto_open INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close ends all subscriptions and closes the database connection.
func (s *SQLiteStore) Close() error {
	s.hub.Close()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, display_name, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.DisplayName, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, display_name, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		display_name = excluded.display_name,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	return shared.RetryOnConflict(ctx, s.retry, "upsert user", func() error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, user.DisplayName, user.LastSeenAt.Unix(),
			user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		return nil
	})
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		s.logger.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// CreateSession stores a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	query := `
	INSERT INTO sessions (session_id, user_id, origin, client_ip, user_agent, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	return shared.RetryOnConflict(ctx, s.retry, "create session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			session.SessionID, session.UserID, session.Origin,
			session.ClientIP, session.UserAgent, session.CreatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
}

// GetSession returns the session or ErrNotFound.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT session_id, user_id, origin, client_ip, user_agent, created_at
		FROM sessions WHERE session_id = ?`
	return s.scanSession(s.db.QueryRowContext(ctx, query, sessionID))
}

// LatestSession returns the most recently created session of userID.
func (s *SQLiteStore) LatestSession(ctx context.Context, userID string) (*domain.Session, error) {
	query := `
		SELECT session_id, user_id, origin, client_ip, user_agent, created_at
		FROM sessions WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`
	return s.scanSession(s.db.QueryRowContext(ctx, query, userID))
}

func (s *SQLiteStore) scanSession(row *sql.Row) (*domain.Session, error) {
	var session domain.Session
	var createdAt int64
	err := row.Scan(
		&session.SessionID, &session.UserID, &session.Origin,
		&session.ClientIP, &session.UserAgent, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	session.CreatedAt = time.Unix(0, createdAt)
	return &session, nil
}

// GetPreferences returns the stored preferences or ErrNotFound.
func (s *SQLiteStore) GetPreferences(ctx context.Context, userID string) (*domain.UserPreferences, error) {
	query := `
		SELECT user_id, voice_enabled, volume, rate, pitch, language,
		       dark_theme, auto_open, updated_at
		FROM preferences WHERE user_id = ?`

	var p domain.UserPreferences
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID, &p.VoiceEnabled, &p.Volume, &p.Rate, &p.Pitch, &p.Language,
		&p.DarkTheme, &p.AutoOpen, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan preferences row: %w", err)
	}
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

// PutPreferences creates or replaces the preferences of prefs.UserID.
func (s *SQLiteStore) PutPreferences(ctx context.Context, prefs *domain.UserPreferences) error {
	query := `
	INSERT INTO preferences (
		user_id, voice_enabled, volume, rate, pitch, language,
		dark_theme, auto_open, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		voice_enabled = excluded.voice_enabled,
		volume = excluded.volume,
		rate = excluded.rate,
		pitch = excluded.pitch,
		language = excluded.language,
		dark_theme = excluded.dark_theme,
		auto_open = excluded.auto_open,
		updated_at = excluded.updated_at`

	return shared.RetryOnConflict(ctx, s.retry, "put preferences", func() error {
		_, err := s.db.ExecContext(ctx, query,
			prefs.UserID, prefs.VoiceEnabled, prefs.Volume, prefs.Rate, prefs.Pitch,
			prefs.Language, prefs.DarkTheme, prefs.AutoOpen, prefs.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert preferences: %w", err)
		}
		return nil
	})
}

// Append adds turn at the end of the session log.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, turn domain.Turn) (string, error) {
	if err := turn.Validate(); err != nil {
		return "", fmt.Errorf("append turn: %w", err)
	}
	if turn.TurnID == "" {
		turn.TurnID = uuid.NewString()
	}

	unlock := s.locks.lock(sessionID)
	defer unlock()

	query := `
	INSERT INTO turns (session_id, seq, turn_id, role, content, status, ts)
	SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?, ?
	FROM turns WHERE session_id = ?`

	err := shared.RetryOnConflict(ctx, s.retry, "append turn", func() error {
		_, err := s.db.ExecContext(ctx, query,
			sessionID, turn.TurnID, string(turn.Role), turn.Content,
			string(turn.Status), turn.Timestamp.UnixNano(), sessionID,
		)
		if err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	s.publishLocked(ctx, sessionID)
	return turn.TurnID, nil
}

// Update applies patch to an existing turn.
func (s *SQLiteStore) Update(ctx context.Context, sessionID, turnID string, patch domain.TurnPatch) error {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	current, err := s.getTurn(ctx, sessionID, turnID)
	if err != nil {
		return err
	}
	next, err := patch.Apply(current)
	if err != nil {
		return fmt.Errorf("update turn %s: %w", turnID, err)
	}

	query := `UPDATE turns SET content = ?, status = ? WHERE session_id = ? AND turn_id = ?`
	err = shared.RetryOnConflict(ctx, s.retry, "update turn", func() error {
		result, err := s.db.ExecContext(ctx, query, next.Content, string(next.Status), sessionID, turnID)
		if err != nil {
			return fmt.Errorf("update turn: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publishLocked(ctx, sessionID)
	return nil
}

// Turns returns the ordered turns of a session.
func (s *SQLiteStore) Turns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	query := `
		SELECT turn_id, role, content, status, ts
		FROM turns WHERE session_id = ? ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("failed to close turn rows", "error", closeErr)
		}
	}()

	turns := make([]domain.Turn, 0)
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

// Subscribe registers onChange for the session transcript.
func (s *SQLiteStore) Subscribe(ctx context.Context, sessionID string, onChange func([]domain.Turn)) (func(), error) {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	turns, err := s.Turns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.hub.Subscribe(sessionID, turns, onChange), nil
}

func (s *SQLiteStore) getTurn(ctx context.Context, sessionID, turnID string) (domain.Turn, error) {
	query := `
		SELECT turn_id, role, content, status, ts
		FROM turns WHERE session_id = ? AND turn_id = ?`
	t, err := scanTurn(s.db.QueryRowContext(ctx, query, sessionID, turnID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Turn{}, ErrNotFound
	}
	return t, err
}

// publishLocked loads the session snapshot and hands it to the hub. The
// caller holds the session lock.
func (s *SQLiteStore) publishLocked(ctx context.Context, sessionID string) {
	if s.hub.Subscribers(sessionID) == 0 {
		return
	}
	turns, err := s.Turns(ctx, sessionID)
	if err != nil {
		s.logger.Error("Failed to load transcript snapshot", "session_id", sessionID, "error", err)
		return
	}
	s.hub.Publish(sessionID, turns)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTurn(row rowScanner) (domain.Turn, error) {
	var t domain.Turn
	var role, status string
	var ts int64
	if err := row.Scan(&t.TurnID, &role, &t.Content, &status, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("scan turn row: %w", err)
	}
	t.Role = domain.Role(role)
	t.Status = domain.TurnStatus(status)
	t.Timestamp = time.Unix(0, ts)
	return t, nil
}

var _ Repository = (*SQLiteStore)(nil)
