package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/flow23flow23/artistrm-360-sub002/internal/domain"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Key layout (segments joined by ':'):
//
//	user:<user_id>                              -> domain.User
//	prefs:<user_id>                             -> domain.UserPreferences
//	session:<session_id>                        -> domain.Session
//	usersession:<user_id>:<created_ns>:<sid>    -> session_id
//	seq:<session_id>                            -> last seq (uint64, big endian)
//	turn:<session_id>:<seq>                     -> domain.Turn
//	turnidx:<session_id>:<turn_id>              -> seq
const keySep = ":"

// BadgerStore implements Repository on an embedded BadgerDB with
// msgpack-encoded values.
type BadgerStore struct {
	db     *badger.DB
	locks  *sessionLocks
	hub    *Hub
	logger *slog.Logger
}

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string

	// InMemory runs BadgerDB without disk persistence.
	InMemory bool

	Logger *slog.Logger
}

// NewBadger opens a BadgerDB-backed repository.
func NewBadger(opts BadgerOptions) (*BadgerStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("store: BadgerOptions.Dir is required for on-disk mode")
	}

	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").
			WithInMemory(true).
			WithMemTableSize(8 << 20)
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger: logger})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{
		db:     db,
		locks:  newSessionLocks(),
		hub:    NewHub(defaultSubscriberQueue, logger),
		logger: logger,
	}, nil
}

func key(segments ...string) []byte {
	return []byte(strings.Join(segments, keySep))
}

func seqSegment(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}

// Ping reports whether the database is still open.
func (b *BadgerStore) Ping(_ context.Context) error {
	if b.db.IsClosed() {
		return errors.New("store: badger is closed")
	}
	return nil
}

// Close ends all subscriptions and closes the database.
func (b *BadgerStore) Close() error {
	b.hub.Close()
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}

func (b *BadgerStore) get(txn *badger.Txn, k []byte, v any) error {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, v)
	})
}

func (b *BadgerStore) set(txn *badger.Txn, k []byte, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(k, data)
}

// GetUser retrieves a user by their user ID. Returns nil, nil if absent.
func (b *BadgerStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	var user domain.User
	err := b.db.View(func(txn *badger.Txn) error {
		return b.get(txn, key("user", userID), &user)
	})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// UpsertUser creates or updates a user record, keeping the original CreatedAt.
func (b *BadgerStore) UpsertUser(_ context.Context, user *domain.User) error {
	return b.db.Update(func(txn *badger.Txn) error {
		next := *user
		var existing domain.User
		switch err := b.get(txn, key("user", user.UserID), &existing); {
		case err == nil:
			next.CreatedAt = existing.CreatedAt
		case !errors.Is(err, ErrNotFound):
			return fmt.Errorf("get user: %w", err)
		}
		return b.set(txn, key("user", user.UserID), &next)
	})
}

// UpdateLastSeen updates the last seen timestamp for a user.
func (b *BadgerStore) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	return b.db.Update(func(txn *badger.Txn) error {
		var user domain.User
		err := b.get(txn, key("user", userID), &user)
		if errors.Is(err, ErrNotFound) {
			b.logger.Warn("UpdateLastSeen found no user", "user_id", userID)
			return nil
		}
		if err != nil {
			return err
		}
		user.LastSeenAt = lastSeen
		user.UpdatedAt = time.Now()
		return b.set(txn, key("user", userID), &user)
	})
}

// CreateSession stores a new session and indexes it under its owner.
func (b *BadgerStore) CreateSession(_ context.Context, session *domain.Session) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if err := b.set(txn, key("session", session.SessionID), session); err != nil {
			return fmt.Errorf("put session: %w", err)
		}
		idx := key("usersession", session.UserID, fmt.Sprintf("%020d", session.CreatedAt.UnixNano()), session.SessionID)
		return txn.Set(idx, []byte(session.SessionID))
	})
}

// GetSession returns the session or ErrNotFound.
func (b *BadgerStore) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	err := b.db.View(func(txn *badger.Txn) error {
		return b.get(txn, key("session", sessionID), &session)
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// LatestSession returns the most recently created session of userID.
func (b *BadgerStore) LatestSession(_ context.Context, userID string) (*domain.Session, error) {
	prefix := append(key("usersession", userID), keySep...)
	var session domain.Session
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts from the largest key within the prefix.
		seek := append(append([]byte{}, prefix...), 0xFF)
		it.Seek(seek)
		if !it.ValidForPrefix(prefix) {
			return ErrNotFound
		}
		sid, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		return b.get(txn, key("session", string(sid)), &session)
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetPreferences returns the stored preferences or ErrNotFound.
func (b *BadgerStore) GetPreferences(_ context.Context, userID string) (*domain.UserPreferences, error) {
	var prefs domain.UserPreferences
	err := b.db.View(func(txn *badger.Txn) error {
		return b.get(txn, key("prefs", userID), &prefs)
	})
	if err != nil {
		return nil, err
	}
	return &prefs, nil
}

// PutPreferences creates or replaces the preferences of prefs.UserID.
func (b *BadgerStore) PutPreferences(_ context.Context, prefs *domain.UserPreferences) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return b.set(txn, key("prefs", prefs.UserID), prefs)
	})
}

// Append adds turn at the end of the session log.
func (b *BadgerStore) Append(ctx context.Context, sessionID string, turn domain.Turn) (string, error) {
	if err := turn.Validate(); err != nil {
		return "", fmt.Errorf("append turn: %w", err)
	}
	if turn.TurnID == "" {
		turn.TurnID = uuid.NewString()
	}

	unlock := b.locks.lock(sessionID)
	defer unlock()

	err := b.db.Update(func(txn *badger.Txn) error {
		var last uint64
		item, err := txn.Get(key("seq", sessionID))
		switch {
		case err == nil:
			if err := item.Value(func(val []byte) error {
				last = binary.BigEndian.Uint64(val)
				return nil
			}); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		seq := last + 1
		if err := b.set(txn, key("turn", sessionID, seqSegment(seq)), &turn); err != nil {
			return err
		}
		if err := txn.Set(key("turnidx", sessionID, turn.TurnID), []byte(seqSegment(seq))); err != nil {
			return err
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, seq)
		return txn.Set(key("seq", sessionID), buf)
	})
	if err != nil {
		return "", fmt.Errorf("append turn: %w", err)
	}

	b.publishLocked(ctx, sessionID)
	return turn.TurnID, nil
}

// Update applies patch to an existing turn.
func (b *BadgerStore) Update(ctx context.Context, sessionID, turnID string, patch domain.TurnPatch) error {
	unlock := b.locks.lock(sessionID)
	defer unlock()

	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key("turnidx", sessionID, turnID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		seq, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		turnKey := key("turn", sessionID, string(seq))
		var current domain.Turn
		if err := b.get(txn, turnKey, &current); err != nil {
			return err
		}
		next, err := patch.Apply(current)
		if err != nil {
			return fmt.Errorf("update turn %s: %w", turnID, err)
		}
		return b.set(txn, turnKey, &next)
	})
	if err != nil {
		return err
	}

	b.publishLocked(ctx, sessionID)
	return nil
}

// Turns returns the ordered turns of a session.
func (b *BadgerStore) Turns(_ context.Context, sessionID string) ([]domain.Turn, error) {
	prefix := append(key("turn", sessionID), keySep...)
	turns := make([]domain.Turn, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var t domain.Turn
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &t)
			}); err != nil {
				return err
			}
			turns = append(turns, t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	return turns, nil
}

// Subscribe registers onChange for the session transcript.
func (b *BadgerStore) Subscribe(ctx context.Context, sessionID string, onChange func([]domain.Turn)) (func(), error) {
	unlock := b.locks.lock(sessionID)
	defer unlock()

	turns, err := b.Turns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return b.hub.Subscribe(sessionID, turns, onChange), nil
}

func (b *BadgerStore) publishLocked(ctx context.Context, sessionID string) {
	if b.hub.Subscribers(sessionID) == 0 {
		return
	}
	turns, err := b.Turns(ctx, sessionID)
	if err != nil {
		b.logger.Error("Failed to load transcript snapshot", "session_id", sessionID, "error", err)
		return
	}
	b.hub.Publish(sessionID, turns)
}

// badgerLogger routes badger warnings and errors to slog and drops the rest.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf("[badger] "+f, v...))
}

func (l badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf("[badger] "+f, v...))
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}

var _ Repository = (*BadgerStore)(nil)
