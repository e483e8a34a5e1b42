// Package store implements the per-user embedded storage layer. Every user
// owns one SQLite database under <data>/users/<user_id>.db; a separate system
// database holds the user registry, sessions, jobs, audit, and automation
// state. Handles are produced by a Factory keyed by user id so cross-user
// reads are impossible through this API.
package store

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/user/*.sql migrations/system/*.sql
var migrationsFS embed.FS

// LegacyUserID is the synthetic owner assigned to rows that predate the
// user_id column. They are never silently deleted; an admin re-homes them.
const LegacyUserID = "legacy"

// UserStore is a handle whose every query is scoped to one user.
type UserStore struct {
	db     *sqlx.DB
	userID string
}

// UserID returns the owning user id of this handle.
func (s *UserStore) UserID() string { return s.userID }

// Close closes the underlying database.
func (s *UserStore) Close() error { return s.db.Close() }

type cachedHandle struct {
	store   *UserStore
	expires time.Time
}

// Factory hands out per-user store handles. The user_id to handle mapping is
// cached with a bounded TTL and invalidated on user delete.
type Factory struct {
	mu       sync.Mutex
	usersDir string
	ttl      time.Duration
	cache    map[string]*cachedHandle
	log      *zap.Logger
}

// NewFactory creates a store factory rooted at usersDir. ttl bounds the
// handle cache; 30 minutes is the expected production setting.
func NewFactory(usersDir string, ttl time.Duration, log *zap.Logger) (*Factory, error) {
	if err := os.MkdirAll(usersDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating users directory: %w", err)
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Factory{
		usersDir: usersDir,
		ttl:      ttl,
		cache:    make(map[string]*cachedHandle),
		log:      log,
	}, nil
}

// ForUser returns the store handle for the given user, creating and
// migrating the database on first use. Migration failure is fatal for the
// handle: no partially migrated store is ever handed out.
func (f *Factory) ForUser(userID string) (*UserStore, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if h, ok := f.cache[userID]; ok {
		if time.Now().Before(h.expires) {
			return h.store, nil
		}
		_ = h.store.db.Close()
		delete(f.cache, userID)
	}

	path := filepath.Join(f.usersDir, userID+".db")
	db, err := openSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("opening store for user %s: %w", userID, err)
	}
	if err := migrate(db, "migrations/user"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating store for user %s: %w", userID, err)
	}

	s := &UserStore{db: db, userID: userID}
	f.cache[userID] = &cachedHandle{store: s, expires: time.Now().Add(f.ttl)}
	f.log.Debug("opened user store", zap.String("user_id", userID))
	return s, nil
}

// Invalidate drops the cached handle for a user, closing it.
func (f *Factory) Invalidate(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.cache[userID]; ok {
		_ = h.store.db.Close()
		delete(f.cache, userID)
	}
}

// DeleteUserData invalidates the handle and removes the database file.
// Administrative operation; the caller is responsible for authorization.
func (f *Factory) DeleteUserData(userID string) error {
	f.Invalidate(userID)
	path := filepath.Join(f.usersDir, userID+".db")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing store for user %s: %w", userID, err)
	}
	return nil
}

// Close closes every cached handle.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for id, h := range f.cache {
		if err := h.store.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(f.cache, id)
	}
	return firstErr
}

func openSQLite(path string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// One writer at a time keeps the embedded store serialized per handle.
	db.SetMaxOpenConns(1)
	return db, nil
}

func migrate(db *sqlx.DB, dir string) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(db.DB, dir)
}
