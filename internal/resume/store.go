// ABOUTME: Persistence for resume cursors, keyed by shard
// ABOUTME: SQLite implementation on modernc.org/sqlite plus an in-memory store

package resume

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Load when no cursor is stored for a shard.
var ErrNotFound = errors.New("cursor not found")

// Cursor is everything needed to resume a session.
type Cursor struct {
	ShardKey  string
	SessionID string
	ResumeURL string
	Sequence  uint64
	UpdatedAt time.Time
}

// CursorStore persists cursors.
type CursorStore interface {
	Load(ctx context.Context, shardKey string) (*Cursor, error)
	Save(ctx context.Context, c *Cursor) error
	Delete(ctx context.Context, shardKey string) error
	Close() error
}

// SQLiteStore keeps cursors in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (or creates) the cursor database at path. The special
// path ":memory:" keeps it in memory for the life of the store.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cursor-store")

	inMemory := path == ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if inMemory {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("cursor store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS resume_cursors (
			shard_key  TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			resume_url TEXT NOT NULL DEFAULT '',
			sequence   INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	return err
}

// Load returns the cursor for shardKey or ErrNotFound.
func (s *SQLiteStore) Load(ctx context.Context, shardKey string) (*Cursor, error) {
	var (
		c       = Cursor{ShardKey: shardKey}
		seq     int64
		updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, resume_url, sequence, updated_at FROM resume_cursors WHERE shard_key = ?`,
		shardKey,
	).Scan(&c.SessionID, &c.ResumeURL, &seq, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying cursor: %w", err)
	}

	c.Sequence = uint64(seq)
	if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		c.UpdatedAt = t
	}
	return &c, nil
}

// Save inserts or replaces the cursor for c.ShardKey.
func (s *SQLiteStore) Save(ctx context.Context, c *Cursor) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO resume_cursors (shard_key, session_id, resume_url, sequence, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		c.ShardKey,
		c.SessionID,
		c.ResumeURL,
		int64(c.Sequence),
		c.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving cursor: %w", err)
	}
	s.logger.Debug("saved cursor", "shard", c.ShardKey, "session_id", c.SessionID, "seq", c.Sequence)
	return nil
}

// Delete removes the cursor for shardKey. Deleting a missing cursor is not
// an error.
func (s *SQLiteStore) Delete(ctx context.Context, shardKey string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM resume_cursors WHERE shard_key = ?`, shardKey); err != nil {
		return fmt.Errorf("deleting cursor: %w", err)
	}
	s.logger.Debug("deleted cursor", "shard", shardKey)
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing cursor store")
	return s.db.Close()
}

// MemoryStore keeps cursors in memory. Useful when resuming only within one
// process lifetime.
type MemoryStore struct {
	mu      sync.Mutex
	cursors map[string]Cursor
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cursors: make(map[string]Cursor)}
}

func (m *MemoryStore) Load(_ context.Context, shardKey string) (*Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[shardKey]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) Save(_ context.Context, c *Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	m.cursors[c.ShardKey] = cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, shardKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cursors, shardKey)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
