package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the seen set and page cache in a local SQLite file
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection serializes writers, which keeps INSERT OR IGNORE an atomic test-and-set
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db, now: time.Now}

	if err := store.InitSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// InitSchema creates the database schema
func (s *SQLiteStore) InitSchema() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 30000",
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// MarkSeen inserts url into the seen table and reports whether it was new
func (s *SQLiteStore) MarkSeen(ctx context.Context, url string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO seen (url, added_at) VALUES (?, ?)",
		url, s.now().UTC(),
	)
	if err != nil {
		return false, unavailable("insert seen", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, unavailable("insert seen", err)
	}
	return affected == 1, nil
}

// TryGet returns cached content that has not yet expired
func (s *SQLiteStore) TryGet(ctx context.Context, url string) (string, bool, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		"SELECT content FROM page_cache WHERE url = ? AND expires_at > ?",
		url, s.now().UnixNano(),
	).Scan(&content)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("select page", err)
	}
	return content, true, nil
}

// Put caches content until ttl elapses. Empty content is not stored.
func (s *SQLiteStore) Put(ctx context.Context, url, content string, ttl time.Duration) error {
	if content == "" {
		return nil
	}

	now := s.now()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO page_cache (url, content, cached_at, expires_at) VALUES (?, ?, ?, ?)",
		url, content, now.UTC(), now.Add(ttl).UnixNano(),
	)
	if err != nil {
		return unavailable("insert page", err)
	}
	return nil
}

// Reset clears the seen set and drops expired cache rows
func (s *SQLiteStore) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin reset", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM seen"); err != nil {
		return unavailable("clear seen", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM page_cache WHERE expires_at <= ?", s.now().UnixNano()); err != nil {
		return unavailable("purge cache", err)
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit reset", err)
	}
	return nil
}

// SeenCount returns the number of URLs in the seen set
func (s *SQLiteStore) SeenCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM seen").Scan(&count); err != nil {
		return 0, unavailable("count seen", err)
	}
	return count, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
