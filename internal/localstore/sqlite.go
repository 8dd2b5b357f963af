package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Mhmdachkar/vlanco-cart-engine/internal/domain"
)

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// SQLiteStore keeps each collection as a JSON blob in a single kv table.
type SQLiteStore struct {
	db   *sql.DB
	keys Keys
	log  *slog.Logger
}

// NewSQLiteStore opens (or creates) the store at path. Use ":memory:" in tests.
func NewSQLiteStore(path string, keys Keys, log *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init local store schema: %w", err)
	}
	return &SQLiteStore{db: db, keys: keys, log: log}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadCart(ctx context.Context) ([]domain.CartLine, error) {
	var lines []domain.CartLine
	s.load(ctx, domain.CollectionCart, &lines)
	return lines, nil
}

func (s *SQLiteStore) SaveCart(ctx context.Context, lines []domain.CartLine) error {
	if lines == nil {
		lines = []domain.CartLine{}
	}
	return s.save(ctx, domain.CollectionCart, lines)
}

func (s *SQLiteStore) LoadWishlist(ctx context.Context) ([]domain.WishlistEntry, error) {
	var entries []domain.WishlistEntry
	s.load(ctx, domain.CollectionWishlist, &entries)
	return entries, nil
}

func (s *SQLiteStore) SaveWishlist(ctx context.Context, entries []domain.WishlistEntry) error {
	if entries == nil {
		entries = []domain.WishlistEntry{}
	}
	return s.save(ctx, domain.CollectionWishlist, entries)
}

// Clear removes the collection from the primary key and every mirror.
func (s *SQLiteStore) Clear(ctx context.Context, collection domain.Collection) error {
	for _, key := range s.keys.keysFor(collection) {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
			return fmt.Errorf("failed to clear %q: %w", key, err)
		}
	}
	return nil
}

// load reads the primary key first and falls back to mirrors. Missing rows and
// corrupt payloads leave dst untouched: an unreadable local store is an empty
// one, never an error.
func (s *SQLiteStore) load(ctx context.Context, collection domain.Collection, dst any) {
	for _, key := range s.keys.keysFor(collection) {
		var value []byte
		err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			s.log.Warn("local store read failed", "key", key, "error", err)
			continue
		}
		if err := json.Unmarshal(value, dst); err != nil {
			s.log.Warn("local store payload corrupt, treating as empty", "key", key, "error", err)
			continue
		}
		return
	}
}

// save writes through to the primary key and all mirrors in one transaction.
func (s *SQLiteStore) save(ctx context.Context, collection domain.Collection, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", collection, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin local store tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for _, key := range s.keys.keysFor(collection) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, payload, now)
		if err != nil {
			return fmt.Errorf("failed to write %q: %w", key, err)
		}
	}
	return tx.Commit()
}
