package postgres

import (
	"context"
	"log/slog"

	"github.com/phrazzld/chatrelay/internal/store"
)

const (
	getQuery    = `SELECT value FROM kv_entries WHERE key = $1`
	upsertQuery = `INSERT INTO kv_entries (key, value, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	deleteQuery = `DELETE FROM kv_entries WHERE key = $1`
)

// KVStore implements store.Store using the kv_entries table.
type KVStore struct {
	db     DBTX
	logger *slog.Logger
}

var _ store.Store = (*KVStore)(nil)

// NewKVStore creates a store over an initialized, migrated connection or
// transaction. The caller owns db. If logger is nil, the default is used.
func NewKVStore(db DBTX, logger *slog.Logger) *KVStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KVStore{
		db:     db,
		logger: logger.With(slog.String("component", "kv_store")),
	}
}

// Get implements store.Store.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := store.ValidateKey(key); err != nil {
		return nil, err
	}

	var value []byte
	if err := s.db.QueryRowContext(ctx, getQuery, key).Scan(&value); err != nil {
		if IsNotFoundError(err) {
			return nil, store.ErrNotFound
		}
		s.logger.ErrorContext(ctx, "failed to read entry", "key", key, "error", err)
		return nil, MapError(err)
	}
	return value, nil
}

// Set implements store.Store.
func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}

	if _, err := s.db.ExecContext(ctx, upsertQuery, key, value); err != nil {
		s.logger.ErrorContext(ctx, "failed to write entry", "key", key, "error", err)
		return MapError(err)
	}
	s.logger.DebugContext(ctx, "entry written", "key", key, "bytes", len(value))
	return nil
}

// Delete implements store.Store.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, deleteQuery, key); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete entry", "key", key, "error", err)
		return MapError(err)
	}
	return nil
}
