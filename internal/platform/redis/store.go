package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/chatrelay/internal/store"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "chatrelay:"

const pingTimeout = 5 * time.Second

// KVStore is a store.Store backed by Redis string values.
type KVStore struct {
	client *goredis.Client
	prefix string
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ store.Store = (*KVStore)(nil)

// Open parses a redis:// URL, connects and pings the server.
func Open(ctx context.Context, url, prefix string, logger *slog.Logger) (*KVStore, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewKVStore(client, prefix, logger)
	s.logger.Info("redis store ready", "addr", opts.Addr, "db", opts.DB, "prefix", s.prefix)
	return s, nil
}

// NewKVStore wraps an existing client. An empty prefix means DefaultPrefix.
func NewKVStore(client *goredis.Client, prefix string, logger *slog.Logger) *KVStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KVStore{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "redis_store"),
	}
}

func (s *KVStore) key(k string) string {
	return s.prefix + k
}

func (s *KVStore) check(key string) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	if s.closed {
		return store.ErrStoreClosed
	}
	return nil
}

// Get implements store.Store.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(key); err != nil {
		return nil, err
	}

	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "redis get failed", "key", key, "error", err)
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return val, nil
}

// Set implements store.Store. Values never expire.
func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(key); err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		s.logger.ErrorContext(ctx, "redis set failed", "key", key, "error", err)
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Delete implements store.Store.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(key); err != nil {
		return err
	}

	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		s.logger.ErrorContext(ctx, "redis delete failed", "key", key, "error", err)
		return fmt.Errorf("redis delete %q: %w", key, err)
	}
	return nil
}

// Ping reports whether the server is reachable.
func (s *KVStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client. Later operations return store.ErrStoreClosed.
func (s *KVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
