// Package redis implements the state store on top of Redis strings. A single
// SET replaces the document atomically.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config captures the Redis connection parameters.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
}

// Store keeps documents as Redis string values.
type Store struct {
	client client
	prefix string
	closer func() error
}

// New dials Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{client: rdb, prefix: cfg.KeyPrefix, closer: rdb.Close}, nil
}

// NewWithClient constructs a store from an existing client (primarily for testing).
func NewWithClient(c client, prefix string) (*Store, error) {
	if c == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &Store{client: c, prefix: prefix}, nil
}

// Get reads the document for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return data, true, nil
}

// Put stores value under key without expiry.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the client when the store owns it.
func (s *Store) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	if err := s.closer(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
