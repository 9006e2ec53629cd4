// Package store provides a Redis-backed session store for deployments that
// share conversation history across instances.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sweetpotato0/bookrag/errors"
	"github.com/sweetpotato0/bookrag/session"
)

// RedisStore implements session storage using Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisConfig holds Redis configuration for sessions.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// DefaultRedisConfig returns default Redis configuration
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "bookrag:session:",
		TTL:    24 * time.Hour,
	}
}

// NewRedisStore creates a new Redis-based session store.
func NewRedisStore(config *RedisConfig) *RedisStore {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return &RedisStore{
		client: client,
		prefix: config.Prefix,
		ttl:    config.TTL,
	}
}

// Save persists a session record to Redis.
func (s *RedisStore) Save(ctx context.Context, record *session.Record) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("session record must have an ID: %w", errors.ErrInvalidInput)
	}

	raw, err := json.Marshal(record.Clone())
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	if err := s.client.Set(ctx, s.key(record.ID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Load loads a session record from Redis.
func (s *RedisStore) Load(ctx context.Context, id string) (*session.Record, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("session %s: %w", id, errors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var record session.Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("failed to decode session record: %w", err)
	}
	return &record, nil
}

// Delete removes a session record from Redis.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	deleted, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if deleted == 0 {
		return fmt.Errorf("session %s: %w", id, errors.ErrNotFound)
	}
	return nil
}

// Close closes the underlying Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}
