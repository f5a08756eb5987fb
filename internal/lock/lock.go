// Package lock provides a TTL-bounded advisory lock on Redis. It is a
// liveness optimization: a crashed holder is unblocked by TTL expiry, and
// correctness never depends on it (the database row claim does that).
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Manager acquires and releases advisory locks with SET NX EX / DEL.
type Manager struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewManager connects a lock manager to Redis using a redis:// URL.
func NewManager(redisURL string, logger zerolog.Logger) (*Manager, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Manager{
		client: redis.NewClient(opts),
		logger: logger.With().Str("component", "lock").Logger(),
	}, nil
}

// Acquire tries to take the lock. Returns false without waiting when another
// holder owns it; the holder releases it itself or lets the TTL expire.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	acquired, err := m.client.SetNX(ctx, key, "processing", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !acquired {
		m.logger.Debug().Str("key", key).Msg("lock already held, skipping")
	}
	return acquired, nil
}

// Release deletes the lock key. Safe to call after TTL expiry.
func (m *Manager) Release(ctx context.Context, key string) error {
	if err := m.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	m.logger.Debug().Str("key", key).Msg("released lock")
	return nil
}

// Close shuts down the underlying client.
func (m *Manager) Close() error {
	return m.client.Close()
}
