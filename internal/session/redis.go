package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teemow/mcpbridge/internal/logging"
)

// DefaultRedisKeyPrefix namespaces session keys.
const DefaultRedisKeyPrefix = "mcpbridge:session:"

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// Client is the Redis client. Required.
	Client redis.UniversalClient

	// KeyPrefix is prepended to every session id (default: DefaultRedisKeyPrefix).
	KeyPrefix string

	Logger *slog.Logger
}

// RedisStore keeps sessions in Redis so several replicas can share them.
// Each entry carries a Redis TTL matching its expiry; Get still checks the
// expiry itself so clock skew between replicas and Redis cannot resurrect a
// session.
//
// Redis drops keys on its own when their TTL runs out, so a RedisStore does
// not report to an Observer; the active sessions gauge covers MemoryStore only.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    *slog.Logger
	now       func() time.Time
}

// NewRedisStore creates a RedisStore from cfg.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &RedisStore{
		client:    cfg.Client,
		keyPrefix: cfg.KeyPrefix,
		logger:    cfg.Logger,
		now:       time.Now,
	}, nil
}

func (s *RedisStore) key(id string) string {
	return s.keyPrefix + id
}

// Set creates or replaces the session for id.
func (s *RedisStore) Set(ctx context.Context, id, token, userID string, expiresAt time.Time) error {
	now := s.now()
	if err := validate(id, token); err != nil {
		return err
	}

	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		// Already expired: the upsert replaces any previous entry with nothing.
		if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
			return fmt.Errorf("failed to store session: %w", err)
		}
		s.logger.Debug("session stored already expired", logging.SessionID(id), slog.Time("expires_at", expiresAt))
		return nil
	}

	data, err := json.Marshal(&Session{
		ID:               id,
		AuthSessionToken: token,
		UserID:           userID,
		CreatedAt:        now,
		ExpiresAt:        expiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.client.Set(ctx, s.key(id), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	s.logger.Debug("session stored", logging.SessionID(id), slog.Time("expires_at", expiresAt))
	return nil
}

// Get returns the live session for id or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	if sess.Expired(s.now()) {
		if err := s.Delete(ctx, id); err != nil {
			s.logger.Warn("failed to delete expired session", logging.SessionID(id), logging.Err(err))
		}
		return nil, ErrNotFound
	}

	return &sess, nil
}

// Delete removes the session for id.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Ping checks connectivity, for the readiness endpoint.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
