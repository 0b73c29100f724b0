package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inkwell/inkwell-auth/internal/repository"
)

// RedisResetStore implements ResetStore backed by Redis. Keys expire on their
// own, so the store needs no cleanup of its own.
type RedisResetStore struct {
	client redis.UniversalClient
}

var _ repository.ResetStore = (*RedisResetStore)(nil)

// NewRedisResetStore constructs a Redis-backed reset store.
func NewRedisResetStore(client redis.UniversalClient) *RedisResetStore {
	return &RedisResetStore{client: client}
}

// AcquireSendSlot reserves the per-email throttle slot with SET NX.
func (s *RedisResetStore) AcquireSendSlot(ctx context.Context, email string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, "reset:throttle:"+email, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire send slot: %w", err)
	}
	return ok, nil
}

// MarkTokenUsed records a redeemed reset token until its signed expiry.
func (s *RedisResetStore) MarkTokenUsed(ctx context.Context, token string, ttl time.Duration) error {
	if err := s.client.Set(ctx, "reset:used:"+token, 1, ttl).Err(); err != nil {
		return fmt.Errorf("mark reset token used: %w", err)
	}
	return nil
}

// TokenUsed reports whether the reset token has already been redeemed.
func (s *RedisResetStore) TokenUsed(ctx context.Context, token string) (bool, error) {
	if err := s.client.Get(ctx, "reset:used:"+token).Err(); err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("check reset token: %w", err)
	}
	return true, nil
}
