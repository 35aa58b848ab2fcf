package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/gatekeeper/core"
	"github.com/layer-3/gatekeeper/ports"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of the NonceStore interface
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client redis.UniversalClient) ports.NonceStore {
	return &RedisStore{
		client: client,
		prefix: "gatekeeper:nonce:",
	}
}

// Put records an issued nonce in Redis
func (s *RedisStore) Put(ctx context.Context, nonce string, ttl time.Duration) error {
	key := s.prefix + nonce

	// Set key only if it does not exist, with expiration
	ok, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store nonce: %w", err)
	}
	if !ok {
		return errors.New("nonce already issued")
	}

	return nil
}

// Consume atomically reads and deletes the nonce
func (s *RedisStore) Consume(ctx context.Context, nonce string) error {
	key := s.prefix + nonce

	if err := s.client.GetDel(ctx, key).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return core.ErrInvalidNonce
		}
		return fmt.Errorf("failed to consume nonce: %w", err)
	}

	return nil
}
