package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keyward/keyward/core"
	"github.com/keyward/keyward/ports"
)

// RedisStore is a Redis implementation of the ChallengeStore interface.
// GETDEL gives the atomic take-and-delete the protocol relies on, and the
// server-side TTL makes expiry effective even without a take.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed challenge store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "keyward:ceremony:",
	}
}

var _ ports.ChallengeStore = (*RedisStore)(nil)

// Put stores a pending ceremony with the given TTL.
func (s *RedisStore) Put(ctx context.Context, sessionID string, ceremony core.PendingCeremony, ttl time.Duration) error {
	payload, err := json.Marshal(ceremony)
	if err != nil {
		return fmt.Errorf("encode ceremony: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+sessionID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("store ceremony: %w", err)
	}
	return nil
}

// TakeIfValid atomically removes and returns the pending ceremony.
func (s *RedisStore) TakeIfValid(ctx context.Context, sessionID string) (core.PendingCeremony, bool, error) {
	payload, err := s.client.GetDel(ctx, s.prefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.PendingCeremony{}, false, nil
	}
	if err != nil {
		return core.PendingCeremony{}, false, fmt.Errorf("take ceremony: %w", err)
	}

	var ceremony core.PendingCeremony
	if err := json.Unmarshal(payload, &ceremony); err != nil {
		return core.PendingCeremony{}, false, fmt.Errorf("decode ceremony: %w", err)
	}
	return ceremony, true, nil
}
