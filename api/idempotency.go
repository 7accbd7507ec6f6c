package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"kanban-api/domain"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	maxIdempotencyKey = 255

	pendingMarker = "pending"
)

var (
	errRequestInFlight    = errors.New("request in progress")
	errInvalidIdempotency = &domain.ValidationError{Field: idempotencyHeader, Message: "Invalid Idempotency-Key"}
)

// Deduper remembers the outcome of create-board requests per user and
// idempotency key, so a retried request returns the board created by the
// first one instead of inserting a second.
type Deduper interface {
	// Reserve claims key. When it is already claimed, reserved is false and
	// replay holds the recorded response, or is nil while the first request
	// is still running.
	Reserve(ctx context.Context, userID, key string) (replay []byte, reserved bool, err error)
	// Complete records the response of a reserved key.
	Complete(ctx context.Context, userID, key string, response []byte) error
	// Release drops a reservation after a failed request so it may be retried.
	Release(ctx context.Context, userID, key string) error
}

// RedisDeduper stores idempotency keys in Redis so all instances share them.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return fmt.Sprintf("create-board:%s:%s", userID, key)
}

func (r *RedisDeduper) Reserve(ctx context.Context, userID, key string) ([]byte, bool, error) {
	k := r.key(userID, key)
	// A second attempt covers a key expiring between SETNX and GET.
	for attempt := 0; attempt < 2; attempt++ {
		added, err := r.client.SetNX(ctx, k, pendingMarker, r.ttl).Result()
		if err != nil {
			return nil, false, err
		}
		if added {
			return nil, true, nil
		}
		val, err := r.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if val == pendingMarker {
			return nil, false, nil
		}
		return []byte(val), false, nil
	}
	return nil, false, errRequestInFlight
}

func (r *RedisDeduper) Complete(ctx context.Context, userID, key string, response []byte) error {
	return r.client.Set(ctx, r.key(userID, key), response, r.ttl).Err()
}

func (r *RedisDeduper) Release(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}

// idempotencyKey returns the trimmed request key, "" when absent.
func idempotencyKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if len(key) > maxIdempotencyKey {
		return "", errInvalidIdempotency
	}
	return key, nil
}
