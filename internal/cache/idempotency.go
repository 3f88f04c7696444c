package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const inProgress = "PROCESSING"

// StoredResponse is a completed HTTP response kept for replay.
type StoredResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// ErrRequestInProgress is returned when another request holding the same key
// has not finished yet.
var ErrRequestInProgress = errors.New("request with this idempotency key is in progress")

// LookupRequest returns the stored response for key, nil if the key is unused,
// or ErrRequestInProgress while the first request is still running.
func (c *RedisCache) LookupRequest(ctx context.Context, key string) (*StoredResponse, error) {
	val, err := c.client.Get(ctx, idempotencyKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if val == inProgress {
		return nil, ErrRequestInProgress
	}

	var resp StoredResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReserveRequest marks key as in progress. It reports false if the key is
// already taken.
func (c *RedisCache) ReserveRequest(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, idempotencyKey(key), inProgress, ttl).Result()
}

func (c *RedisCache) SaveResponse(ctx context.Context, key string, resp StoredResponse, ttl time.Duration) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, idempotencyKey(key), payload, ttl).Err()
}

// ReleaseRequest frees a reservation so the client may retry, used when the
// request failed.
func (c *RedisCache) ReleaseRequest(ctx context.Context, key string) error {
	return c.client.Del(ctx, idempotencyKey(key)).Err()
}

func idempotencyKey(key string) string {
	return "idempotency:" + key
}
