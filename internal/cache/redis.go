package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Domenick1991/airticket/config"
	"github.com/Domenick1991/airticket/internal/domain"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	client   *redis.Client
	quoteTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig, quoteTTL time.Duration) *RedisCache {
	return NewRedisCacheWithClient(
		redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		quoteTTL,
	)
}

func NewRedisCacheWithClient(client *redis.Client, quoteTTL time.Duration) *RedisCache {
	return &RedisCache{client: client, quoteTTL: quoteTTL}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// GetQuote returns nil without error on a cache miss.
func (c *RedisCache) GetQuote(ctx context.Context, offerID string) (*domain.Quote, error) {
	data, err := c.client.Get(ctx, quoteKey(offerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var q domain.Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// SetQuote caches a quote for the configured TTL, never past the quote's own
// expiry.
func (c *RedisCache) SetQuote(ctx context.Context, quote *domain.Quote) error {
	ttl := c.quoteTTL
	if !quote.ExpiresAt.IsZero() {
		if left := time.Until(quote.ExpiresAt); left < ttl {
			ttl = left
		}
	}
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(quote)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, quoteKey(quote.OfferID), payload, ttl).Err()
}

// MarkWebhookProcessed remembers a handled webhook event id.
func (c *RedisCache) MarkWebhookProcessed(ctx context.Context, eventID string, ttl time.Duration) error {
	return c.client.Set(ctx, webhookKey(eventID), "1", ttl).Err()
}

func (c *RedisCache) WebhookProcessed(ctx context.Context, eventID string) (bool, error) {
	n, err := c.client.Exists(ctx, webhookKey(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func quoteKey(offerID string) string {
	return "cache:quote:" + offerID
}

func webhookKey(eventID string) string {
	return "webhook:processed:" + eventID
}
