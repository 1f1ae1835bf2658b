package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"pargorojo/backend/internal/domain"
)

type RedisPreviewCache struct {
	client *redis.Client
}

func NewRedisPreviewCache(addr string, password string, db int) *RedisPreviewCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisPreviewCache{client: client}
}

func (c *RedisPreviewCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisPreviewCache) Close() error {
	return c.client.Close()
}

func previewKey(sessionID string) string {
	return "cashbox:preview:" + sessionID
}

func (c *RedisPreviewCache) Get(ctx context.Context, sessionID string) (*domain.ReconciliationPreview, bool, error) {
	val, err := c.client.Get(ctx, previewKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var preview domain.ReconciliationPreview
	if err := json.Unmarshal([]byte(val), &preview); err != nil {
		return nil, false, err
	}
	return &preview, true, nil
}

func (c *RedisPreviewCache) Set(ctx context.Context, sessionID string, preview *domain.ReconciliationPreview, ttl time.Duration) error {
	if preview == nil {
		return nil
	}
	payload, err := json.Marshal(preview)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, previewKey(sessionID), payload, ttl).Err()
}

func (c *RedisPreviewCache) Invalidate(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, previewKey(sessionID)).Err()
}
