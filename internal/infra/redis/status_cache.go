package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"product-media-studio/internal/domain"
	"product-media-studio/internal/domain/model"
	"product-media-studio/internal/domain/ports/repository"
)

var _ repository.StatusCache = (*StatusCache)(nil)

// StatusCache keeps terminal job statuses for a bounded time so the browser
// polling a finished job is served without touching the database.
type StatusCache struct {
	cli RedisClient
	ttl time.Duration
}

func NewStatusCache(cli RedisClient, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StatusCache{cli: cli, ttl: ttl}
}

func cacheKey(key string) string { return "jobstatus:" + key }

func (c *StatusCache) PutStatus(ctx context.Context, key string, st *model.JobStatus) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return c.cli.Set(ctx, cacheKey(key), b, c.ttl)
}

func (c *StatusCache) GetStatus(ctx context.Context, key string) (*model.JobStatus, error) {
	s, err := c.cli.Get(ctx, cacheKey(key))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var st model.JobStatus
	if err := json.Unmarshal([]byte(s), &st); err != nil {
		return nil, domain.ErrNotFound
	}
	return &st, nil
}
