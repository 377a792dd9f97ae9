package repository

import (
	"context"
	"time"

	"product-media-studio/internal/domain/model"
)

// StatusCache holds terminal job statuses so browser polling after completion
// does not need the in-memory job registry or the database.
type StatusCache interface {
	PutStatus(ctx context.Context, key string, st *model.JobStatus) error
	// GetStatus returns domain.ErrNotFound on a cache miss.
	GetStatus(ctx context.Context, key string) (*model.JobStatus, error)
}

// Locker is a TTL lock used as the submission idempotency guard: one
// correlation id, one in-flight submission.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
