package repository

import (
	"context"
	"time"

	"product-media-studio/internal/domain/model"
)

type JobRepository interface {
	Save(ctx context.Context, tx Tx, job *model.JobRecord) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.JobRecord, error)
	FindByTaskID(ctx context.Context, tx Tx, taskID string) (*model.JobRecord, error)

	// ListStaleInFlight returns jobs still in a non-terminal persisted state
	// whose last update is older than cutoff. Feeds the debit reconciler.
	ListStaleInFlight(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.JobRecord, error)
}
