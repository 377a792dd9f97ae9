package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"product-media-studio/internal/domain"
	"product-media-studio/internal/domain/model"
	"product-media-studio/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct{ pool *pgxpool.Pool }

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

func (r *jobRepo) Save(ctx context.Context, tx repository.Tx, job *model.JobRecord) error {
	job.UpdatedAt = time.Now()

	const q = `
INSERT INTO generation_jobs (id, account_id, correlation_id, kind, task_id, state, receipt_id, result_urls, last_error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
  state = EXCLUDED.state,
  result_urls = EXCLUDED.result_urls,
  last_error = EXCLUDED.last_error,
  updated_at = EXCLUDED.updated_at;`

	_, err := execSQL(ctx, r.pool, tx, q,
		job.ID, job.AccountID, job.CorrelationID, job.Kind, job.TaskID, job.State,
		job.ReceiptID, job.ResultURLs, job.LastError, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

const jobColumns = `id, account_id, correlation_id, kind, task_id, state, receipt_id, COALESCE(result_urls, '{}'), last_error, created_at, updated_at`

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.JobRecord, error) {
	return r.scanOne(ctx, tx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1;`, id)
}

func (r *jobRepo) FindByTaskID(ctx context.Context, tx repository.Tx, taskID string) (*model.JobRecord, error) {
	return r.scanOne(ctx, tx, `SELECT `+jobColumns+` FROM generation_jobs WHERE task_id = $1 LIMIT 1;`, taskID)
}

func (r *jobRepo) ListStaleInFlight(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.JobRecord, error) {
	const q = `
SELECT ` + jobColumns + `
FROM generation_jobs
WHERE state IN ('pending', 'running') AND updated_at < $1
ORDER BY updated_at
LIMIT $2;`

	rows, err := pickRows(ctx, r.pool, tx, q, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.JobRecord
	for rows.Next() {
		rec := &model.JobRecord{}
		if err := scanJob(rows, rec); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *jobRepo) scanOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.JobRecord, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	rec := &model.JobRecord{}
	if err := scanJob(row, rec); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return rec, nil
}

func scanJob(row pgx.Row, rec *model.JobRecord) error {
	return row.Scan(
		&rec.ID, &rec.AccountID, &rec.CorrelationID, &rec.Kind, &rec.TaskID,
		&rec.State, &rec.ReceiptID, &rec.ResultURLs, &rec.LastError,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
}
