package postgres

import (
	"context"
	"errors"
	"hash/fnv"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"product-media-studio/internal/domain"
	"product-media-studio/internal/domain/model"
	"product-media-studio/internal/domain/ports/repository"
)

var _ repository.LedgerRepository = (*ledgerRepo)(nil)

type ledgerRepo struct{ pool *pgxpool.Pool }

func NewLedgerRepo(pool *pgxpool.Pool) *ledgerRepo {
	return &ledgerRepo{pool: pool}
}

func hashToInt64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64() & ((1 << 63) - 1))
}

// Balance sums the account's entries. Inside a transaction it first takes a
// per-account advisory xact lock, so two concurrent reservations against the
// same account serialize and cannot both pass the balance check.
func (r *ledgerRepo) Balance(ctx context.Context, tx repository.Tx, accountID string) (int64, error) {
	if _, ok := tx.(pgx.Tx); ok {
		if _, err := execSQL(ctx, r.pool, tx, "SELECT pg_advisory_xact_lock($1)", hashToInt64(accountID)); err != nil {
			return 0, domain.ErrOperationFailed
		}
	}

	const q = `
SELECT COALESCE(SUM(CASE WHEN kind = 'debit' THEN -amount ELSE amount END), 0)
FROM ledger_entries WHERE account_id = $1;`

	row, err := pickRow(ctx, r.pool, tx, q, accountID)
	if err != nil {
		return 0, err
	}
	var balance int64
	if err := row.Scan(&balance); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return balance, nil
}

func (r *ledgerRepo) Insert(ctx context.Context, tx repository.Tx, e *model.LedgerEntry) error {
	const q = `
INSERT INTO ledger_entries (id, account_id, kind, amount, reason, job_id, debit_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8);`

	_, err := execSQL(ctx, r.pool, tx, q,
		e.ID, e.AccountID, e.Kind, e.Amount, e.Reason, e.JobID, e.DebitID, e.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		// A partial unique index allows at most one refund per debit; the
		// second insert loses here instead of double-refunding.
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadySettled
		}
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *ledgerRepo) FindRefundForDebit(ctx context.Context, tx repository.Tx, debitID string) (*model.LedgerEntry, error) {
	const q = `
SELECT id, account_id, kind, amount, reason, job_id, COALESCE(debit_id::text, ''), created_at
FROM ledger_entries WHERE kind = 'refund' AND debit_id = $1 LIMIT 1;`

	return r.scanOne(ctx, tx, q, debitID)
}

func (r *ledgerRepo) FindEntry(ctx context.Context, tx repository.Tx, id string) (*model.LedgerEntry, error) {
	const q = `
SELECT id, account_id, kind, amount, reason, job_id, COALESCE(debit_id::text, ''), created_at
FROM ledger_entries WHERE id = $1;`

	return r.scanOne(ctx, tx, q, id)
}

func (r *ledgerRepo) scanOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.LedgerEntry, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	e := &model.LedgerEntry{}
	if err := row.Scan(&e.ID, &e.AccountID, &e.Kind, &e.Amount, &e.Reason, &e.JobID, &e.DebitID, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return e, nil
}
