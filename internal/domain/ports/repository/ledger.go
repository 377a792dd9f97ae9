package repository

import (
	"context"

	"product-media-studio/internal/domain/model"
)

type LedgerRepository interface {
	// Balance returns the account balance (sum of debits and refunds against
	// the opening credit entries). When tx is a live transaction the read is
	// locked so concurrent reservations on the account serialize.
	Balance(ctx context.Context, tx Tx, accountID string) (int64, error)

	Insert(ctx context.Context, tx Tx, entry *model.LedgerEntry) error

	// FindRefundForDebit returns the refund compensating the given debit, or
	// domain.ErrNotFound when the debit has not been refunded.
	FindRefundForDebit(ctx context.Context, tx Tx, debitID string) (*model.LedgerEntry, error)

	FindEntry(ctx context.Context, tx Tx, id string) (*model.LedgerEntry, error)
}
