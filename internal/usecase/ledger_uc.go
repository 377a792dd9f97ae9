// File: internal/usecase/ledger_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"product-media-studio/internal/domain"
	"product-media-studio/internal/domain/model"
	"product-media-studio/internal/domain/ports/repository"
	"product-media-studio/internal/infra/logging"
	"product-media-studio/internal/infra/metrics"
)

// LedgerUseCase is the credit ledger guard around job outcomes: a fixed cost
// is debited before submission and a compensating credit is issued iff the
// job never reaches success. Reserve and Settle are the only mutations the
// rest of the system is allowed to perform on an account balance.
type LedgerUseCase struct {
	ledger repository.LedgerRepository
	tm     repository.TransactionManager
	log    *zerolog.Logger
}

func NewLedgerUseCase(ledger repository.LedgerRepository, tm repository.TransactionManager, logger *zerolog.Logger) *LedgerUseCase {
	return &LedgerUseCase{ledger: ledger, tm: tm, log: logger}
}

// Reserve atomically checks the balance and records the debit. Two
// simultaneous reservations against a balance that covers only one cannot
// both succeed: the repository serializes per-account access inside the
// transaction.
func (uc *LedgerUseCase) Reserve(ctx context.Context, accountID string, amount int64, reason, jobID string) (*model.DebitReceipt, error) {
	defer logging.TraceDuration(uc.log, "LedgerUseCase.Reserve")()
	if accountID == "" || amount <= 0 {
		return nil, domain.ErrInvalidArgument
	}

	var receipt *model.DebitReceipt
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		balance, err := uc.ledger.Balance(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if balance < amount {
			return domain.ErrInsufficientCredits
		}
		entry := &model.LedgerEntry{
			ID:        uuid.NewString(),
			AccountID: accountID,
			Kind:      model.LedgerEntryDebit,
			Amount:    amount,
			Reason:    reason,
			JobID:     jobID,
			CreatedAt: time.Now(),
		}
		if err := uc.ledger.Insert(ctx, tx, entry); err != nil {
			return err
		}
		receipt = &model.DebitReceipt{ID: entry.ID, AccountID: accountID, Amount: amount, JobID: jobID}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			metrics.IncReservation("insufficient")
		} else {
			metrics.IncReservation("error")
		}
		return nil, err
	}
	metrics.IncReservation("reserved")
	uc.log.Debug().Str("account_id", accountID).Int64("amount", amount).Str("job_id", jobID).Msg("credits reserved")
	return receipt, nil
}

// Settle closes the reservation. A succeeded job keeps the debit as-is; any
// other terminal outcome issues a compensating credit recorded as a distinct
// ledger entry. Calling Settle more than once for the same receipt refunds at
// most once.
func (uc *LedgerUseCase) Settle(ctx context.Context, receipt *model.DebitReceipt, outcome model.JobState) error {
	defer logging.TraceDuration(uc.log, "LedgerUseCase.Settle")()
	if receipt == nil || receipt.ID == "" {
		return domain.ErrInvalidArgument
	}
	if outcome == model.JobStateSucceeded {
		metrics.AddCreditsSpent(receipt.Amount)
		return nil
	}

	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if _, err := uc.ledger.FindRefundForDebit(ctx, tx, receipt.ID); err == nil {
			return domain.ErrAlreadySettled
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		refund := &model.LedgerEntry{
			ID:        uuid.NewString(),
			AccountID: receipt.AccountID,
			Kind:      model.LedgerEntryRefund,
			Amount:    receipt.Amount,
			Reason:    fmt.Sprintf("refund: job %s", outcome),
			JobID:     receipt.JobID,
			DebitID:   receipt.ID,
			CreatedAt: time.Now(),
		}
		return uc.ledger.Insert(ctx, tx, refund)
	})
	if err != nil {
		// Concurrent settles race to the same refund; losing is success.
		if errors.Is(err, domain.ErrAlreadySettled) {
			return nil
		}
		return err
	}
	metrics.IncRefund()
	uc.log.Info().Str("account_id", receipt.AccountID).Str("debit_id", receipt.ID).
		Int64("amount", receipt.Amount).Str("outcome", string(outcome)).Msg("debit refunded")
	return nil
}

// Grant credits an account, e.g. from the billing collaborator after a
// purchase.
func (uc *LedgerUseCase) Grant(ctx context.Context, accountID string, amount int64, reason string) error {
	if accountID == "" || amount <= 0 {
		return domain.ErrInvalidArgument
	}
	entry := &model.LedgerEntry{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Kind:      model.LedgerEntryGrant,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
	return uc.ledger.Insert(ctx, nil, entry)
}

// Balance reads the current account balance outside any transaction.
func (uc *LedgerUseCase) Balance(ctx context.Context, accountID string) (int64, error) {
	if accountID == "" {
		return 0, domain.ErrInvalidArgument
	}
	return uc.ledger.Balance(ctx, nil, accountID)
}
