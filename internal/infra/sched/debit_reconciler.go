package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"product-media-studio/internal/domain/model"
	"product-media-studio/internal/domain/ports/repository"
	"product-media-studio/internal/usecase"
)

// DebitReconciler sweeps jobs stuck in a non-terminal persisted state (a
// poll loop that died with the process leaves exactly that behind) and
// refunds their debits. Settlement is idempotent, so racing a live settle is
// harmless. stale_after must exceed the longest job deadline: any loop still
// alive in this process reaches TimedOut before the sweep can touch its job.
type DebitReconciler struct {
	ledgerUC   *usecase.LedgerUseCase
	ledger     repository.LedgerRepository
	jobs       repository.JobRepository
	interval   time.Duration
	staleAfter time.Duration
	log        *zerolog.Logger
}

func NewDebitReconciler(
	ledgerUC *usecase.LedgerUseCase,
	ledger repository.LedgerRepository,
	jobs repository.JobRepository,
	interval, staleAfter time.Duration,
	logger *zerolog.Logger,
) *DebitReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &DebitReconciler{
		ledgerUC:   ledgerUC,
		ledger:     ledger,
		jobs:       jobs,
		interval:   interval,
		staleAfter: staleAfter,
		log:        logger,
	}
}

func (w *DebitReconciler) Start(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *DebitReconciler) tick(ctx context.Context) {
	cutoff := time.Now().Add(-w.staleAfter)
	stale, err := w.jobs.ListStaleInFlight(ctx, nil, cutoff, 200)
	if err != nil {
		w.log.Error().Err(err).Msg("debit-reconciler: list stale jobs failed")
		return
	}

	for _, rec := range stale {
		if rec.ReceiptID == "" {
			continue
		}
		debit, err := w.ledger.FindEntry(ctx, nil, rec.ReceiptID)
		if err != nil {
			w.log.Error().Err(err).Str("job_id", rec.ID).Str("receipt_id", rec.ReceiptID).
				Msg("debit-reconciler: debit entry lookup failed")
			continue
		}
		receipt := &model.DebitReceipt{
			ID:        debit.ID,
			AccountID: debit.AccountID,
			Amount:    debit.Amount,
			JobID:     rec.CorrelationID,
		}
		if err := w.ledgerUC.Settle(ctx, receipt, model.JobStateTimedOut); err != nil {
			w.log.Error().Err(err).Str("job_id", rec.ID).Msg("debit-reconciler: refund failed")
			continue
		}

		rec.State = model.JobStateTimedOut
		rec.LastError = "orphaned by process restart, debit refunded"
		if err := w.jobs.Save(ctx, nil, rec); err != nil {
			w.log.Warn().Err(err).Str("job_id", rec.ID).Msg("debit-reconciler: record update failed")
			continue
		}
		w.log.Info().Str("job_id", rec.ID).Str("task_id", rec.TaskID).Msg("debit-reconciler: orphaned debit refunded")
	}
}
