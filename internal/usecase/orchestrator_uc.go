// File: internal/usecase/orchestrator_uc.go
package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"product-media-studio/internal/config"
	"product-media-studio/internal/domain"
	"product-media-studio/internal/domain/model"
	"product-media-studio/internal/domain/ports/adapter"
	"product-media-studio/internal/domain/ports/repository"
	"product-media-studio/internal/infra/logging"
	"product-media-studio/internal/infra/poller"
)

// OrchestratorUseCase is the facade every other subsystem talks to. It hides
// the provider's shape quirks and the ledger saga behind Submit, Poll, Await
// and Cancel. Each submitted job owns one poll loop; loops share nothing but
// the provider and the ledger.
type OrchestratorUseCase struct {
	provider adapter.GenerationProvider
	ledger   *LedgerUseCase
	jobs     repository.JobRepository
	cache    repository.StatusCache
	guard    repository.Locker
	poller   *poller.Poller
	pool     *poller.Pool
	cfg      config.JobsConfig
	log      *zerolog.Logger

	runCtx  context.Context
	mu      sync.Mutex
	running map[string]*poller.Job
}

func NewOrchestratorUseCase(
	provider adapter.GenerationProvider,
	ledger *LedgerUseCase,
	jobs repository.JobRepository,
	cache repository.StatusCache,
	guard repository.Locker,
	p *poller.Poller,
	pool *poller.Pool,
	cfg config.JobsConfig,
	logger *zerolog.Logger,
) *OrchestratorUseCase {
	return &OrchestratorUseCase{
		provider: provider,
		ledger:   ledger,
		jobs:     jobs,
		cache:    cache,
		guard:    guard,
		poller:   p,
		pool:     pool,
		cfg:      cfg,
		log:      logger,
		runCtx:   context.Background(),
		running:  make(map[string]*poller.Job),
	}
}

// Start binds the lifetime of all poll loops to ctx. Must be called before
// the first Submit; canceling ctx stops every in-flight loop.
func (o *OrchestratorUseCase) Start(ctx context.Context) { o.runCtx = ctx }

// Wait blocks until every poll loop has returned. Call after canceling the
// Start context during shutdown.
func (o *OrchestratorUseCase) Wait() { o.pool.Wait() }

func statusKey(h model.JobHandle) string { return string(h.Kind) + ":" + h.TaskID }

// Submit reserves credits, creates the provider task and launches the poll
// loop. The request is immutable once submitted.
func (o *OrchestratorUseCase) Submit(ctx context.Context, req *model.JobRequest) (model.JobHandle, error) {
	defer logging.TraceDuration(o.log, "OrchestratorUseCase.Submit")()
	if err := validateRequest(req); err != nil {
		return model.JobHandle{}, err
	}
	if req.CorrelationID == "" {
		req.CorrelationID = ulid.Make().String()
	}
	ctx = logging.WithAccountID(ctx, req.AccountID)
	ctx = logging.WithCorrelationID(ctx, req.CorrelationID)
	log := logging.With(ctx, o.log)
	kindCfg := o.cfg.KindConfig(string(req.Kind))

	// One correlation id, one in-flight submission. The TTL outlives the
	// deadline so a crashed loop cannot wedge the id forever.
	guardKey := "submit:" + req.AccountID + ":" + req.CorrelationID
	token, err := o.guard.TryLock(ctx, guardKey, kindCfg.Deadline+time.Minute)
	if err != nil {
		return model.JobHandle{}, fmt.Errorf("%w: %s", domain.ErrDuplicateSubmission, req.CorrelationID)
	}
	releaseGuard := func() { _ = o.guard.Unlock(context.Background(), guardKey, token) }

	receipt, err := o.ledger.Reserve(ctx, req.AccountID, kindCfg.CreditCost,
		"generation "+string(req.Kind), req.CorrelationID)
	if err != nil {
		releaseGuard()
		return model.JobHandle{}, err
	}

	handle, err := o.provider.CreateTask(ctx, req)
	if err != nil {
		// Debited but never submitted: compensate right away.
		if serr := o.ledger.Settle(context.Background(), receipt, model.JobStateFailed); serr != nil {
			log.Error().Err(serr).Str("receipt_id", receipt.ID).Msg("refund after create failure failed")
		}
		releaseGuard()
		return model.JobHandle{}, err
	}

	record := &model.JobRecord{
		ID:            uuid.NewString(),
		AccountID:     req.AccountID,
		CorrelationID: req.CorrelationID,
		Kind:          req.Kind,
		TaskID:        handle.TaskID,
		State:         model.JobStateRunning,
		ReceiptID:     receipt.ID,
		CreatedAt:     time.Now(),
	}
	ctx = logging.WithJobID(ctx, record.ID)
	log = logging.With(ctx, o.log)
	if err := o.jobs.Save(ctx, nil, record); err != nil {
		// The loop still settles in-process; only crash recovery is degraded.
		log.Warn().Err(err).Str("task_id", handle.TaskID).Msg("persisting job record failed")
	}

	jobCtx, cancel := context.WithCancel(o.runCtx)
	job := poller.NewJob(handle, req, cancel)

	key := statusKey(handle)
	o.mu.Lock()
	o.running[key] = job
	o.mu.Unlock()

	err = o.pool.Go(jobCtx, func(ctx context.Context) {
		final := o.poller.Run(ctx, job)
		o.complete(job, record, receipt, final)
		releaseGuard()
	})
	if err != nil {
		o.mu.Lock()
		delete(o.running, key)
		o.mu.Unlock()
		cancel()
		if serr := o.ledger.Settle(context.Background(), receipt, model.JobStateFailed); serr != nil {
			log.Error().Err(serr).Str("receipt_id", receipt.ID).Msg("refund after pool rejection failed")
		}
		record.State = model.JobStateFailed
		record.LastError = err.Error()
		_ = o.jobs.Save(context.Background(), nil, record)
		releaseGuard()
		return model.JobHandle{}, err
	}

	log.Info().Str("task_id", handle.TaskID).Str("kind", string(handle.Kind)).Msg("job submitted")
	return handle, nil
}

// complete runs once per job, right after the poll loop returns its terminal
// status. Settlement comes first: if it fails the record stays non-terminal
// and the reconciler sweep finishes the saga later.
func (o *OrchestratorUseCase) complete(job *poller.Job, record *model.JobRecord, receipt *model.DebitReceipt, final model.JobStatus) {
	bg := context.Background()

	if err := o.ledger.Settle(bg, receipt, final.State); err != nil {
		o.log.Error().Err(err).Str("receipt_id", receipt.ID).Str("state", string(final.State)).
			Msg("settlement failed, leaving record to the reconciler")
	} else {
		record.State = final.State
		record.ResultURLs = final.ResultURLs
		record.LastError = final.Reason
		if err := o.jobs.Save(bg, nil, record); err != nil {
			o.log.Warn().Err(err).Str("task_id", record.TaskID).Msg("updating job record failed")
		}
	}

	if err := o.cache.PutStatus(bg, statusKey(job.Handle), &final); err != nil {
		o.log.Warn().Err(err).Str("task_id", record.TaskID).Msg("caching terminal status failed")
	}

	o.mu.Lock()
	delete(o.running, statusKey(job.Handle))
	o.mu.Unlock()
}

// Poll returns the current status for a handle without blocking: from the
// in-memory registry while the job is in flight, from the cache or the
// persisted record afterwards.
func (o *OrchestratorUseCase) Poll(ctx context.Context, handle model.JobHandle) (model.JobStatus, error) {
	key := statusKey(handle)

	o.mu.Lock()
	job, ok := o.running[key]
	o.mu.Unlock()
	if ok {
		return job.Status(), nil
	}

	if st, err := o.cache.GetStatus(ctx, key); err == nil {
		return *st, nil
	}

	rec, err := o.jobs.FindByTaskID(ctx, nil, handle.TaskID)
	if err != nil {
		return model.JobStatus{}, domain.ErrJobNotFound
	}
	return statusFromRecord(rec), nil
}

// Await blocks until the job reaches its terminal state or ctx is canceled.
func (o *OrchestratorUseCase) Await(ctx context.Context, handle model.JobHandle) (model.JobStatus, error) {
	o.mu.Lock()
	job, ok := o.running[statusKey(handle)]
	o.mu.Unlock()
	if !ok {
		st, err := o.Poll(ctx, handle)
		if err != nil {
			return model.JobStatus{}, err
		}
		if !st.State.Terminal() {
			// Known to the store but not to this process; nothing to wait on.
			return st, domain.ErrJobNotFound
		}
		return st, nil
	}

	select {
	case <-ctx.Done():
		return model.JobStatus{}, ctx.Err()
	case <-job.Done():
		return job.Status(), nil
	}
}

// Cancel stops further polling for the handle. Provider-side work already
// performed is not undone. Canceling an already-terminal job is a no-op.
func (o *OrchestratorUseCase) Cancel(ctx context.Context, handle model.JobHandle) error {
	key := statusKey(handle)

	o.mu.Lock()
	job, ok := o.running[key]
	o.mu.Unlock()
	if ok {
		job.Cancel()
		return nil
	}

	if _, err := o.cache.GetStatus(ctx, key); err == nil {
		return nil
	}
	if rec, err := o.jobs.FindByTaskID(ctx, nil, handle.TaskID); err == nil && rec.State.Terminal() {
		return nil
	}
	return domain.ErrJobNotFound
}

func validateRequest(req *model.JobRequest) error {
	if req == nil {
		return domain.ErrInvalidArgument
	}
	if !req.Kind.Valid() {
		return fmt.Errorf("%w: unknown job kind %q", domain.ErrInvalidArgument, req.Kind)
	}
	if req.AccountID == "" {
		return fmt.Errorf("%w: account id required", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(req.Prompt) == "" && len(req.ReferenceURLs) == 0 {
		return fmt.Errorf("%w: prompt or reference urls required", domain.ErrInvalidArgument)
	}
	return nil
}

func statusFromRecord(rec *model.JobRecord) model.JobStatus {
	st := model.JobStatus{
		State:      rec.State,
		ResultURLs: rec.ResultURLs,
		Reason:     rec.LastError,
	}
	if rec.State == model.JobStateSucceeded {
		st.Progress = 1.0
	}
	return st
}
