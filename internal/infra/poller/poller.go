package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"product-media-studio/internal/config"
	"product-media-studio/internal/domain"
	"product-media-studio/internal/domain/model"
	"product-media-studio/internal/domain/ports/adapter"
	"product-media-studio/internal/infra/metrics"
)

// Job is one in-flight generation job and the caller-visible view of it.
// The poll loop is the only writer of status; any goroutine may read a
// snapshot via Status. Progress in the snapshot never decreases.
type Job struct {
	Handle    model.JobHandle
	Request   *model.JobRequest
	StartedAt time.Time

	mu     sync.Mutex
	status model.JobStatus
	done   chan struct{}
	cancel context.CancelFunc
}

func NewJob(handle model.JobHandle, req *model.JobRequest, cancel context.CancelFunc) *Job {
	return &Job{
		Handle:    handle,
		Request:   req,
		StartedAt: time.Now(),
		status:    model.JobStatus{State: model.JobStatePending},
		done:      make(chan struct{}),
		cancel:    cancel,
	}
}

// Status returns a snapshot of the current caller-visible status.
func (j *Job) Status() model.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := j.status
	st.ResultURLs = append([]string(nil), j.status.ResultURLs...)
	return st
}

// Done is closed once the job reaches its terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel requests cooperative cancellation. The poll loop observes it before
// the next sleep and before the next HTTP call; an in-flight call completes
// but its result is discarded.
func (j *Job) Cancel() { j.cancel() }

func (j *Job) setInFlight(state model.JobState, progress float64, stage string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.State.Terminal() {
		return
	}
	j.status.State = state
	if progress > j.status.Progress {
		j.status.Progress = progress
	}
	if stage != "" {
		j.status.Stage = stage
	}
}

// Poller drives a single job from submission to exactly one terminal state by
// polling the provider on a backoff schedule under a per-kind wall-clock
// deadline.
type Poller struct {
	provider adapter.GenerationProvider
	cfg      config.JobsConfig
	log      *zerolog.Logger
}

func New(provider adapter.GenerationProvider, cfg config.JobsConfig, logger *zerolog.Logger) *Poller {
	return &Poller{provider: provider, cfg: cfg, log: logger}
}

// Run executes the poll loop and returns the terminal status. It blocks until
// the job succeeds, fails, times out, or ctx is canceled.
func (p *Poller) Run(ctx context.Context, job *Job) model.JobStatus {
	kind := p.cfg.KindConfig(string(job.Handle.Kind))
	deadline := job.StartedAt.Add(kind.Deadline)
	delay := newBackoff(p.cfg.InitialPollDelay, p.cfg.MaxPollDelay, p.cfg.BackoffFactor)

	metrics.JobStarted(string(job.Handle.Kind))
	defer metrics.JobFinished(string(job.Handle.Kind))

	consecutiveErrs := 0
	graceUsed := false

	for {
		if ctx.Err() != nil {
			return p.finish(job, model.JobStatus{State: model.JobStateCanceled, Reason: "canceled by caller"})
		}
		if time.Now().After(deadline) {
			return p.finish(job, model.JobStatus{State: model.JobStateTimedOut, Reason: "generation deadline exceeded"})
		}

		st, err := p.provider.TaskStatus(ctx, job.Handle)

		// Cancellation and the deadline win over whatever the poll returned,
		// even a successful-looking result that arrived late.
		if ctx.Err() != nil {
			return p.finish(job, model.JobStatus{State: model.JobStateCanceled, Reason: "canceled by caller"})
		}
		if time.Now().After(deadline) {
			return p.finish(job, model.JobStatus{State: model.JobStateTimedOut, Reason: "generation deadline exceeded"})
		}

		switch {
		case err != nil && errors.Is(err, domain.ErrProviderRejected):
			// Configuration or request problem: retrying cannot help.
			return p.finish(job, model.JobStatus{State: model.JobStateFailed, Reason: err.Error()})

		case err != nil:
			consecutiveErrs++
			p.log.Warn().Err(err).Str("task_id", job.Handle.TaskID).Int("consecutive", consecutiveErrs).Msg("poll failed")
			if consecutiveErrs >= p.cfg.PollRetryBudget {
				reason := fmt.Sprintf("provider unreachable after %d consecutive polls: %v", consecutiveErrs, err)
				return p.finish(job, model.JobStatus{State: model.JobStateFailed, Reason: reason})
			}

		default:
			consecutiveErrs = 0
			elapsed := time.Since(job.StartedAt)
			display := Estimate(elapsed, st.Progress, kind.ExpectedDuration)
			stage := ""
			if st.Progress != nil {
				stage = st.Progress.Stage
			}

			switch st.State {
			case model.JobStateSucceeded:
				usable := usableResults(st.ResultURLs, job.Request.ReferenceURLs)
				if len(usable) > 0 {
					final := job.Status()
					final.State = model.JobStateSucceeded
					final.Progress = 1.0
					final.ResultURLs = usable
					final.Reason = ""
					return p.finish(job, final)
				}
				// Success without a deliverable gets exactly one more chance.
				if graceUsed {
					return p.finish(job, model.JobStatus{State: model.JobStateFailed, Reason: domain.ErrNoUsableResult.Error()})
				}
				graceUsed = true
				job.setInFlight(model.JobStateRunning, display, stage)

			case model.JobStateFailed:
				reason := st.Message
				if reason == "" {
					reason = "provider reported failure"
				}
				return p.finish(job, model.JobStatus{State: model.JobStateFailed, Reason: reason})

			default:
				job.setInFlight(st.State, display, stage)
			}
		}

		if err := sleep(ctx, delay.Next()); err != nil {
			return p.finish(job, model.JobStatus{State: model.JobStateCanceled, Reason: "canceled by caller"})
		}
	}
}

func (p *Poller) finish(job *Job, final model.JobStatus) model.JobStatus {
	job.mu.Lock()
	if job.status.State.Terminal() {
		// Already terminal; keep the first outcome.
		final = job.status
		job.mu.Unlock()
		return final
	}
	if final.State != model.JobStateSucceeded && final.Progress < job.status.Progress {
		// A non-success outcome keeps the last displayed progress.
		final.Progress = job.status.Progress
		final.Stage = job.status.Stage
	}
	job.status = final
	job.mu.Unlock()
	close(job.done)

	elapsed := time.Since(job.StartedAt)
	metrics.IncJobFinished(string(job.Handle.Kind), string(final.State), elapsed)
	p.log.Info().
		Str("task_id", job.Handle.TaskID).
		Str("kind", string(job.Handle.Kind)).
		Str("state", string(final.State)).
		Dur("elapsed", elapsed).
		Msg("job finished")
	return final
}

// usableResults drops any result URL that merely echoes one of the request's
// reference URLs. Providers occasionally return the input as the output.
func usableResults(results, references []string) []string {
	if len(results) == 0 {
		return nil
	}
	refs := make(map[string]struct{}, len(references))
	for _, r := range references {
		refs[r] = struct{}{}
	}
	var usable []string
	for _, u := range results {
		if _, echoed := refs[u]; !echoed {
			usable = append(usable, u)
		}
	}
	return usable
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
