package poller

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"product-media-studio/internal/config"
	"product-media-studio/internal/domain"
	"product-media-studio/internal/domain/model"
	"product-media-studio/internal/domain/ports/adapter"
)

// pollStep is one scripted poll response. The script repeats its last step
// once exhausted.
type pollStep struct {
	status *adapter.TaskStatus
	err    error
}

type scriptedProvider struct {
	mu    sync.Mutex
	steps []pollStep
	calls int
}

var _ adapter.GenerationProvider = (*scriptedProvider)(nil)

func (s *scriptedProvider) CreateTask(ctx context.Context, req *model.JobRequest) (model.JobHandle, error) {
	return model.JobHandle{TaskID: "scripted", Kind: req.Kind}, nil
}

func (s *scriptedProvider) TaskStatus(ctx context.Context, handle model.JobHandle) (*adapter.TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i].status, s.steps[i].err
}

func (s *scriptedProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func running(f *float64, stage string) pollStep {
	st := &adapter.TaskStatus{State: model.JobStateRunning}
	if f != nil || stage != "" {
		st.Progress = &model.ProgressSample{Fraction: f, Stage: stage, ObservedAt: time.Now()}
	}
	return pollStep{status: st}
}

func succeeded(urls ...string) pollStep {
	return pollStep{status: &adapter.TaskStatus{State: model.JobStateSucceeded, ResultURLs: urls}}
}

func testJobsConfig() config.JobsConfig {
	return config.JobsConfig{
		Image:            config.JobKindConfig{Deadline: 5 * time.Second, ExpectedDuration: 100 * time.Millisecond, CreditCost: 5},
		Video:            config.JobKindConfig{Deadline: 5 * time.Second, ExpectedDuration: 500 * time.Millisecond, CreditCost: 25},
		InitialPollDelay: time.Millisecond,
		BackoffFactor:    1.2,
		MaxPollDelay:     5 * time.Millisecond,
		PollRetryBudget:  3,
		MaxInFlight:      8,
	}
}

func runJob(t *testing.T, steps []pollStep, cfg config.JobsConfig, req *model.JobRequest) (model.JobStatus, *scriptedProvider, *Job) {
	t.Helper()
	provider := &scriptedProvider{steps: steps}
	logger := zerolog.Nop()
	p := New(provider, cfg, &logger)
	job := NewJob(model.JobHandle{TaskID: "t-1", Kind: req.Kind}, req, func() {})
	final := p.Run(context.Background(), job)
	return final, provider, job
}

func TestRun_Succeeds(t *testing.T) {
	steps := []pollStep{
		running(nil, "queued"),
		running(fraction(0.4), "rendering"),
		succeeded("https://cdn/out.png"),
	}
	final, provider, job := runJob(t, steps, testJobsConfig(), &model.JobRequest{Kind: model.JobKindImage, Prompt: "x"})

	if final.State != model.JobStateSucceeded {
		t.Fatalf("state = %s, want succeeded", final.State)
	}
	if final.Progress != 1.0 {
		t.Errorf("progress = %v, want 1.0", final.Progress)
	}
	if len(final.ResultURLs) != 1 || final.ResultURLs[0] != "https://cdn/out.png" {
		t.Errorf("result urls = %v", final.ResultURLs)
	}
	if provider.callCount() != 3 {
		t.Errorf("polls = %d, want 3", provider.callCount())
	}
	select {
	case <-job.Done():
	default:
		t.Error("Done channel not closed after terminal state")
	}
}

func TestRun_ProviderReportsFailure(t *testing.T) {
	steps := []pollStep{
		running(nil, ""),
		{status: &adapter.TaskStatus{State: model.JobStateFailed, Message: "content policy violation"}},
	}
	final, _, _ := runJob(t, steps, testJobsConfig(), &model.JobRequest{Kind: model.JobKindImage, Prompt: "x"})

	if final.State != model.JobStateFailed {
		t.Fatalf("state = %s, want failed", final.State)
	}
	if final.Reason != "content policy violation" {
		t.Errorf("reason = %q", final.Reason)
	}
}

func TestRun_RejectionEndsImmediately(t *testing.T) {
	steps := []pollStep{{err: domain.ErrProviderRejected}}
	final, provider, _ := runJob(t, steps, testJobsConfig(), &model.JobRequest{Kind: model.JobKindImage, Prompt: "x"})

	if final.State != model.JobStateFailed {
		t.Fatalf("state = %s, want failed", final.State)
	}
	if provider.callCount() != 1 {
		t.Errorf("polls = %d, want 1 (no retry on rejection)", provider.callCount())
	}
}

func TestRun_TransientErrorsExhaustBudget(t *testing.T) {
	steps := []pollStep{{err: domain.ErrProviderUnreachable}}
	final, provider, _ := runJob(t, steps, testJobsConfig(), &model.JobRequest{Kind: model.JobKindImage, Prompt: "x"})

	if final.State != model.JobStateFailed {
		t.Fatalf("state = %s, want failed", final.State)
	}
	if !strings.Contains(final.Reason, "unreachable") {
		t.Errorf("reason = %q, want mention of unreachable provider", final.Reason)
	}
	if provider.callCount() != 3 {
		t.Errorf("polls = %d, want budget of 3", provider.callCount())
	}
}

func TestRun_TransientErrorCounterResetsOnContact(t *testing.T) {
	steps := []pollStep{
		{err: domain.ErrProviderUnreachable},
		{err: domain.ErrProviderUnreachable},
		running(nil, ""),
		{err: domain.ErrProviderUnreachable},
		{err: domain.ErrProviderUnreachable},
		succeeded("https://cdn/out.png"),
	}
	final, _, _ := runJob(t, steps, testJobsConfig(), &model.JobRequest{Kind: model.JobKindImage, Prompt: "x"})

	if final.State != model.JobStateSucceeded {
		t.Fatalf("state = %s, want succeeded (budget resets on successful poll)", final.State)
	}
}

func TestRun_EchoedResultGetsOneGracePoll(t *testing.T) {
	ref := "https://in/ref.png"
	steps := []pollStep{
		succeeded(ref),
		succeeded(ref),
	}
	req := &model.JobRequest{Kind: model.JobKindImage, Prompt: "x", ReferenceURLs: []string{ref}}
	final, provider, _ := runJob(t, steps, testJobsConfig(), req)

	if final.State != model.JobStateFailed {
		t.Fatalf("state = %s, want failed", final.State)
	}
	if !strings.Contains(final.Reason, "usable result") {
		t.Errorf("reason = %q", final.Reason)
	}
	if provider.callCount() != 2 {
		t.Errorf("polls = %d, want exactly one grace poll", provider.callCount())
	}
}

func TestRun_GracePollCanRecover(t *testing.T) {
	ref := "https://in/ref.png"
	steps := []pollStep{
		succeeded(ref),
		succeeded(ref, "https://cdn/out.png"),
	}
	req := &model.JobRequest{Kind: model.JobKindImage, Prompt: "x", ReferenceURLs: []string{ref}}
	final, _, _ := runJob(t, steps, testJobsConfig(), req)

	if final.State != model.JobStateSucceeded {
		t.Fatalf("state = %s, want succeeded", final.State)
	}
	if len(final.ResultURLs) != 1 || final.ResultURLs[0] != "https://cdn/out.png" {
		t.Errorf("result urls = %v, echoed reference must be dropped", final.ResultURLs)
	}
}

func TestRun_DeadlineTimesOut(t *testing.T) {
	cfg := testJobsConfig()
	cfg.Image.Deadline = 30 * time.Millisecond
	steps := []pollStep{running(nil, "")}
	final, _, _ := runJob(t, steps, cfg, &model.JobRequest{Kind: model.JobKindImage, Prompt: "x"})

	if final.State != model.JobStateTimedOut {
		t.Fatalf("state = %s, want timed_out", final.State)
	}
}

func TestRun_DeadlineBeatsLateSuccess(t *testing.T) {
	// The provider answers with success, but only after the wall-clock
	// deadline has already passed. The deadline wins.
	cfg := testJobsConfig()
	cfg.Image.Deadline = 20 * time.Millisecond

	provider := &slowProvider{delay: 50 * time.Millisecond}
	logger := zerolog.Nop()
	p := New(provider, cfg, &logger)
	req := &model.JobRequest{Kind: model.JobKindImage, Prompt: "x"}
	job := NewJob(model.JobHandle{TaskID: "t-1", Kind: model.JobKindImage}, req, func() {})

	final := p.Run(context.Background(), job)
	if final.State != model.JobStateTimedOut {
		t.Fatalf("state = %s, want timed_out", final.State)
	}
}

type slowProvider struct{ delay time.Duration }

func (s *slowProvider) CreateTask(ctx context.Context, req *model.JobRequest) (model.JobHandle, error) {
	return model.JobHandle{TaskID: "slow", Kind: req.Kind}, nil
}

func (s *slowProvider) TaskStatus(ctx context.Context, handle model.JobHandle) (*adapter.TaskStatus, error) {
	time.Sleep(s.delay)
	return &adapter.TaskStatus{State: model.JobStateSucceeded, ResultURLs: []string{"https://cdn/out.png"}}, nil
}

func TestRun_CancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	provider := &scriptedProvider{steps: []pollStep{running(nil, "")}}
	logger := zerolog.Nop()
	p := New(provider, testJobsConfig(), &logger)
	req := &model.JobRequest{Kind: model.JobKindVideo, Prompt: "x"}
	job := NewJob(model.JobHandle{TaskID: "t-1", Kind: model.JobKindVideo}, req, cancel)

	finalCh := make(chan model.JobStatus, 1)
	go func() { finalCh <- p.Run(ctx, job) }()

	time.Sleep(10 * time.Millisecond)
	job.Cancel()

	select {
	case final := <-finalCh:
		if final.State != model.JobStateCanceled {
			t.Fatalf("state = %s, want canceled", final.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop did not stop after cancel")
	}
}

func TestRun_ProgressNeverDecreases(t *testing.T) {
	steps := []pollStep{
		running(fraction(0.7), ""),
		running(fraction(0.2), ""), // provider regresses
		running(nil, ""),
		succeeded("https://cdn/out.png"),
	}
	provider := &scriptedProvider{steps: steps}
	logger := zerolog.Nop()
	p := New(provider, testJobsConfig(), &logger)
	req := &model.JobRequest{Kind: model.JobKindImage, Prompt: "x"}
	job := NewJob(model.JobHandle{TaskID: "t-1", Kind: model.JobKindImage}, req, func() {})

	finalCh := make(chan model.JobStatus, 1)
	go func() { finalCh <- p.Run(context.Background(), job) }()

	last := 0.0
	for {
		select {
		case final := <-finalCh:
			if final.Progress < last {
				t.Errorf("terminal progress %v below last observed %v", final.Progress, last)
			}
			return
		default:
			st := job.Status()
			if st.Progress < last {
				t.Fatalf("progress regressed: %v -> %v", last, st.Progress)
			}
			last = st.Progress
			time.Sleep(time.Millisecond)
		}
	}
}

func TestRun_FailureKeepsDisplayedProgress(t *testing.T) {
	steps := []pollStep{
		running(fraction(0.6), "rendering"),
		{status: &adapter.TaskStatus{State: model.JobStateFailed, Message: "gpu node lost"}},
	}
	final, _, _ := runJob(t, steps, testJobsConfig(), &model.JobRequest{Kind: model.JobKindImage, Prompt: "x"})

	if final.State != model.JobStateFailed {
		t.Fatalf("state = %s, want failed", final.State)
	}
	if final.Progress < 0.6 {
		t.Errorf("progress = %v, failure must keep the last displayed value", final.Progress)
	}
}
