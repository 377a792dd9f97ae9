package adapter

import (
	"context"

	"product-media-studio/internal/domain/model"
)

// TaskStatus is the canonical poll result after normalizing a provider
// payload. State is limited to pending/running/succeeded/failed; timeouts and
// cancellation are decided by the poller, never by the provider.
type TaskStatus struct {
	State model.JobState
	// Progress is the provider-reported progress observation, nil when the
	// provider reported nothing usable.
	Progress   *model.ProgressSample
	ResultURLs []string
	Message    string
}

// GenerationProvider is the port for an external image/video generation
// service reached over HTTP. Implementations keep no state between calls.
type GenerationProvider interface {
	// CreateTask submits the generation request and returns the provider's
	// task handle. Fails with domain.ErrProviderRejected on a non-success
	// synchronous response and domain.ErrProviderUnreachable on transport
	// errors.
	CreateTask(ctx context.Context, req *model.JobRequest) (model.JobHandle, error)

	// TaskStatus polls the task once and normalizes the response.
	TaskStatus(ctx context.Context, handle model.JobHandle) (*TaskStatus, error)
}
