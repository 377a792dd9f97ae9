package model

import "time"

// JobKind selects the provider endpoint family. Image and video jobs use
// different polling endpoints, deadlines and costs.
type JobKind string

const (
	JobKindImage JobKind = "image"
	JobKindVideo JobKind = "video"
)

func (k JobKind) Valid() bool { return k == JobKindImage || k == JobKindVideo }

type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateTimedOut  JobState = "timed_out"
	JobStateCanceled  JobState = "canceled"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateTimedOut, JobStateCanceled:
		return true
	}
	return false
}

// JobRequest is immutable once submitted.
type JobRequest struct {
	Kind          JobKind
	AccountID     string
	CorrelationID string
	Prompt        string
	ReferenceURLs []string
	AspectRatio   string
	OutputFormat  string
}

// JobHandle identifies a submitted job: the provider-issued task id plus the
// endpoint family it was created against.
type JobHandle struct {
	TaskID string
	Kind   JobKind
}

// JobStatus is the canonical, caller-visible view of a job.
// Progress is the displayed fraction and never decreases for a given handle.
type JobStatus struct {
	State      JobState
	Progress   float64
	Stage      string
	ResultURLs []string
	Reason     string
}

// ProgressSample is one provider-reported progress observation.
// Fraction is nil when the provider reported nothing usable.
type ProgressSample struct {
	Fraction   *float64
	Stage      string
	ObservedAt time.Time
}

// JobRecord is the persisted form of a job, kept so a crashed process leaves
// enough behind for the debit reconciler to sweep.
type JobRecord struct {
	ID            string
	AccountID     string
	CorrelationID string
	Kind          JobKind
	TaskID        string
	State         JobState
	ReceiptID     string
	ResultURLs    []string
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
