package poller

import (
	"math/rand"
	"time"
)

// backoff yields the delay before each successive poll: starts at a fixed
// short delay, grows by a constant factor, is clamped to a maximum, and adds
// a little jitter so many in-flight jobs do not poll in lockstep. The
// returned delay is always positive.
type backoff struct {
	initial time.Duration
	max     time.Duration
	factor  float64
	current time.Duration
}

func newBackoff(initial, max time.Duration, factor float64) *backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = initial
	}
	if factor < 1 {
		factor = 1
	}
	return &backoff{initial: initial, max: max, factor: factor}
}

// Next returns the delay to sleep before the upcoming poll and advances the
// schedule.
func (b *backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.initial
	} else {
		next := time.Duration(float64(b.current) * b.factor)
		if next > b.max {
			next = b.max
		}
		b.current = next
	}

	// Up to 10% jitter, never pushing the delay to zero or past the cap.
	jitter := time.Duration(rand.Int63n(int64(b.current)/10 + 1))
	d := b.current - jitter
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}
