package poller

import (
	"time"

	"product-media-studio/internal/domain/model"
)

// Estimate blends the provider-reported progress sample with a time-based
// synthetic ramp so the caller always sees some forward motion, even from
// providers that report nothing. The result is capped below 1.0: only a
// confirmed terminal success may display as done. Pure function, no timer
// attached.
func Estimate(elapsed time.Duration, sample *model.ProgressSample, expected time.Duration) float64 {
	const displayCap = 0.99

	synthetic := 0.0
	if expected > 0 {
		synthetic = float64(elapsed) / float64(expected)
	}
	if synthetic > displayCap {
		synthetic = displayCap
	}
	if synthetic < 0 {
		synthetic = 0
	}

	// A reported percentage can only pull progress up, never down.
	r := 0.0
	if sample != nil && sample.Fraction != nil {
		r = *sample.Fraction
	}
	if r > displayCap {
		r = displayCap
	}
	if r > synthetic {
		return r
	}
	return synthetic
}
