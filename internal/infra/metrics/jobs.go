package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(jobsFinishedTotal, jobsInFlight, jobDurationSeconds) }

var jobsFinishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "generation_jobs_finished_total",
		Help: "Total generation jobs that reached a terminal state, by kind and state.",
	},
	[]string{"kind", "state"},
)

var jobsInFlight = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "generation_jobs_in_flight",
		Help: "Generation jobs currently being polled, by kind.",
	},
	[]string{"kind"},
)

var jobDurationSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "generation_job_duration_seconds",
		Help:    "Wall-clock time from submission to terminal state.",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 900},
	},
	[]string{"kind", "state"},
)

func IncJobFinished(kind, state string, elapsed time.Duration) {
	jobsFinishedTotal.WithLabelValues(norm(kind), norm(state)).Inc()
	jobDurationSeconds.WithLabelValues(norm(kind), norm(state)).Observe(elapsed.Seconds())
}

func JobStarted(kind string)  { jobsInFlight.WithLabelValues(norm(kind)).Inc() }
func JobFinished(kind string) { jobsInFlight.WithLabelValues(norm(kind)).Dec() }
