package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(providerCallsTotal, providerLatencyMs) }

var providerCallsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "provider_calls_total",
		Help: "Provider HTTP calls by kind, operation (create/poll) and success.",
	},
	[]string{"kind", "op", "success"},
)

var providerLatencyMs = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "provider_call_latency_ms",
		Help:    "Provider HTTP call latency distribution in milliseconds.",
		Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000, 10000},
	},
	[]string{"kind", "op"},
)

func ObserveProviderCall(kind, op string, latencyMs int, success bool) {
	providerCallsTotal.WithLabelValues(norm(kind), norm(op), strconv.FormatBool(success)).Inc()
	providerLatencyMs.WithLabelValues(norm(kind), norm(op)).Observe(float64(latencyMs))
}
