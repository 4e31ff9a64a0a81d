package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		providerCallsLatencyMs,
		providerRetriesTotal,
		providerVersionFallbacksTotal,
	)
}

var (
	providerCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_calls_latency_ms",
			Help:    "Inference provider call latency distribution in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000, 10000},
		},
		[]string{"provider", "op", "success"},
	)

	providerRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_retries_total",
			Help: "Transient provider errors that triggered a retry.",
		},
		[]string{"provider", "op"},
	)

	providerVersionFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_version_fallbacks_total",
			Help: "Pinned model revisions rejected and retried against the latest revision.",
		},
		[]string{"provider"},
	)
)

func ObserveProviderCall(provider, op string, d time.Duration, success bool) {
	providerCallsLatencyMs.WithLabelValues(norm(provider), norm(op), strconv.FormatBool(success)).
		Observe(float64(d / time.Millisecond))
}

func IncProviderRetry(provider, op string) {
	providerRetriesTotal.WithLabelValues(norm(provider), norm(op)).Inc()
}

func IncVersionFallback(provider string) {
	providerVersionFallbacksTotal.WithLabelValues(norm(provider)).Inc()
}
