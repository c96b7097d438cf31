// Package metrics defines the Prometheus collectors for the proxy: request
// counts per surface, cascade attempt outcomes per tier, EWMA gauges, rate
// limit backoffs, stream backpressure, and token usage counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ferryman"

// LatencyBuckets defines histogram buckets for attempt latency (seconds).
var LatencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 3.0, 5.0,
	7.5, 10.0, 15.0, 30.0, 60.0, 120.0, 300.0,
}

var (
	// RequestsTotal counts client requests by surface and final status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total client requests by surface and status code",
		},
		[]string{"surface", "status"},
	)

	// TierAttemptsTotal counts upstream attempts by tier and outcome.
	TierAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_attempts_total",
			Help:      "Upstream dispatch attempts by tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	// AttemptLatency tracks per-attempt upstream latency.
	AttemptLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_latency_seconds",
			Help:      "Upstream attempt latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"tier"},
	)

	// TierEwmaMS mirrors the router's per-tier EWMA estimate.
	TierEwmaMS = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tier_ewma_milliseconds",
			Help:      "Per-tier EWMA latency estimate in milliseconds",
		},
		[]string{"tier"},
	)

	// RateLimitBackoffsTotal counts 429-triggered tier cooldowns.
	RateLimitBackoffsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_backoffs_total",
			Help:      "Rate-limit cooldowns entered, by tier",
		},
		[]string{"tier"},
	)

	// CascadeExhaustedTotal counts requests that failed every tier.
	CascadeExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascade_exhausted_total",
			Help:      "Requests that exhausted every configured tier",
		},
	)

	// StreamBackpressureTotal counts queue-full occurrences on stream pipes.
	StreamBackpressureTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_backpressure_total",
			Help:      "Occurrences of a full stream queue",
		},
	)

	// ActiveStreams gauges currently open SSE streams.
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Currently open client streams",
		},
	)

	// TokensTotal counts tokens by tier and kind (input, output, cache_read,
	// cache_creation).
	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Token usage by tier and kind",
		},
		[]string{"tier", "kind"},
	)
)
