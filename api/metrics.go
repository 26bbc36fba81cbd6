package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pokt-network/pocket-faucet/observability"
)

const (
	metricsNamespace = "faucet"
	metricsSubsystem = "api"
)

var (
	apiRequests = observability.FaucetFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "requests_total",
			Help:      "Total number of API requests by endpoint and status code",
		},
		[]string{"endpoint", "code"},
	)

	apiLatency = observability.FaucetFactory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "request_duration_seconds",
			Help:      "API request latency by endpoint",
			Buckets:   observability.FineGrainedLatencyBuckets,
		},
		[]string{"endpoint"},
	)
)
