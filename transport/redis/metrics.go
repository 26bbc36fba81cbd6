package redis

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pokt-network/pocket-faucet/observability"
)

const (
	metricsNamespace = "faucet"
	metricsSubsystem = "redis"
)

var (
	operationsTotal = observability.FaucetFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "operations_total",
			Help:      "Total number of Redis operations issued by faucet stores",
		},
		[]string{"operation", "result"},
	)

	operationLatency = observability.FaucetFactory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "operation_latency_seconds",
			Help:      "Latency of Redis operations issued by faucet stores",
			Buckets:   observability.FineGrainedLatencyBuckets,
		},
		[]string{"operation"},
	)
)

// ObserveOperation records the outcome and latency of a store operation.
// A redis.Nil reply counts as a miss, not as an error.
func ObserveOperation(operation string, start time.Time, err error) {
	result := "success"
	switch {
	case err == nil:
	case IsNil(err):
		result = "miss"
	default:
		result = "error"
	}
	operationsTotal.WithLabelValues(operation, result).Inc()
	operationLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
