package claim

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pokt-network/pocket-faucet/observability"
)

const (
	metricsNamespace = "faucet"
	metricsSubsystem = "claim"
)

var (
	claimsEnqueued = observability.FaucetFactory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "enqueued_total",
			Help:      "Total number of claims added to the queue",
		},
	)

	claimsCompleted = observability.FaucetFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "completed_total",
			Help:      "Total number of claims that left the queue, by result and failure code",
		},
		[]string{"result", "code"},
	)

	broadcastAttempts = observability.FaucetFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "broadcast_attempts_total",
			Help:      "Total number of broadcast attempts, by outcome",
		},
		[]string{"outcome"},
	)

	pendingClaims = observability.FaucetFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "pending",
			Help:      "Number of claims not yet confirmed or failed",
		},
	)

	lastProcessedIdx = observability.FaucetFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "last_processed_idx",
			Help:      "Highest queue index that reached a terminal status",
		},
	)

	confirmationSeconds = observability.FaucetFactory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "confirmation_seconds",
			Help:      "Time from broadcast to mined receipt",
			Buckets:   observability.ConfirmationBuckets,
		},
	)
)
