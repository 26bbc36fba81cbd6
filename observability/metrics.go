package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "faucet"
	metricsSubsystem = "observability"
)

var (
	// FineGrainedLatencyBuckets covers sub-millisecond Redis calls up to slow RPCs.
	// Buckets: 1ms, 2ms, 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s, 10s, 30s
	FineGrainedLatencyBuckets = []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

	// ConfirmationBuckets covers block confirmation waits.
	// Buckets: 1s, 2s, 5s, 10s, 15s, 30s, 60s, 120s, 300s, 600s
	ConfirmationBuckets = []float64{1, 2, 5, 10, 15, 30, 60, 120, 300, 600}
)

var (
	// StartupDurationSeconds tracks how long each component took to start.
	StartupDurationSeconds = FaucetFactory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "startup_duration_seconds",
			Help:      "Time taken to start each component",
		},
		[]string{"component"},
	)

	// ProcessInfo exposes build information as a constant gauge.
	ProcessInfo = FaucetFactory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "process_info",
			Help:      "Process build information",
		},
		[]string{"version", "chain_id", "wallet"},
	)
)
