package wallet

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pokt-network/pocket-faucet/observability"
)

const (
	metricsNamespace = "faucet"
	metricsSubsystem = "wallet"
)

var (
	rpcCalls = observability.FaucetFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rpc_calls_total",
			Help:      "Total number of wallet RPC calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	rpcLatency = observability.FaucetFactory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rpc_duration_seconds",
			Help:      "Wallet RPC call latency by operation",
			Buckets:   observability.FineGrainedLatencyBuckets,
		},
		[]string{"operation"},
	)

	walletBalance = observability.FaucetFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "balance_ether",
			Help:      "Last observed faucet wallet balance in whole coins",
		},
	)
)

func observeCall(operation string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	rpcCalls.WithLabelValues(operation, result).Inc()
	rpcLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
