package leader

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pokt-network/pocket-faucet/observability"
)

const (
	metricsNamespace = "faucet"
	metricsSubsystem = "lane"
)

type leaderMetrics struct {
	status              *prometheus.GaugeVec
	elections           *prometheus.CounterVec
	losses              *prometheus.CounterVec
	acquisitionFailures *prometheus.CounterVec
}

var (
	metrics     *leaderMetrics
	metricsOnce sync.Once
)

// initMetrics registers lane lease metrics on first use.
func initMetrics() *leaderMetrics {
	metricsOnce.Do(func() {
		metrics = &leaderMetrics{
			status: observability.FaucetFactory.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Subsystem: metricsSubsystem,
					Name:      "owner_status",
					Help:      "Whether this instance owns the claim lane (1=owner, 0=standby)",
				},
				[]string{"instance"},
			),
			elections: observability.FaucetFactory.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: metricsSubsystem,
					Name:      "elections_total",
					Help:      "Total number of times this instance acquired the claim lane",
				},
				[]string{"instance"},
			),
			losses: observability.FaucetFactory.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: metricsSubsystem,
					Name:      "losses_total",
					Help:      "Total number of times this instance lost the claim lane",
				},
				[]string{"instance"},
			),
			acquisitionFailures: observability.FaucetFactory.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: metricsSubsystem,
					Name:      "acquisition_failures_total",
					Help:      "Total number of failed lane lease acquisitions due to Redis errors",
				},
				[]string{"instance", "reason"},
			),
		}
	})
	return metrics
}

var (
	redisUsedMemoryBytes = observability.FaucetFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "redis",
			Name:      "used_memory_bytes",
			Help:      "Current Redis memory usage in bytes (INFO MEMORY used_memory)",
		},
	)

	redisMaxMemoryBytes = observability.FaucetFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "redis",
			Name:      "max_memory_bytes",
			Help:      "Configured Redis maxmemory in bytes (0 means no limit)",
		},
	)

	redisMemoryUsageRatio = observability.FaucetFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "redis",
			Name:      "memory_usage_ratio",
			Help:      "Ratio of used_memory to maxmemory (-1 if maxmemory is not set)",
		},
	)
)
