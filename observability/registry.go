package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FaucetRegistry holds every faucet metric.
	FaucetRegistry = prometheus.NewRegistry()

	// FaucetFactory registers metrics into FaucetRegistry.
	FaucetFactory = promauto.With(FaucetRegistry)
)

// Gatherers combines the faucet registry with the default registry, which
// carries the Go runtime and process collectors and the panic counter.
func Gatherers() prometheus.Gatherer {
	return prometheus.Gatherers{FaucetRegistry, prometheus.DefaultGatherer}
}
