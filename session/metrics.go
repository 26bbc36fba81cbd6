package session

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pokt-network/pocket-faucet/observability"
)

const (
	metricsNamespace = "faucet"
	metricsSubsystem = "session"
)

var (
	sessionsCreated = observability.FaucetFactory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "created_total",
			Help:      "Total number of sessions created",
		},
	)

	sessionTransitions = observability.FaucetFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "transitions_total",
			Help:      "Total number of session status transitions",
		},
		[]string{"from", "to"},
	)

	sessionFailures = observability.FaucetFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "failures_total",
			Help:      "Total number of failed sessions by failure code",
		},
		[]string{"code"},
	)

	activeSessions = observability.FaucetFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "active",
			Help:      "Number of non-terminal sessions held in memory",
		},
	)
)
