package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "qlive",
		Name:      "sessions_active",
		Help:      "Number of live game sessions.",
	})

	ConnectionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "qlive",
		Name:      "connections_active",
		Help:      "Open websocket connections by role.",
	}, []string{"role"})

	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qlive",
		Name:      "submissions_total",
		Help:      "Answer submissions by outcome.",
	}, []string{"outcome"})

	BroadcastsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "qlive",
		Name:      "broadcasts_dropped_total",
		Help:      "Broadcast frames dropped because a client could not keep up.",
	})
)
