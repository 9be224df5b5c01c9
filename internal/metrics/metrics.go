// Package metrics declares the Prometheus instruments exported at /metrics.
//
// Naming convention: chatroom_<subsystem>_<name>. Gauges carry current state
// (connections), counters carry cumulative events (messages, routes), and the
// route-latency histogram covers the fan-out path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the number of registered WebSocket
	// connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatroom",
		Subsystem: "gateway",
		Name:      "connections_active",
		Help:      "Current number of registered WebSocket connections",
	})

	// MessagesSent counts messages accepted by the send pipeline.
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatroom",
		Subsystem: "message",
		Name:      "sent_total",
		Help:      "Total messages accepted by the send pipeline",
	})

	// RoutedFrames counts fan-out deliveries by outcome.
	RoutedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatroom",
		Subsystem: "router",
		Name:      "frames_total",
		Help:      "Total frames routed to connections",
	}, []string{"outcome"})

	// RouteLatency observes the time from route call to channel handoff.
	RouteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chatroom",
		Subsystem: "router",
		Name:      "route_seconds",
		Help:      "Latency of routing a frame to its target connections",
		Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
	})

	// HistoryCacheLookups counts history cache gets by outcome.
	HistoryCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatroom",
		Subsystem: "history",
		Name:      "cache_lookups_total",
		Help:      "History cache lookups by outcome",
	}, []string{"outcome"})

	// RateLimited counts rejected operations by limiter.
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatroom",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Operations rejected by a rate limiter",
	}, []string{"limiter"})
)
