// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// SocketConnectionsActive tracks open realtime connections.
	SocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_socket_connections_active",
			Help: "Number of open realtime connections",
		},
	)

	// SocketAuthRejections tracks connections refused by the gate.
	SocketAuthRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_socket_auth_rejections_total",
			Help: "Realtime connection attempts rejected during authentication",
		},
		[]string{"reason"},
	)

	// SocketSlowConsumers tracks connections closed because their outbound queue overflowed.
	SocketSlowConsumers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_socket_slow_consumers_total",
			Help: "Connections closed due to a full outbound queue",
		},
	)

	// ClientEventsTotal tracks inbound client events.
	ClientEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_client_events_total",
			Help: "Inbound client events by name",
		},
		[]string{"event"},
	)

	// BroadcastsTotal tracks events published to rooms.
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_broadcasts_total",
			Help: "Events published to rooms",
		},
		[]string{"event", "result"},
	)

	// CoreAPIDuration tracks latency of calls to the core API.
	CoreAPIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_core_api_duration_seconds",
			Help:    "Core API call duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "outcome"},
	)

	// NotificationsTotal tracks inbound webhook notifications.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_notifications_total",
			Help: "Webhook notifications by kind and result",
		},
		[]string{"kind", "result"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordCoreAPICall records the latency and outcome of a core API call.
func RecordCoreAPICall(operation string, err error, duration float64) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	CoreAPIDuration.WithLabelValues(operation, outcome).Observe(duration)
}

// RecordBroadcast records a room publish attempt.
func RecordBroadcast(event string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	BroadcastsTotal.WithLabelValues(event, result).Inc()
}

// IncrementSocketConnections increments the open connection count.
func IncrementSocketConnections() {
	SocketConnectionsActive.Inc()
}

// DecrementSocketConnections decrements the open connection count.
func DecrementSocketConnections() {
	SocketConnectionsActive.Dec()
}
