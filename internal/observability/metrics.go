package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agro_freight"

var (
	ShipmentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "shipment_transitions_total", Help: "Committed shipment status changes by target status"},
		[]string{"status"},
	)
	LocationSamples = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "location_samples_total", Help: "GPS samples appended to tracking records"})

	BroadcastDeliveries = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "broadcast_deliveries_total", Help: "Messages handed to subscriber buffers"})
	BroadcastDrops      = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "broadcast_drops_total", Help: "Messages dropped because a subscriber buffer was full"})
	WSConnections       = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ws_connections", Help: "Open websocket connections"})

	RatingTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rating_tasks_total", Help: "Rating recalculation tasks by outcome"},
		[]string{"outcome"},
	)
	LifecycleEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "lifecycle_events_total", Help: "Lifecycle events handed to the event sink by outcome"},
		[]string{"outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
