package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablechat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tablechat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// WebSocket metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tablechat_ws_connections",
			Help: "Currently open WebSocket connections",
		},
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tablechat_ws_subscriptions",
			Help: "Currently active topic subscriptions",
		},
	)

	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablechat_events_delivered_total",
			Help: "Events fanned out to connections",
		},
		[]string{"kind"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablechat_events_dropped_total",
			Help: "Events dropped because a connection's send buffer was full",
		},
		[]string{"kind"},
	)

	// Business metrics
	MessagesPosted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tablechat_messages_posted_total",
			Help: "Total chat messages posted",
		},
	)

	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tablechat_rooms_created_total",
			Help: "Total rooms created",
		},
	)

	MarkReadRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tablechat_mark_read_total",
			Help: "Total mark-as-read requests",
		},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tablechat_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)
