package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomhub_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomhub_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Hub metrics
	ChannelsAttached = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomhub_channels_attached",
			Help: "Channels currently attached to a room",
		},
	)

	FramesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomhub_frames_delivered_total",
			Help: "Update frames queued for delivery to a channel",
		},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomhub_frames_dropped_total",
			Help: "Update frames not delivered to an eligible channel",
		},
		[]string{"reason"}, // "closed", "overflow_close", "overflow_drop"
	)

	// Lifecycle metrics
	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomhub_rooms_created_total",
			Help: "Total rooms created",
		},
	)

	UpdatesSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomhub_updates_submitted_total",
			Help: "Total updates submitted",
		},
		[]string{"transport"},
	)

	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomhub_store_latency_seconds",
			Help:    "Snapshot store operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"op"},
	)
)
