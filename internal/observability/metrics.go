package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "visage",
		Name:      "faces_detected_total",
		Help:      "Total number of raw face detections returned by the embedding source",
	})

	GateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visage",
		Name:      "gate_rejections_total",
		Help:      "Images that yielded no usable face, by reason",
	}, []string{"reason"})

	MatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visage",
		Name:      "match_outcomes_total",
		Help:      "Matching results by outcome",
	}, []string{"outcome"})

	MatchDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "visage",
		Name:      "match_distance",
		Help:      "Best L2 distance per match query",
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 14),
	})

	Enrollments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visage",
		Name:      "enrollments_total",
		Help:      "Encodings enrolled, by kind (new, additional, deduplicated)",
	}, []string{"kind"})

	Sightings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "visage",
		Name:      "sightings_total",
		Help:      "Recognized sightings recorded",
	})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "visage",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "visage",
		Name:      "queue_depth",
		Help:      "Number of pending capture tasks in queue",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "visage",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "visage",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)
