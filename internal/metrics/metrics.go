package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Define all Prometheus metrics
var (
	// Active connections gauge
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtmp_ingest_active_connections",
		Help: "Number of active RTMP ingest connections",
	})

	// Total connections counter
	TotalConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtmp_ingest_connections_total",
		Help: "Total number of RTMP connections accepted",
	}, []string{"status"})

	// Bytes transferred counter
	BytesTransferred = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtmp_ingest_bytes_total",
		Help: "Total bytes read off the wire",
	}, []string{"direction"})

	// Connection duration histogram
	ConnectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rtmp_ingest_connection_duration_seconds",
		Help:    "Connection duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to 512s
	})

	// Frames ingested counter, labeled by media type (audio/video)
	FramesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtmp_ingest_frames_total",
		Help: "Total audio/video frames accepted from publishers",
	}, []string{"media_type"})

	// Published streams gauge
	PublishedStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtmp_ingest_published_streams",
		Help: "Number of streams currently being published",
	})

	// Rate limit rejections counter
	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtmp_ingest_rate_limit_rejections_total",
		Help: "Total connections rejected by rate limiting",
	})

	// Connection limit rejections counter
	ConnectionLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtmp_ingest_connection_limit_rejections_total",
		Help: "Total connections rejected by connection limits",
	})

	// Authentication failures counter
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtmp_ingest_auth_failures_total",
		Help: "Total authentication failures",
	})

	// Callback circuit breaker trips counter
	CallbackBreakerTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtmp_ingest_callback_breaker_trips_total",
		Help: "Total times a subscriber callback was suppressed by the circuit breaker",
	})
)

// RecordConnectionStart records when a connection starts
func RecordConnectionStart() {
	ActiveConnections.Inc()
	TotalConnections.WithLabelValues("started").Inc()
}

// RecordConnectionSuccess records when a connection completes successfully
func RecordConnectionSuccess() {
	ActiveConnections.Dec()
	TotalConnections.WithLabelValues("success").Inc()
}

// RecordConnectionError records when a connection ends with error
func RecordConnectionError() {
	ActiveConnections.Dec()
	TotalConnections.WithLabelValues("error").Inc()
}

// RecordBytesTransferred records bytes transferred in a direction
func RecordBytesTransferred(direction string, bytes int64) {
	BytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

// RecordFrameIngested records one accepted audio or video message.
func RecordFrameIngested(mediaType string) {
	FramesIngested.WithLabelValues(mediaType).Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection() {
	RateLimitRejections.Inc()
}

// RecordConnectionLimitRejection records a connection limit rejection
func RecordConnectionLimitRejection() {
	ConnectionLimitRejections.Inc()
}

// RecordAuthFailure records an authentication failure
func RecordAuthFailure() {
	AuthFailures.Inc()
}

// RecordCallbackBreakerTrip records a callback invocation suppressed while
// the shared circuit breaker is open.
func RecordCallbackBreakerTrip() {
	CallbackBreakerTrips.Inc()
}
