package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registrations by entity (instrument|pool|venue|link) and result.
	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_registrations_total",
			Help: "Registration attempts by entity and result.",
		},
		[]string{"entity", "result"}, // result = "created" | "idempotent" | "collision" | "duplicate" | "unknown_ref" | "invalid"
	)

	// Lookups by index and result.
	LookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_lookups_total",
			Help: "Index lookups by index name and result.",
		},
		[]string{"index", "result"}, // result = "hit" | "miss"
	)

	// Hash collisions detected on instrument, pool or venue registration.
	CollisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_hash_collisions_total",
			Help: "Distinct content hashed to an identifier already in use.",
		},
		[]string{"entity"},
	)

	// Set to 1 while the collision rate is above the alert threshold.
	IDSpaceAlert = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_id_space_alert",
			Help: "1 when the collision rate indicates the id width is undersized.",
		},
	)

	EntityCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_entities",
			Help: "Registered entities by kind.",
		},
		[]string{"entity"},
	)

	// Wire frames processed by direction (encode|decode|apply), type and result.
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_frames_total",
			Help: "Wire frames processed.",
		},
		[]string{"direction", "type", "result"},
	)

	CodecErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_codec_errors_total",
			Help: "Wire decode rejections by reason.",
		},
		[]string{"reason"},
	)

	FrameApplyLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registry_frame_apply_seconds",
			Help:    "Time taken to decode and apply a replicated frame.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs → ~160ms
		},
		[]string{"type"},
	)

	RegistrationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registry_registration_seconds",
			Help:    "Time taken by a local Register* call, by entity.",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 15), // 1µs → ~16ms
		},
		[]string{"entity"},
	)

	// Sink publishes by sink and result.
	SinkPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_sink_publish_total",
			Help: "Frames handed to transport sinks.",
		},
		[]string{"sink", "result"},
	)

	SinkLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registry_sink_publish_seconds",
			Help:    "Time taken to hand one frame to a sink.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)

	// Jobs runs by job name and result.
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_job_runs_total",
			Help: "Background job runs.",
		},
		[]string{"job", "result"},
	)

	// HTTP requests served by route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_http_requests_total",
			Help: "Read API requests by route and status code.",
		},
		[]string{"route", "status"},
	)

	PendingFrames = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_replication_pending_frames",
			Help: "Replicated frames parked until their prerequisites arrive.",
		},
	)
)

// ObserveDuration records the time since start on the given histogram.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	default:
		// silently ignore counters; they're not meant for duration tracking
	}
}

func IncRegistration(entity, result string) {
	RegistrationsTotal.WithLabelValues(entity, result).Inc()
}

func IncLookup(index string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	LookupsTotal.WithLabelValues(index, result).Inc()
}

func IncCollision(entity string) {
	CollisionsTotal.WithLabelValues(entity).Inc()
}

func SetIDSpaceAlert(on bool) {
	if on {
		IDSpaceAlert.Set(1)
		return
	}
	IDSpaceAlert.Set(0)
}

func SetEntityCount(entity string, n int) {
	EntityCount.WithLabelValues(entity).Set(float64(n))
}

func IncFrame(direction, frameType, result string) {
	FramesTotal.WithLabelValues(direction, frameType, result).Inc()
}

func IncCodecError(reason string) {
	CodecErrorsTotal.WithLabelValues(reason).Inc()
}

func IncSinkPublish(sink, result string) {
	SinkPublishTotal.WithLabelValues(sink, result).Inc()
}

func SetPending(n int) {
	PendingFrames.Set(float64(n))
}

func IncJobRun(job, result string) {
	JobRunsTotal.WithLabelValues(job, result).Inc()
}

func IncHTTPRequest(route string, status int) {
	HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
