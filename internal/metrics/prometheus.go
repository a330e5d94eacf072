package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice clone service
type Metrics struct {
	// Clone pipeline metrics
	CloneRequests  *prometheus.CounterVec
	CloneDuration  prometheus.Histogram
	StageDuration  *prometheus.HistogramVec
	ActiveRequests prometheus.Gauge
	UploadSize     prometheus.Histogram

	// Reference audio metrics
	ReferenceDuration    prometheus.Histogram
	ReferenceSpeechRatio prometheus.Histogram

	// Engine metrics
	ModelLoads        *prometheus.CounterVec
	ModelLoadDuration prometheus.Histogram
	EngineLoaded      prometheus.Gauge
	ClipDuration      prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all Prometheus metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Clone pipeline metrics
		CloneRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_clone_requests_total",
			Help: "Total number of clone requests by outcome",
		}, []string{"outcome"}),
		CloneDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_clone_request_duration_seconds",
			Help:    "End-to-end duration of clone requests",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2 minutes
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_clone_stage_duration_seconds",
			Help:    "Duration of each clone pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		}, []string{"stage"}),
		ActiveRequests: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voice_clone_active_requests",
			Help: "Current number of clone requests in progress",
		}),
		UploadSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_clone_upload_size_bytes",
			Help:    "Size of uploaded reference recordings",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 11), // 16KB to ~16MB
		}),

		// Reference audio metrics
		ReferenceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_clone_reference_duration_seconds",
			Help:    "Duration of normalized reference recordings",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1s to ~2 minutes
		}),
		ReferenceSpeechRatio: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_clone_reference_speech_ratio",
			Help:    "Share of voiced windows in reference recordings",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),

		// Engine metrics
		ModelLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_clone_model_loads_total",
			Help: "Total number of model load attempts by result",
		}, []string{"result"}),
		ModelLoadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_clone_model_load_duration_seconds",
			Help:    "Duration of model loads",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 500ms to ~4 minutes
		}),
		EngineLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voice_clone_engine_loaded",
			Help: "Whether the synthesis engine is loaded (1) or not (0)",
		}),
		ClipDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_clone_clip_duration_seconds",
			Help:    "Duration of delivered clips including trailing silence",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1s to ~2 minutes
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_clone_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_clone_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_clone_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordCloneStarted increments the active requests gauge and observes the upload size
func (m *Metrics) RecordCloneStarted(uploadBytes int) {
	m.ActiveRequests.Inc()
	m.UploadSize.Observe(float64(uploadBytes))
}

// RecordCloneFinished records the outcome of a clone request
func (m *Metrics) RecordCloneFinished(outcome string, duration time.Duration) {
	m.ActiveRequests.Dec()
	m.CloneRequests.WithLabelValues(outcome).Inc()
	m.CloneDuration.Observe(duration.Seconds())
}

// RecordStage records the duration of a pipeline stage
func (m *Metrics) RecordStage(stage string, duration time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordReference records properties of a normalized reference recording
func (m *Metrics) RecordReference(duration time.Duration, speechRatio float64) {
	m.ReferenceDuration.Observe(duration.Seconds())
	m.ReferenceSpeechRatio.Observe(speechRatio)
}

// RecordModelLoad records a model load attempt
func (m *Metrics) RecordModelLoad(duration time.Duration, err error) {
	m.ModelLoadDuration.Observe(duration.Seconds())
	if err != nil {
		m.ModelLoads.WithLabelValues("failure").Inc()
		m.EngineLoaded.Set(0)
		return
	}
	m.ModelLoads.WithLabelValues("success").Inc()
	m.EngineLoaded.Set(1)
}

// RecordClip records a delivered clip
func (m *Metrics) RecordClip(duration time.Duration) {
	m.ClipDuration.Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
