// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "meet_transcription"

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	// Audio metrics
	FramesReceived   prometheus.Counter
	FramesEmpty      prometheus.Counter
	SamplesResampled prometheus.Counter
	ChunksSent       prometheus.Counter
	ChunkBytesSent   prometheus.Counter
	ChunksDropped    *prometheus.CounterVec

	// Recognition session metrics
	Reconnects      prometheus.Counter
	ConnectFailures *prometheus.CounterVec
	StreamErrors    prometheus.Counter

	// Transcript metrics
	ResultsInterim    prometheus.Counter
	ResultsFinal      prometheus.Counter
	SegmentsPublished prometheus.Counter
	WatermarkSeconds  prometheus.Gauge

	// Speaker metrics
	SpeakerEvents *prometheus.CounterVec

	// Stream publish metrics
	PublishTotal   *prometheus.CounterVec
	PublishErrors  *prometheus.CounterVec
	PublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		FramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total audio frames received from the capture source",
		}),
		FramesEmpty: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_empty_total",
			Help:      "Total zero-length audio frames dropped",
		}),
		SamplesResampled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_resampled_total",
			Help:      "Total source samples fed through the resampler",
		}),
		ChunksSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_sent_total",
			Help:      "Total PCM chunks transmitted to the recognition backend",
		}),
		ChunkBytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_bytes_sent_total",
			Help:      "Total PCM bytes transmitted to the recognition backend",
		}),
		ChunksDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dropped_total",
			Help:      "Total PCM chunks dropped instead of queued",
		}, []string{"reason"}),

		Reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total backend stream reconnect cycles",
		}),
		ConnectFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_failures_total",
			Help:      "Total backend connect attempts that failed",
		}, []string{"kind"}),
		StreamErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_errors_total",
			Help:      "Total backend-reported stream errors",
		}),

		ResultsInterim: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_interim_total",
			Help:      "Total interim recognition results received",
		}),
		ResultsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_final_total",
			Help:      "Total final recognition results received",
		}),
		SegmentsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_published_total",
			Help:      "Total transcript segments published",
		}),
		WatermarkSeconds: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watermark_seconds",
			Help:      "Current session transcript watermark in seconds",
		}),

		SpeakerEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speaker_events_total",
			Help:      "Total speaker state transition events emitted",
		}, []string{"type"}),

		PublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_publish_total",
			Help:      "Total entries appended to the message stream",
		}, []string{"topic", "event_type"}),
		PublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_publish_errors_total",
			Help:      "Total message stream publish failures",
		}, []string{"topic", "event_type"}),
		PublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_publish_latency_seconds",
			Help:      "Message stream publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordFrame records a capture frame arriving with the given sample count.
func (m *Metrics) RecordFrame(samples int) {
	m.FramesReceived.Inc()
	if samples == 0 {
		m.FramesEmpty.Inc()
		return
	}
	m.SamplesResampled.Add(float64(samples))
}

// RecordChunkSent records a PCM chunk transmitted to the backend.
func (m *Metrics) RecordChunkSent(bytes int) {
	m.ChunksSent.Inc()
	m.ChunkBytesSent.Add(float64(bytes))
}

// RecordChunkDropped records a chunk dropped instead of queued.
func (m *Metrics) RecordChunkDropped(reason string) {
	m.ChunksDropped.WithLabelValues(reason).Inc()
}

// RecordReconnect records one reconnect cycle.
func (m *Metrics) RecordReconnect() {
	m.Reconnects.Inc()
}

// RecordConnectFailure records a failed connect attempt.
func (m *Metrics) RecordConnectFailure(kind string) {
	m.ConnectFailures.WithLabelValues(kind).Inc()
}

// RecordStreamError records a backend-reported stream error.
func (m *Metrics) RecordStreamError() {
	m.StreamErrors.Inc()
}

// RecordResult records a recognition result received from the backend.
func (m *Metrics) RecordResult(isFinal bool) {
	if isFinal {
		m.ResultsFinal.Inc()
	} else {
		m.ResultsInterim.Inc()
	}
}

// RecordSegment records a published segment and the new watermark.
func (m *Metrics) RecordSegment(watermarkSec float64) {
	m.SegmentsPublished.Inc()
	m.WatermarkSeconds.Set(watermarkSec)
}

// RecordSpeakerEvent records an emitted speaker transition.
func (m *Metrics) RecordSpeakerEvent(eventType string) {
	m.SpeakerEvents.WithLabelValues(eventType).Inc()
}

// RecordPublish records a message stream publish attempt.
func (m *Metrics) RecordPublish(topic, eventType string, err error, latencySeconds float64) {
	m.PublishTotal.WithLabelValues(topic, eventType).Inc()
	m.PublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.PublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
