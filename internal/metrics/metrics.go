// Package metrics provides Prometheus metrics for the anomaly detection server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the detection pipeline
type Metrics struct {
	// Ingest
	MessagesReceived prometheus.Counter // audio messages taken off the channel
	DecodeErrors     prometheus.Counter // messages dropped before framing
	FramesProcessed  prometheus.Counter // complete frames run through a detector

	// Detection
	Detections       *prometheus.CounterVec // verdicts by state
	ForcedFaults     prometheus.Counter     // faults raised by the safety net
	Alarms           prometheus.Counter     // transitions into the alarm state
	InferenceLatency prometheus.Histogram   // feature extraction plus classification
	Confidence       prometheus.Histogram   // classifier probability of the chosen label
	CalibratingDevs  prometheus.Gauge       // devices still learning their baseline
	FrameVolume      prometheus.Histogram   // frame level in dBFS

	// Output
	PublishDrops prometheus.Counter // decisions dropped because the publisher was busy
	StoreErrors  prometheus.Counter // failed ClickHouse writes
}

// New creates and registers all metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "anomaly_audio_messages_total",
			Help: "Total number of audio messages received",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "anomaly_decode_errors_total",
			Help: "Total number of audio messages dropped before framing",
		}),
		FramesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "anomaly_frames_processed_total",
			Help: "Total number of frames run through a detector",
		}),
		Detections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anomaly_detections_total",
			Help: "Detector verdicts by state",
		}, []string{"state"}),
		ForcedFaults: factory.NewCounter(prometheus.CounterOpts{
			Name: "anomaly_forced_faults_total",
			Help: "Faults raised by the low band safety net",
		}),
		Alarms: factory.NewCounter(prometheus.CounterOpts{
			Name: "anomaly_alarms_total",
			Help: "Total number of transitions into the alarm state",
		}),
		InferenceLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "anomaly_inference_latency_seconds",
			Help:    "Feature extraction and classification latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
		}),
		Confidence: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "anomaly_prediction_confidence",
			Help:    "Distribution of classifier confidence scores",
			Buckets: prometheus.LinearBuckets(0.5, 0.05, 11),
		}),
		CalibratingDevs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "anomaly_calibrating_devices",
			Help: "Number of devices still learning their baseline",
		}),
		FrameVolume: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "anomaly_frame_volume_dbfs",
			Help:    "Frame level in dBFS",
			Buckets: prometheus.LinearBuckets(-80, 10, 9),
		}),
		PublishDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "anomaly_publish_drops_total",
			Help: "Decisions dropped because the publisher channel was full",
		}),
		StoreErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "anomaly_store_errors_total",
			Help: "Total number of failed detection writes",
		}),
	}
}

// ObserveDetection records one detector verdict.
func (m *Metrics) ObserveDetection(state string, forced bool, confidence float64) {
	m.Detections.WithLabelValues(state).Inc()
	if forced {
		m.ForcedFaults.Inc()
	}
	if confidence > 0 {
		m.Confidence.Observe(confidence)
	}
}
