// Package metrics provides Prometheus metrics for the recognizer and trainer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lipread"

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Transcription metrics
	TranscriptionsTotal *prometheus.CounterVec
	StageLatency        *prometheus.HistogramVec
	FramesRead          prometheus.Histogram

	// Model metrics
	CheckpointLoads *prometheus.CounterVec
	ModelSwaps      prometheus.Counter

	// Training metrics
	TrainingEpoch   prometheus.Gauge
	TrainingLoss    *prometheus.GaugeVec
	TrainingCER     prometheus.Gauge
	ExamplesSkipped *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is registered on the default Prometheus registry.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TranscriptionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Total number of transcriptions by outcome",
		}, []string{"status"}),
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_seconds",
			Help:      "Latency of each pipeline stage in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"stage"}),
		FramesRead: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frames_read",
			Help:      "Frames decoded per video",
			Buckets:   []float64{0, 10, 25, 50, 74, 75, 100, 150},
		}),

		CheckpointLoads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_loads_total",
			Help:      "Checkpoint load attempts by result",
		}, []string{"result"}),
		ModelSwaps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_swaps_total",
			Help:      "Number of times the served model was replaced",
		}),

		TrainingEpoch: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "training_epoch",
			Help:      "Last completed training epoch",
		}),
		TrainingLoss: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "training_loss",
			Help:      "Mean CTC loss of the last epoch",
		}, []string{"split"}),
		TrainingCER: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "training_cer",
			Help:      "Held-out character error rate of the last epoch",
		}),
		ExamplesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "examples_skipped_total",
			Help:      "Training examples skipped while loading",
		}, []string{"reason"}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordTranscription records one finished transcription.
func (m *Metrics) RecordTranscription(status string, framesRead int) {
	m.TranscriptionsTotal.WithLabelValues(status).Inc()
	m.FramesRead.Observe(float64(framesRead))
}

// ObserveStage records the latency of one pipeline stage.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	m.StageLatency.WithLabelValues(stage).Observe(seconds)
}

// RecordCheckpointLoad records a checkpoint load attempt.
func (m *Metrics) RecordCheckpointLoad(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CheckpointLoads.WithLabelValues(result).Inc()
}

// RecordModelSwap records a hot swap of the served model.
func (m *Metrics) RecordModelSwap() {
	m.ModelSwaps.Inc()
}

// RecordEpoch records the statistics of a finished training epoch.
func (m *Metrics) RecordEpoch(epoch int, trainLoss, valLoss, cer float64) {
	m.TrainingEpoch.Set(float64(epoch))
	m.TrainingLoss.WithLabelValues("train").Set(trainLoss)
	m.TrainingLoss.WithLabelValues("validation").Set(valLoss)
	m.TrainingCER.Set(cer)
}

// RecordExampleSkipped records a training example dropped during loading.
func (m *Metrics) RecordExampleSkipped(reason string) {
	m.ExamplesSkipped.WithLabelValues(reason).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
