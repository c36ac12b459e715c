package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exports consensus evaluation metrics to Prometheus.
type Recorder struct {
	evaluations *prometheus.CounterVec
	sourceFails *prometheus.CounterVec
	cacheHits   *prometheus.CounterVec
	confidence  *prometheus.GaugeVec
	latency     *prometheus.HistogramVec
}

// New registers the recorder on the default registry. Call it once per
// process.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		evaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consensus_evaluations_total",
				Help: "Consensus evaluations by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		sourceFails: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consensus_source_failures_total",
				Help: "Source fetches that failed or timed out",
			},
			[]string{"source"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consensus_forecast_cache_total",
				Help: "Forecast cache lookups by result",
			},
			[]string{"result"},
		),
		confidence: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "consensus_last_confidence",
				Help: "Confidence of the latest consensus per instrument",
			},
			[]string{"instrument"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "consensus_operation_duration_seconds",
				Help:    "Duration of consensus operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordEvaluation(mode, outcome string) {
	r.evaluations.WithLabelValues(mode, outcome).Inc()
}

func (r *Recorder) RecordSourceFailure(source string) {
	r.sourceFails.WithLabelValues(source).Inc()
}

// RecordCache records a forecast cache lookup; hit is false on a miss.
func (r *Recorder) RecordCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheHits.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordConfidence(instrument string, confidence float64) {
	r.confidence.WithLabelValues(instrument).Set(confidence)
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
