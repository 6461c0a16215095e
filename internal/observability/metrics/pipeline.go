package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/avolkov/document-intel-engine/internal/core/domain"
)

// PipelineMetrics observes classification pipeline outcomes. Recording
// happens at the edges (the process use case and the sync HTTP path),
// never inside the pipeline itself.
type PipelineMetrics struct {
	service string

	runsTotal           *prometheus.CounterVec
	methodTotal         *prometheus.CounterVec
	escalationsTotal    *prometheus.CounterVec
	fallbackUnavailable *prometheus.CounterVec
	validationTotal     *prometheus.CounterVec
	confidence          *prometheus.HistogramVec
	duration            *prometheus.HistogramVec
}

// NewPipelineMetrics registers the pipeline collectors on the given
// registry so they share a scrape endpoint with the host process.
func NewPipelineMetrics(registry *prometheus.Registry, service string) *PipelineMetrics {
	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docintel",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total pipeline runs by result.",
		},
		[]string{"service", "result"},
	)
	methodTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docintel",
			Subsystem: "pipeline",
			Name:      "classification_method_total",
			Help:      "Completed classifications by method and category.",
		},
		[]string{"service", "method", "category"},
	)
	escalationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docintel",
			Subsystem: "pipeline",
			Name:      "escalations_total",
			Help:      "Total classifications escalated below threshold.",
		},
		[]string{"service"},
	)
	fallbackUnavailable := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docintel",
			Subsystem: "pipeline",
			Name:      "fallback_unavailable_total",
			Help:      "Total escalations that found no usable fallback.",
		},
		[]string{"service"},
	)
	validationTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docintel",
			Subsystem: "pipeline",
			Name:      "validation_outcome_total",
			Help:      "Validation outcomes by status.",
		},
		[]string{"service", "status"},
	)
	confidence := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docintel",
			Subsystem: "pipeline",
			Name:      "classification_confidence",
			Help:      "Distribution of final confidence scores.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"service", "method"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docintel",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Pipeline run duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "result"},
	)

	registry.MustRegister(
		runsTotal,
		methodTotal,
		escalationsTotal,
		fallbackUnavailable,
		validationTotal,
		confidence,
		duration,
	)

	return &PipelineMetrics{
		service:             service,
		runsTotal:           runsTotal,
		methodTotal:         methodTotal,
		escalationsTotal:    escalationsTotal,
		fallbackUnavailable: fallbackUnavailable,
		validationTotal:     validationTotal,
		confidence:          confidence,
		duration:            duration,
	}
}

func (m *PipelineMetrics) ObserveRun(rec *domain.PipelineRecord) {
	result := "completed"
	if rec.Failed() {
		result = "failed"
	}
	m.runsTotal.WithLabelValues(m.service, result).Inc()
	m.duration.WithLabelValues(m.service, result).Observe(rec.Duration.Seconds())

	if rec.Failed() {
		return
	}

	m.methodTotal.WithLabelValues(m.service, string(rec.Method), rec.Category).Inc()
	m.confidence.WithLabelValues(m.service, string(rec.Method)).Observe(rec.Confidence)
	m.validationTotal.WithLabelValues(m.service, string(rec.ValidationStatus)).Inc()

	if rec.EscalationReason != "" {
		m.escalationsTotal.WithLabelValues(m.service).Inc()
	}
	if rec.FallbackUnavailable {
		m.fallbackUnavailable.WithLabelValues(m.service).Inc()
	}
}
