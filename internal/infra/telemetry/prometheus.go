package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"eat/internal/domain"
)

type PrometheusMetrics struct {
	catalogFetches       *prometheus.CounterVec
	keyResolutions       *prometheus.CounterVec
	verificationDuration *prometheus.HistogramVec
	integrityChecks      *prometheus.CounterVec
	invocationDuration   *prometheus.HistogramVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		catalogFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eat_catalog_fetches_total",
				Help: "Total number of catalog fetches by encoding and outcome",
			},
			[]string{"encoding", "status"},
		),
		keyResolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eat_key_resolution_attempts_total",
				Help: "Total number of key resolution strategy attempts",
			},
			[]string{"strategy", "status"},
		),
		verificationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eat_verification_duration_seconds",
				Help:    "Duration of catalog verification phases in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"phase", "status"},
		),
		integrityChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eat_integrity_checks_total",
				Help: "Total number of spec reference digest checks",
			},
			[]string{"status"},
		),
		invocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eat_invocation_duration_seconds",
				Help:    "Duration of tool invocations in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation", "state"},
		),
	}
}

func (p *PrometheusMetrics) ObserveCatalogFetch(encoding domain.CatalogEncoding, err error) {
	p.catalogFetches.WithLabelValues(string(encoding), statusLabel(err)).Inc()
}

func (p *PrometheusMetrics) ObserveKeyResolution(strategy string, err error) {
	p.keyResolutions.WithLabelValues(strategy, statusLabel(err)).Inc()
}

func (p *PrometheusMetrics) ObserveVerification(phase domain.VerificationPhase, duration time.Duration, err error) {
	p.verificationDuration.WithLabelValues(string(phase), statusLabel(err)).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveIntegrityCheck(ok bool) {
	status := "success"
	if !ok {
		status = "mismatch"
	}
	p.integrityChecks.WithLabelValues(status).Inc()
}

func (p *PrometheusMetrics) ObserveInvocation(operation domain.Operation, duration time.Duration, state domain.CallState) {
	p.invocationDuration.WithLabelValues(string(operation), string(state)).Observe(duration.Seconds())
}

func statusLabel(err error) string {
	if err == nil {
		return "success"
	}
	if code, ok := domain.CodeFrom(err); ok {
		return string(code)
	}
	return "error"
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
