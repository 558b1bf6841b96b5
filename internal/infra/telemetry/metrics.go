package telemetry

import (
	"time"

	"eat/internal/domain"
)

type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) ObserveCatalogFetch(_ domain.CatalogEncoding, _ error) {}

func (n *NoopMetrics) ObserveKeyResolution(_ string, _ error) {}

func (n *NoopMetrics) ObserveVerification(_ domain.VerificationPhase, _ time.Duration, _ error) {}

func (n *NoopMetrics) ObserveIntegrityCheck(_ bool) {}

func (n *NoopMetrics) ObserveInvocation(_ domain.Operation, _ time.Duration, _ domain.CallState) {}

var _ domain.Metrics = (*NoopMetrics)(nil)

// OrNoop returns m, or NoopMetrics when m is nil.
func OrNoop(m domain.Metrics) domain.Metrics {
	if m == nil {
		return NewNoopMetrics()
	}
	return m
}
