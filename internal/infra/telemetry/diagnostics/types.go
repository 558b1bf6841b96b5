package diagnostics

import "time"

// EventPhase describes the lifecycle phase of a diagnostics event.
type EventPhase string

const (
	// PhaseEnter indicates a step has started.
	PhaseEnter EventPhase = "enter"
	// PhaseExit indicates a step has completed successfully.
	PhaseExit EventPhase = "exit"
	// PhaseError indicates a step failed with an error.
	PhaseError EventPhase = "error"
)

const (
	StepCatalogFetch     = "catalog_fetch"
	StepKeyResolve       = "key_resolve"
	StepKeyStrategy      = "key_strategy"
	StepSignatureVerify  = "signature_verify"
	StepIntegrityCheck   = "integrity_check"
	StepPlaceholderFound = "placeholder_digest"
)

// Event captures a single trust-pipeline observation.
type Event struct {
	Origin    string
	Step      string
	Phase     EventPhase
	Strategy  string
	Tool      string
	Timestamp time.Time
	Duration  time.Duration
	Error     string
}

// Probe records diagnostics events. Implementations must not block.
type Probe interface {
	Record(event Event)
}

// NoopProbe ignores all diagnostics events.
type NoopProbe struct{}

func (NoopProbe) Record(Event) {}

// OrNoop returns p, or a NoopProbe when p is nil.
func OrNoop(p Probe) Probe {
	if p == nil {
		return NoopProbe{}
	}
	return p
}

// ErrorString returns err's message or "" when err is nil.
func ErrorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
