package domain

import "time"

// VerificationPhase labels the two verification stages.
type VerificationPhase string

const (
	// PhaseSignature covers header decoding, key resolution and signature checks.
	PhaseSignature VerificationPhase = "signature"
	// PhaseIntegrity covers spec reference digest checks.
	PhaseIntegrity VerificationPhase = "integrity"
)

// CatalogEncoding labels how a fetched catalog body was interpreted.
type CatalogEncoding string

const (
	EncodingJWS  CatalogEncoding = "jws"
	EncodingJSON CatalogEncoding = "json"
)

// Metrics records operational metrics for the trust pipeline and invocations.
type Metrics interface {
	ObserveCatalogFetch(encoding CatalogEncoding, err error)
	ObserveKeyResolution(strategy string, err error)
	ObserveVerification(phase VerificationPhase, duration time.Duration, err error)
	ObserveIntegrityCheck(ok bool)
	ObserveInvocation(operation Operation, duration time.Duration, state CallState)
}
