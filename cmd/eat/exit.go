package main

import "eat/internal/domain"

type exitError struct {
	code    int
	message string
	silent  bool
}

func (e exitError) Error() string {
	return e.message
}

func exitSilent(code int) error {
	return exitError{code: code, silent: true}
}

const (
	exitFailure       = 1
	exitUsage         = 2
	exitTransport     = 3
	exitUntrusted     = 4
	exitRemote        = 5
)

// exitCodeFor groups failures so scripts can tell a bad config from an
// untrusted catalog without parsing messages.
func exitCodeFor(err error) int {
	code, ok := domain.CodeFrom(err)
	if !ok {
		return exitFailure
	}
	switch code {
	case domain.CodeConfiguration, domain.CodeUnsupportedOperation:
		return exitUsage
	case domain.CodeTransport:
		return exitTransport
	case domain.CodeKeyResolution, domain.CodeSignature, domain.CodeIntegrity, domain.CodeInvalidCatalog:
		return exitUntrusted
	case domain.CodeRemoteTool, domain.CodeProtocolViolation:
		return exitRemote
	default:
		return exitFailure
	}
}
