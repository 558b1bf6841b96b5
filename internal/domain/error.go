package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeTransport            ErrorCode = "TRANSPORT"
	CodeKeyResolution        ErrorCode = "KEY_RESOLUTION"
	CodeSignature            ErrorCode = "SIGNATURE"
	CodeIntegrity            ErrorCode = "INTEGRITY"
	CodeNotFetched           ErrorCode = "NOT_FETCHED"
	CodeConfiguration        ErrorCode = "CONFIGURATION"
	CodeRemoteTool           ErrorCode = "REMOTE_TOOL"
	CodeProtocolViolation    ErrorCode = "PROTOCOL_VIOLATION"
	CodeInvalidCatalog       ErrorCode = "INVALID_CATALOG"
	CodeUnsupportedOperation ErrorCode = "UNSUPPORTED_OPERATION"
)

// Sentinels matched by errors.Is against any *Error carrying the same code.
var (
	ErrTransport            = errors.New("transport error")
	ErrKeyResolution        = errors.New("key resolution failed")
	ErrSignature            = errors.New("signature verification failed")
	ErrIntegrity            = errors.New("content integrity check failed")
	ErrNotFetched           = errors.New("catalog not fetched")
	ErrConfiguration        = errors.New("configuration error")
	ErrRemoteTool           = errors.New("remote tool error")
	ErrProtocolViolation    = errors.New("protocol violation")
	ErrInvalidCatalog       = errors.New("invalid catalog")
	ErrUnsupportedOperation = errors.New("unsupported operation")
)

var codeSentinels = map[ErrorCode]error{
	CodeTransport:            ErrTransport,
	CodeKeyResolution:        ErrKeyResolution,
	CodeSignature:            ErrSignature,
	CodeIntegrity:            ErrIntegrity,
	CodeNotFetched:           ErrNotFetched,
	CodeConfiguration:        ErrConfiguration,
	CodeRemoteTool:           ErrRemoteTool,
	CodeProtocolViolation:    ErrProtocolViolation,
	CodeInvalidCatalog:       ErrInvalidCatalog,
	CodeUnsupportedOperation: ErrUnsupportedOperation,
}

// Meta keys used on integrity failures.
const (
	MetaTool    = "tool"
	MetaSpecURL = "specUrl"
)

type Error struct {
	Code      ErrorCode
	Op        string
	Message   string
	Cause     error
	Retryable bool
	Meta      map[string]string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is the sentinel for this error's code.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	sentinel, ok := codeSentinels[e.Code]
	return ok && sentinel == target
}

func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: msg,
		Cause:   cause,
	}
}

func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op != "" || op == "" {
			return existing
		}
		return &Error{
			Code:      existing.Code,
			Op:        op,
			Message:   existing.Message,
			Cause:     existing.Cause,
			Retryable: existing.Retryable,
			Meta:      existing.Meta,
		}
	}
	return E(code, op, "", err)
}

// TransportError marks a network or timeout failure. The caller may retry.
func TransportError(op string, cause error) *Error {
	err := E(CodeTransport, op, "", cause)
	err.Retryable = true
	return err
}

func KeyResolutionError(op, msg string, cause error) *Error {
	return E(CodeKeyResolution, op, msg, cause)
}

func SignatureError(op, msg string, cause error) *Error {
	return E(CodeSignature, op, msg, cause)
}

// IntegrityError names the record whose referenced document failed its digest check.
func IntegrityError(op, toolID, specURL string) *Error {
	err := E(CodeIntegrity, op, fmt.Sprintf("spec digest mismatch for tool %q (%s)", toolID, specURL), nil)
	err.Meta = map[string]string{
		MetaTool:    toolID,
		MetaSpecURL: specURL,
	}
	return err
}

func NotFetchedError(op string) *Error {
	return E(CodeNotFetched, op, "catalog not fetched; call Fetch first", nil)
}

func ConfigurationError(op, msg string) *Error {
	return E(CodeConfiguration, op, msg, nil)
}

func ProtocolViolationError(op, msg string) *Error {
	return E(CodeProtocolViolation, op, msg, nil)
}

func InvalidCatalogError(op, msg string, cause error) *Error {
	return E(CodeInvalidCatalog, op, msg, cause)
}

func UnsupportedOperationError(op string, operation Operation) *Error {
	return E(CodeUnsupportedOperation, op, fmt.Sprintf("operation %q is not supported", string(operation)), nil)
}

func CodeFrom(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code, true
	}
	var remoteErr *RemoteToolError
	if errors.As(err, &remoteErr) {
		return CodeRemoteTool, true
	}
	return "", false
}

// IsRetryable reports whether the failure is transient from the caller's point of view.
func IsRetryable(err error) bool {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Retryable
	}
	return false
}
