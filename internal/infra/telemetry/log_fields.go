package telemetry

import (
	"time"

	"go.uber.org/zap"
)

const (
	FieldEvent      = "event"
	FieldOrigin     = "origin"
	FieldTool       = "tool"
	FieldKeyID      = "kid"
	FieldStrategy   = "strategy"
	FieldSpecURL    = "spec_url"
	FieldOperation  = "operation"
	FieldDurationMs = "duration_ms"
	FieldRequestID  = "request_id"
)

const (
	EventCatalogFetched     = "catalog_fetched"
	EventCatalogUnverified  = "catalog_unverified"
	EventStrategyFailed     = "key_strategy_failed"
	EventKeyResolved        = "key_resolved"
	EventSignatureRejected  = "signature_rejected"
	EventIntegrityFailed    = "integrity_failed"
	EventPlaceholderDigest  = "placeholder_digest"
	EventInvocationFailed   = "invocation_failed"
	EventInvocationComplete = "invocation_completed"
)

func EventField(event string) zap.Field {
	return zap.String(FieldEvent, event)
}

func OriginField(origin string) zap.Field {
	return zap.String(FieldOrigin, origin)
}

func ToolField(toolID string) zap.Field {
	return zap.String(FieldTool, toolID)
}

func KeyIDField(keyID string) zap.Field {
	return zap.String(FieldKeyID, keyID)
}

func StrategyField(strategy string) zap.Field {
	return zap.String(FieldStrategy, strategy)
}

func SpecURLField(specURL string) zap.Field {
	return zap.String(FieldSpecURL, specURL)
}

func OperationField(operation string) zap.Field {
	return zap.String(FieldOperation, operation)
}

func DurationField(duration time.Duration) zap.Field {
	return zap.Int64(FieldDurationMs, duration.Milliseconds())
}

func RequestIDField(value string) zap.Field {
	return zap.String(FieldRequestID, value)
}
