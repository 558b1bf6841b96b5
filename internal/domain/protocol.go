package domain

import (
	"encoding/json"
	"strings"
)

// Operation selects the behavior a tool endpoint performs for a request.
type Operation string

const (
	OperationCall     Operation = "call"
	OperationList     Operation = "list"
	OperationDescribe Operation = "describe"
)

// Operations lists every supported operation in dispatch order.
var Operations = []Operation{OperationCall, OperationList, OperationDescribe}

// Valid reports whether the operation is one the protocol defines.
func (o Operation) Valid() bool {
	switch o {
	case OperationCall, OperationList, OperationDescribe:
		return true
	default:
		return false
	}
}

// ParseOperation maps a wire string onto the closed operation set.
func ParseOperation(raw string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(raw)))
	if !op.Valid() {
		return "", UnsupportedOperationError("protocol.parse", Operation(raw))
	}
	return op, nil
}

// Request is the envelope posted to a tool endpoint.
type Request struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ID              string         `json:"id"`
	Operation       Operation      `json:"operation"`
	Target          string         `json:"target,omitempty"`
	Arguments       map[string]any `json:"arguments"`
}

// Response is the decoded envelope. Result and Error are mutually exclusive
// on a well-formed response; presence is tracked separately from value.
type Response struct {
	ProtocolVersion string
	ID              string
	Result          json.RawMessage
	Error           *RemoteToolError
	HasResult       bool
	HasError        bool
}

// ToolDescriptor is one entry of a list response.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// CallState tracks a single invocation.
type CallState string

const (
	CallStateIdle      CallState = "idle"
	CallStateSent      CallState = "sent"
	CallStateCompleted CallState = "completed"
	CallStateFailed    CallState = "failed"
)
