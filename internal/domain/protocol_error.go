package domain

import (
	"encoding/json"
	"fmt"
)

// RemoteToolError captures the error object a tool endpoint returned in its
// response envelope. The call is not retried.
type RemoteToolError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RemoteToolError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("remote tool error %d: %s", e.Code, e.Message)
}

func (e *RemoteToolError) Is(target error) bool {
	return e != nil && target == ErrRemoteTool
}
