package invocation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"eat/internal/domain"
	"eat/internal/infra/telemetry"
	"eat/internal/infra/transport"
)

const maxResponseBytes = 8 * 1024 * 1024

type Options struct {
	Logger    *zap.Logger
	Metrics   domain.Metrics
	Timeout   time.Duration
	UserAgent string
	// HTTPClient supplies the base transport. The client still owns the
	// connection pool it builds on top of it.
	HTTPClient *http.Client
}

// Client executes tool operations over the JSON envelope protocol. The
// HTTP client is created on first use and released by Close. No call is
// retried automatically.
type Client struct {
	logger    *zap.Logger
	metrics   domain.Metrics
	timeout   time.Duration
	userAgent string
	base      *http.Client
	instance  string
	seq       atomic.Uint64

	mu     sync.Mutex
	http   *http.Client
	closed bool
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = domain.DefaultInvokeTimeoutSeconds * time.Second
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = domain.DefaultUserAgent
	}
	return &Client{
		logger:    logger.Named("invocation"),
		metrics:   telemetry.OrNoop(opts.Metrics),
		timeout:   timeout,
		userAgent: userAgent,
		base:      opts.HTTPClient,
		instance:  uuid.NewString(),
	}
}

// Invoke calls tool with args and returns the result object.
func (c *Client) Invoke(ctx context.Context, tool domain.ToolRecord, args map[string]any) (map[string]any, error) {
	const op = "invocation.invoke"
	if strings.TrimSpace(tool.Endpoint) == "" {
		return nil, domain.ConfigurationError(op, fmt.Sprintf("tool %q has no endpoint", tool.ID))
	}
	if args == nil {
		args = map[string]any{}
	}
	raw, err := c.Execute(ctx, tool.Endpoint, domain.OperationCall, tool.ID, args)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil || result == nil {
		return nil, domain.ProtocolViolationError(op, "call result is not a JSON object")
	}
	return result, nil
}

type listResult struct {
	Tools []domain.ToolDescriptor `json:"tools"`
}

// ListTools asks endpoint for the tools it serves.
func (c *Client) ListTools(ctx context.Context, endpoint string) ([]domain.ToolDescriptor, error) {
	const op = "invocation.list_tools"
	if strings.TrimSpace(endpoint) == "" {
		return nil, domain.ConfigurationError(op, "endpoint is required")
	}
	raw, err := c.Execute(ctx, endpoint, domain.OperationList, "", map[string]any{})
	if err != nil {
		return nil, err
	}
	var result listResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, domain.ProtocolViolationError(op, fmt.Sprintf("list result: %v", err))
	}
	if result.Tools == nil {
		result.Tools = []domain.ToolDescriptor{}
	}
	return result.Tools, nil
}

// GetSchema asks endpoint for the argument schema of toolName.
func (c *Client) GetSchema(ctx context.Context, endpoint, toolName string) (*jsonschema.Schema, error) {
	const op = "invocation.get_schema"
	if strings.TrimSpace(endpoint) == "" {
		return nil, domain.ConfigurationError(op, "endpoint is required")
	}
	if strings.TrimSpace(toolName) == "" {
		return nil, domain.ConfigurationError(op, "tool name is required")
	}
	raw, err := c.Execute(ctx, endpoint, domain.OperationDescribe, toolName, map[string]any{})
	if err != nil {
		return nil, err
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, domain.ProtocolViolationError(op, fmt.Sprintf("describe result is not a schema: %v", err))
	}
	return &schema, nil
}

// Execute sends one request envelope and returns the raw result.
func (c *Client) Execute(ctx context.Context, endpoint string, operation domain.Operation, target string, args map[string]any) (json.RawMessage, error) {
	const op = "invocation.execute"
	if !operation.Valid() {
		return nil, domain.UnsupportedOperationError(op, operation)
	}
	if strings.TrimSpace(endpoint) == "" {
		return nil, domain.ConfigurationError(op, "endpoint is required")
	}
	client, err := c.client()
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}

	call := &callRecord{
		request: domain.Request{
			ProtocolVersion: domain.ProtocolVersion,
			ID:              c.nextID(),
			Operation:       operation,
			Target:          target,
			Arguments:       args,
		},
		state:   domain.CallStateIdle,
		started: time.Now(),
	}
	logger := telemetry.LoggerWithRequest(ctx, c.logger).With(
		telemetry.OperationField(string(operation)),
		telemetry.ToolField(target),
		zap.String("call_id", call.request.ID),
	)

	result, err := c.roundTrip(ctx, client, endpoint, call)
	duration := time.Since(call.started)
	c.metrics.ObserveInvocation(operation, duration, call.state)
	if err != nil {
		logger.Debug("invocation failed",
			telemetry.EventField(telemetry.EventInvocationFailed),
			telemetry.DurationField(duration),
			zap.Error(err),
		)
		return nil, err
	}
	logger.Debug("invocation completed",
		telemetry.EventField(telemetry.EventInvocationComplete),
		telemetry.DurationField(duration),
	)
	return result, nil
}

// Close releases pooled connections. Calls made afterwards fail.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.http != nil {
		c.http.CloseIdleConnections()
		c.http = nil
	}
	return nil
}

type callRecord struct {
	request domain.Request
	state   domain.CallState
	started time.Time
}

func (c *Client) roundTrip(ctx context.Context, client *http.Client, endpoint string, call *callRecord) (json.RawMessage, error) {
	const op = "invocation.execute"
	body, err := json.Marshal(call.request)
	if err != nil {
		call.state = domain.CallStateFailed
		return nil, domain.ConfigurationError(op, fmt.Sprintf("encode request: %v", err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		call.state = domain.CallStateFailed
		return nil, domain.ConfigurationError(op, fmt.Sprintf("invalid endpoint %q: %v", endpoint, err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	call.state = domain.CallStateSent
	resp, err := client.Do(req)
	if err != nil {
		call.state = domain.CallStateFailed
		return nil, domain.TransportError(op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		call.state = domain.CallStateFailed
		return nil, domain.TransportError(op, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		call.state = domain.CallStateFailed
		return nil, domain.TransportError(op, &transport.StatusError{URL: endpoint, StatusCode: resp.StatusCode})
	}
	if len(payload) > maxResponseBytes {
		call.state = domain.CallStateFailed
		return nil, domain.ProtocolViolationError(op, "response envelope exceeds size limit")
	}

	result, err := interpret(call.request, payload)
	if err != nil {
		call.state = domain.CallStateFailed
		return nil, err
	}
	call.state = domain.CallStateCompleted
	return result, nil
}

// interpret validates the envelope against the request it answers.
func interpret(request domain.Request, payload []byte) (json.RawMessage, error) {
	const op = "invocation.decode"
	resp, err := decodeResponse(payload)
	if err != nil {
		return nil, err
	}
	if resp.ProtocolVersion != domain.ProtocolVersion {
		return nil, domain.ProtocolViolationError(op,
			fmt.Sprintf("protocol version %q does not match %q", resp.ProtocolVersion, domain.ProtocolVersion))
	}
	if resp.ID != request.ID {
		return nil, domain.ProtocolViolationError(op,
			fmt.Sprintf("response id %q does not echo request id %q", resp.ID, request.ID))
	}
	switch {
	case resp.HasResult && resp.HasError:
		return nil, domain.ProtocolViolationError(op, "response carries both result and error")
	case !resp.HasResult && !resp.HasError:
		return nil, domain.ProtocolViolationError(op, "response carries neither result nor error")
	case resp.HasError:
		return nil, resp.Error
	default:
		return resp.Result, nil
	}
}

func decodeResponse(payload []byte) (domain.Response, error) {
	const op = "invocation.decode"
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return domain.Response{}, domain.ProtocolViolationError(op, "response is not a JSON object")
	}

	var resp domain.Response
	if raw, ok := fields["protocolVersion"]; ok {
		if err := json.Unmarshal(raw, &resp.ProtocolVersion); err != nil {
			return domain.Response{}, domain.ProtocolViolationError(op, "protocolVersion is not a string")
		}
	}
	if raw, ok := fields["id"]; ok {
		id, err := decodeID(raw)
		if err != nil {
			return domain.Response{}, domain.ProtocolViolationError(op, err.Error())
		}
		resp.ID = id
	}
	if raw, ok := fields["result"]; ok && !isNull(raw) {
		resp.HasResult = true
		resp.Result = raw
	}
	if raw, ok := fields["error"]; ok && !isNull(raw) {
		resp.HasError = true
		var remote domain.RemoteToolError
		if err := json.Unmarshal(raw, &remote); err != nil {
			return domain.Response{}, domain.ProtocolViolationError(op, "error is not an object with code and message")
		}
		resp.Error = &remote
	}
	return resp, nil
}

func decodeID(raw json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		return number.String(), nil
	}
	return "", fmt.Errorf("id is neither a string nor a number")
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func (c *Client) nextID() string {
	return c.instance + "-" + strconv.FormatUint(c.seq.Add(1), 10)
}

func (c *Client) client() (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, domain.ConfigurationError("invocation.client", "client closed")
	}
	if c.http != nil {
		return c.http, nil
	}
	var base http.RoundTripper
	if c.base != nil && c.base.Transport != nil {
		base = c.base.Transport
	} else if dt, ok := http.DefaultTransport.(*http.Transport); ok {
		base = dt.Clone()
	}
	headers := http.Header{}
	headers.Set("User-Agent", c.userAgent)
	c.http = &http.Client{Transport: transport.WithHeaders(base, headers)}
	return c.http, nil
}
