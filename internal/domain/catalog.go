package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// CatalogDocument is the plaintext catalog a signer covers and a verifier recovers.
type CatalogDocument struct {
	SchemaVersion string         `json:"version"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Tools         []ToolRecord   `json:"tools"`
}

// SpecReference points at an external document whose bytes must hash to Digest.
type SpecReference struct {
	URL    string
	Digest string
	// Placeholder marks a digest derived from the URL string rather than the
	// referenced content. It never satisfies an integrity check.
	Placeholder bool
}

// Example is one documented input/output pair for a tool.
type Example struct {
	Description string          `json:"description,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
}

// ToolRecord is a single discoverable tool.
type ToolRecord struct {
	ID              string
	Description     string
	Version         string
	ParameterSchema json.RawMessage
	Endpoint        string
	Capabilities    []string
	Examples        []Example
	SpecReference   *SpecReference
	Method          string
	Path            string
	// Extensions keeps x-mcp-tool keys this package does not interpret.
	Extensions map[string]json.RawMessage
}

const (
	mcpToolServerURL    = "server_url"
	mcpToolCapabilities = "capabilities"
	mcpToolExamples     = "examples"
	mcpToolMethod       = "method"
	mcpToolPath         = "path"
)

type toolRecordWire struct {
	Name                string                     `json:"name"`
	OperationID         string                     `json:"operationId,omitempty"`
	Description         string                     `json:"description"`
	Version             string                     `json:"version,omitempty"`
	Parameters          json.RawMessage            `json:"parameters,omitempty"`
	SpecURL             string                     `json:"spec_url,omitempty"`
	SpecHash            string                     `json:"spec_hash,omitempty"`
	SpecHashPlaceholder bool                       `json:"spec_hash_placeholder,omitempty"`
	MCPTool             map[string]json.RawMessage `json:"x-mcp-tool,omitempty"`
}

func (t ToolRecord) MarshalJSON() ([]byte, error) {
	wire := toolRecordWire{
		Name:        t.ID,
		Description: t.Description,
		Version:     t.Version,
		Parameters:  t.ParameterSchema,
	}
	if t.SpecReference != nil {
		wire.SpecURL = t.SpecReference.URL
		wire.SpecHash = t.SpecReference.Digest
		wire.SpecHashPlaceholder = t.SpecReference.Placeholder
	}

	ext := make(map[string]json.RawMessage, len(t.Extensions)+5)
	for key, value := range t.Extensions {
		ext[key] = value
	}
	if err := putJSON(ext, mcpToolServerURL, t.Endpoint, t.Endpoint != ""); err != nil {
		return nil, err
	}
	if err := putJSON(ext, mcpToolCapabilities, t.Capabilities, t.Capabilities != nil); err != nil {
		return nil, err
	}
	if err := putJSON(ext, mcpToolExamples, t.Examples, t.Examples != nil); err != nil {
		return nil, err
	}
	if err := putJSON(ext, mcpToolMethod, t.Method, t.Method != ""); err != nil {
		return nil, err
	}
	if err := putJSON(ext, mcpToolPath, t.Path, t.Path != ""); err != nil {
		return nil, err
	}
	if len(ext) > 0 {
		wire.MCPTool = ext
	}
	return json.Marshal(wire)
}

func (t *ToolRecord) UnmarshalJSON(data []byte) error {
	var wire toolRecordWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	id := wire.Name
	if id == "" {
		id = wire.OperationID
	}
	record := ToolRecord{
		ID:              id,
		Description:     wire.Description,
		Version:         wire.Version,
		ParameterSchema: wire.Parameters,
	}
	if strings.TrimSpace(wire.SpecURL) != "" {
		record.SpecReference = &SpecReference{
			URL:         wire.SpecURL,
			Digest:      wire.SpecHash,
			Placeholder: wire.SpecHashPlaceholder,
		}
	}

	for key, value := range wire.MCPTool {
		var err error
		switch key {
		case mcpToolServerURL:
			err = json.Unmarshal(value, &record.Endpoint)
		case mcpToolCapabilities:
			err = json.Unmarshal(value, &record.Capabilities)
		case mcpToolExamples:
			err = json.Unmarshal(value, &record.Examples)
		case mcpToolMethod:
			err = json.Unmarshal(value, &record.Method)
		case mcpToolPath:
			err = json.Unmarshal(value, &record.Path)
		default:
			if record.Extensions == nil {
				record.Extensions = make(map[string]json.RawMessage)
			}
			record.Extensions[key] = value
		}
		if err != nil {
			return fmt.Errorf("decode x-mcp-tool.%s: %w", key, err)
		}
	}
	*t = record
	return nil
}

func putJSON(dst map[string]json.RawMessage, key string, value any, present bool) error {
	if !present {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode x-mcp-tool.%s: %w", key, err)
	}
	dst[key] = raw
	return nil
}

// HasCapability reports whether the record advertises the capability tag.
func (t ToolRecord) HasCapability(capability string) bool {
	for _, c := range t.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so cached records never leak mutable state.
func (t ToolRecord) Clone() ToolRecord {
	out := t
	out.ParameterSchema = cloneRaw(t.ParameterSchema)
	if t.Capabilities != nil {
		out.Capabilities = append([]string(nil), t.Capabilities...)
	}
	if t.Examples != nil {
		out.Examples = make([]Example, len(t.Examples))
		for i, ex := range t.Examples {
			out.Examples[i] = Example{
				Description: ex.Description,
				Input:       cloneRaw(ex.Input),
				Output:      cloneRaw(ex.Output),
			}
		}
	}
	if t.SpecReference != nil {
		ref := *t.SpecReference
		out.SpecReference = &ref
	}
	if t.Extensions != nil {
		out.Extensions = make(map[string]json.RawMessage, len(t.Extensions))
		for key, value := range t.Extensions {
			out.Extensions[key] = cloneRaw(value)
		}
	}
	return out
}

// Clone returns a deep copy of the document. Metadata is copied through a
// JSON round trip since its values are opaque.
func (d CatalogDocument) Clone() CatalogDocument {
	out := CatalogDocument{SchemaVersion: d.SchemaVersion}
	if d.Metadata != nil {
		out.Metadata = cloneMetadata(d.Metadata)
	}
	if d.Tools != nil {
		out.Tools = make([]ToolRecord, len(d.Tools))
		for i, tool := range d.Tools {
			out.Tools[i] = tool.Clone()
		}
	}
	return out
}

// Validate checks document-level invariants.
func (d CatalogDocument) Validate() error {
	if d.SchemaVersion != SupportedSchemaVersion {
		return InvalidCatalogError("catalog.validate",
			fmt.Sprintf("unsupported schema version %q (want %q)", d.SchemaVersion, SupportedSchemaVersion), nil)
	}
	return nil
}

// DecodeCatalogDocument parses and validates a plain JSON catalog.
func DecodeCatalogDocument(data []byte) (CatalogDocument, error) {
	var doc CatalogDocument
	decoder := json.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&doc); err != nil {
		return CatalogDocument{}, InvalidCatalogError("catalog.decode", "", err)
	}
	if err := doc.Validate(); err != nil {
		return CatalogDocument{}, err
	}
	return doc, nil
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneMetadata(meta map[string]any) map[string]any {
	data, err := json.Marshal(meta)
	if err != nil {
		out := make(map[string]any, len(meta))
		for key, value := range meta {
			out[key] = value
		}
		return out
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
