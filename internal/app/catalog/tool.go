package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"eat/internal/domain"
)

// Tool is a read-only copy of a catalog record.
type Tool struct {
	domain.ToolRecord
}

func newTool(record domain.ToolRecord) Tool {
	return Tool{ToolRecord: record.Clone()}
}

// Record returns a copy of the underlying record.
func (t Tool) Record() domain.ToolRecord {
	return t.ToolRecord.Clone()
}

// Schema decodes the parameter schema. A record without one yields nil.
func (t Tool) Schema() (*jsonschema.Schema, error) {
	if len(t.ParameterSchema) == 0 {
		return nil, nil
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(t.ParameterSchema, &schema); err != nil {
		return nil, domain.InvalidCatalogError("catalog.tool_schema",
			fmt.Sprintf("tool %q has an invalid parameter schema", t.ID), err)
	}
	return &schema, nil
}

// ValidateArguments checks args against the parameter schema. Records
// without a schema accept any arguments.
func (t Tool) ValidateArguments(args map[string]any) error {
	const op = "catalog.validate_arguments"
	schema, err := t.Schema()
	if err != nil || schema == nil {
		return err
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return domain.InvalidCatalogError(op, fmt.Sprintf("resolve schema for tool %q", t.ID), err)
	}
	instance, err := normalizeJSON(args)
	if err != nil {
		return domain.ConfigurationError(op, fmt.Sprintf("arguments are not JSON encodable: %v", err))
	}
	if err := resolved.Validate(instance); err != nil {
		return domain.E(domain.CodeConfiguration, op, fmt.Sprintf("arguments for tool %q do not match schema: %v", t.ID, err), err)
	}
	return nil
}

// normalizeJSON maps Go values onto the types encoding/json produces.
func normalizeJSON(args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
