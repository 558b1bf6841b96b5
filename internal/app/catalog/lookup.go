package catalog

import (
	"fmt"
	"strings"

	"eat/internal/domain"
)

// Filter keys understood by Find. Other keys are ignored.
const (
	FilterDescriptionContains = "description_contains"
	FilterHasExamples         = "has_examples"
)

// Tools returns every record in catalog order.
func (c *Catalog) Tools() ([]Tool, error) {
	return c.Find("", nil)
}

// Find returns records in catalog order. A non-empty capability keeps only
// records that advertise it.
func (c *Catalog) Find(capability string, filters map[string]any) ([]Tool, error) {
	const op = "catalog.find"
	snap, err := c.committed(op)
	if err != nil {
		return nil, err
	}
	match, err := buildMatcher(op, capability, filters)
	if err != nil {
		return nil, err
	}
	results := make([]Tool, 0, len(snap.doc.Tools))
	for _, record := range snap.doc.Tools {
		if match(record) {
			results = append(results, newTool(record))
		}
	}
	return results, nil
}

// Get returns the first record whose id equals id. Duplicate ids are not
// rejected; catalog order decides.
func (c *Catalog) Get(id string) (Tool, bool, error) {
	const op = "catalog.get"
	snap, err := c.committed(op)
	if err != nil {
		return Tool{}, false, err
	}
	for _, record := range snap.doc.Tools {
		if record.ID == id {
			return newTool(record), true, nil
		}
	}
	return Tool{}, false, nil
}

func buildMatcher(op, capability string, filters map[string]any) (func(domain.ToolRecord) bool, error) {
	var preds []func(domain.ToolRecord) bool
	if capability != "" {
		preds = append(preds, func(r domain.ToolRecord) bool { return r.HasCapability(capability) })
	}
	for key, value := range filters {
		switch key {
		case FilterDescriptionContains:
			needle, ok := value.(string)
			if !ok {
				return nil, domain.ConfigurationError(op, fmt.Sprintf("filter %s expects a string, got %T", key, value))
			}
			needle = strings.ToLower(needle)
			preds = append(preds, func(r domain.ToolRecord) bool {
				return strings.Contains(strings.ToLower(r.Description), needle)
			})
		case FilterHasExamples:
			want, ok := value.(bool)
			if !ok {
				return nil, domain.ConfigurationError(op, fmt.Sprintf("filter %s expects a bool, got %T", key, value))
			}
			preds = append(preds, func(r domain.ToolRecord) bool { return (len(r.Examples) > 0) == want })
		}
	}
	return func(r domain.ToolRecord) bool {
		for _, pred := range preds {
			if !pred(r) {
				return false
			}
		}
		return true
	}, nil
}
