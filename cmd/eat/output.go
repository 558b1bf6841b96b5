package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"eat/internal/infra/telemetry/diagnostics"
)

func writeJSON(w io.Writer, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// writeYAML goes through JSON first so json tags and custom marshalers
// decide the field names.
func writeYAML(w io.Writer, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	var plain any
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(plain); err != nil {
		return err
	}
	return enc.Close()
}

// render writes value in the selected structured format, or calls text.
func render(w io.Writer, opts *cliOptions, value any, text func(io.Writer) error) error {
	switch opts.output {
	case outputJSON:
		return writeJSON(w, value)
	case outputYAML:
		return writeYAML(w, value)
	default:
		return text(w)
	}
}

type traceEntry struct {
	Time       string `json:"time"`
	Origin     string `json:"origin,omitempty"`
	Step       string `json:"step"`
	Phase      string `json:"phase"`
	Strategy   string `json:"strategy,omitempty"`
	Tool       string `json:"tool,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
	Error      string `json:"error,omitempty"`
}

func writeTrace(w io.Writer, log *diagnostics.Log) {
	if log == nil {
		return
	}
	events := log.Events()
	fmt.Fprintf(w, "# trace events=%d evicted=%d\n", len(events), log.Evicted())
	for _, event := range events {
		entry := traceEntry{
			Time:       event.Timestamp.UTC().Format(time.RFC3339Nano),
			Origin:     event.Origin,
			Step:       event.Step,
			Phase:      string(event.Phase),
			Strategy:   event.Strategy,
			Tool:       event.Tool,
			DurationMs: event.Duration.Milliseconds(),
			Error:      event.Error,
		}
		data, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		fmt.Fprintln(w, string(data))
	}
}

func joinSorted(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
