// Package render provides helpers for formatting CLI output.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

const (
	tabWriterMinWidth = 0
	tabWriterTabWidth = 2
	tabWriterPadding  = 2
	tabWriterFlags    = 0

	yamlIndent = 2
)

// Format names an output format accepted by --format.
type Format string

// Output formats.
const (
	FormatTable  Format = "table"
	FormatJSON   Format = "json"
	FormatYAML   Format = "yaml"
	FormatScript Format = "script"
)

// ParseFormat validates value against allowed. An empty value selects the first allowed format.
func ParseFormat(value string, allowed ...Format) (Format, error) {
	if len(allowed) == 0 {
		allowed = []Format{FormatTable, FormatJSON, FormatYAML}
	}
	if value == "" {
		return allowed[0], nil
	}
	normalized := Format(strings.ToLower(strings.TrimSpace(value)))
	names := make([]string, 0, len(allowed))
	for _, f := range allowed {
		if f == normalized {
			return f, nil
		}
		names = append(names, string(f))
	}
	return "", fmt.Errorf("unsupported format %q (expected one of %s)", value, strings.Join(names, ", "))
}

// JSON writes the supplied value as indented JSON.
func JSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// YAML writes the supplied value as a YAML document.
func YAML(w io.Writer, v any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(yamlIndent)
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("close yaml encoder: %w", err)
	}
	return nil
}

// Structured writes v as JSON or YAML depending on format.
func Structured(w io.Writer, format Format, v any) error {
	switch format {
	case FormatJSON:
		return JSON(w, v)
	case FormatYAML:
		return YAML(w, v)
	default:
		return fmt.Errorf("format %q is not a structured format", format)
	}
}

// Table renders the provided headers and rows via a tabwriter.
func Table(w io.Writer, headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, tabWriterMinWidth, tabWriterTabWidth, tabWriterPadding, ' ', tabWriterFlags)
	if len(headers) > 0 {
		if err := writeRow(tw, headers); err != nil {
			return err
		}
	}
	for _, row := range rows {
		if err := writeRow(tw, row); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush table: %w", err)
	}
	return nil
}

func writeRow(w io.Writer, columns []string) error {
	if len(columns) == 0 {
		if _, err := fmt.Fprintln(w); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
		return nil
	}

	line := strings.Join(columns, "\t")
	if _, err := fmt.Fprintln(w, line); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	return nil
}
