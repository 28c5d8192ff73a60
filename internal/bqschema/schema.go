// Package bqschema models BigQuery table schemas in the JSON form accepted by the bq CLI.
package bqschema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Field types understood by the classifier tables.
const (
	TypeInteger   = "INTEGER"
	TypeFloat     = "FLOAT"
	TypeString    = "STRING"
	TypeBoolean   = "BOOLEAN"
	TypeTimestamp = "TIMESTAMP"
	TypeBytes     = "BYTES"
)

// Field modes.
const (
	ModeNullable = "NULLABLE"
	ModeRequired = "REQUIRED"
	ModeRepeated = "REPEATED"
)

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Field is a single column definition.
type Field struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Mode        string `json:"mode,omitempty" yaml:"mode,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Schema is an ordered set of fields with case-insensitive lookup.
type Schema struct {
	fields []Field
	byName map[string]int
}

// New builds a schema from fields, keeping their order.
func New(fields ...Field) *Schema {
	s := &Schema{
		fields: make([]Field, 0, len(fields)),
		byName: make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		f.Type = strings.ToUpper(strings.TrimSpace(f.Type))
		f.Mode = strings.ToUpper(strings.TrimSpace(f.Mode))
		if _, dup := s.byName[normalize(f.Name)]; !dup {
			s.byName[normalize(f.Name)] = len(s.fields)
		}
		s.fields = append(s.fields, f)
	}
	return s
}

// Fields returns a copy of the fields in declaration order.
func (s *Schema) Fields() []Field {
	if s == nil {
		return nil
	}
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Len reports the number of fields.
func (s *Schema) Len() int {
	if s == nil {
		return 0
	}
	return len(s.fields)
}

// Lookup resolves a field by name, ignoring case.
func (s *Schema) Lookup(name string) (Field, bool) {
	if s == nil {
		return Field{}, false
	}
	idx, ok := s.byName[normalize(name)]
	if !ok {
		return Field{}, false
	}
	return s.fields[idx], true
}

// Names returns the field names in declaration order.
func (s *Schema) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		names = append(names, f.Name)
	}
	return names
}

// Validate rejects empty schemas, duplicate or malformed names, and unknown types or modes.
func (s *Schema) Validate() error {
	if s.Len() == 0 {
		return errors.New("schema has no fields")
	}

	var errs []error
	seen := make(map[string]struct{}, len(s.fields))
	for i, f := range s.fields {
		if !fieldNamePattern.MatchString(f.Name) {
			errs = append(errs, fmt.Errorf("field %d: invalid name %q", i, f.Name))
			continue
		}
		key := normalize(f.Name)
		if _, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("field %q: duplicate name", f.Name))
		}
		seen[key] = struct{}{}

		if !knownType(f.Type) {
			errs = append(errs, fmt.Errorf("field %q: unknown type %q", f.Name, f.Type))
		}
		if !knownMode(f.Mode) {
			errs = append(errs, fmt.Errorf("field %q: unknown mode %q", f.Name, f.Mode))
		}
	}
	return errors.Join(errs...)
}

// MarshalJSON encodes the schema as the bq CLI schema array.
func (s *Schema) MarshalJSON() ([]byte, error) {
	fields := s.Fields()
	if fields == nil {
		fields = []Field{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	return data, nil
}

// UnmarshalJSON decodes a bq CLI schema array.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var fields []Field
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode schema: %w", err)
	}
	*s = *New(fields...)
	return nil
}

// Indented renders the schema as the indented JSON written to schema files.
func (s *Schema) Indented() ([]byte, error) {
	raw, err := s.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, fmt.Errorf("indent schema: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Load reads and validates a schema file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- schema path is supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	s := &Schema{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}
	return s, nil
}

func knownType(t string) bool {
	switch t {
	case TypeInteger, TypeFloat, TypeString, TypeBoolean, TypeTimestamp, TypeBytes:
		return true
	default:
		return false
	}
}

func knownMode(m string) bool {
	switch m {
	case "", ModeNullable, ModeRequired, ModeRepeated:
		return true
	default:
		return false
	}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
