package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Mapping renames source columns to schema element paths before mapping.
// It covers inputs whose column names do not line up with the schema,
// so the dataset does not have to be rewritten first.
type Mapping struct {
	// Columns maps a source column name to the element path it feeds.
	Columns map[string]string `yaml:"columns"`

	// ListSeparator overrides the delimiter for repeated scalar values.
	ListSeparator string `yaml:"list_separator"`
}

// LoadMapping reads a mapping file. An empty path yields a nil mapping,
// which Apply treats as the identity.
func LoadMapping(path string) (*Mapping, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping file: %w", err)
	}
	var m Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse mapping file %s: %w", path, err)
	}
	for from, to := range m.Columns {
		if to == "" {
			return nil, fmt.Errorf("mapping file %s: column %q maps to an empty path", path, from)
		}
	}
	return &m, nil
}

// Apply renames the record's columns in place of a copy; unmapped
// columns pass through unchanged.
func (m *Mapping) Apply(record map[string]any) map[string]any {
	if m == nil || len(m.Columns) == 0 {
		return record
	}
	out := make(map[string]any, len(record))
	for k, v := range record {
		if to, ok := m.Columns[k]; ok {
			out[to] = v
		} else {
			out[k] = v
		}
	}
	return out
}
