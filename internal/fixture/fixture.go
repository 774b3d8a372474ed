// Package fixture loads versioned fixture bundles and reconciles the store
// against them.
package fixture

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/orion/tasksync/internal/schema"
	"gopkg.in/yaml.v3"
)

// SupportedVersion is the only bundle version Import accepts.
const SupportedVersion = 1

// ErrUnsupportedVersion is returned for bundles of any other version.
var ErrUnsupportedVersion = errors.New("unsupported fixture version")

// Format is a fixture file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath derives the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("unsupported fixture file extension %q", filepath.Ext(path))
}

// Fixture is a versioned bundle of seed records.
type Fixture struct {
	Version      int                      `json:"version"`
	FixtureID    string                   `json:"fixtureId,omitempty"`
	Activities   []Entry[schema.Activity] `json:"activities"`
	Tasks        []Entry[schema.Task]     `json:"tasks"`
	Questions    []Entry[schema.Question] `json:"questions,omitempty"`
	Appointments *schema.AppointmentData  `json:"appointments,omitempty"`
}

// CheckVersion fails unless the bundle is SupportedVersion.
func (f *Fixture) CheckVersion() error {
	if f == nil {
		return fmt.Errorf("%w: <nil>. Expected %d", ErrUnsupportedVersion, SupportedVersion)
	}
	if f.Version != SupportedVersion {
		return fmt.Errorf("%w: %d. Expected %d", ErrUnsupportedVersion, f.Version, SupportedVersion)
	}
	return nil
}

// Entry is one fixture record. Value is the decoded record; Raw is the
// source object, whose keys are the fields the fixture defines.
type Entry[V any] struct {
	Value V
	Raw   json.RawMessage
}

// NewEntry builds an entry whose defined fields are those v marshals.
func NewEntry[V any](v V) Entry[V] {
	raw, err := json.Marshal(v)
	if err != nil {
		raw = nil
	}
	return Entry[V]{Value: v, Raw: raw}
}

func (e *Entry[V]) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &e.Value); err != nil {
		return err
	}
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (e Entry[V]) MarshalJSON() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	return json.Marshal(e.Value)
}

// Defined returns the fields present in the source object.
func (e *Entry[V]) Defined() (map[string]json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if len(e.Raw) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(e.Raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to read fixture fields: %w", err)
	}
	return fields, nil
}

// Load reads a fixture file. The format is chosen by extension.
func Load(path string) (*Fixture, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}
	fx, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return fx, nil
}

// Parse decodes a fixture. YAML and TOML documents are normalized to JSON
// first so defined-field tracking is the same for every format.
func Parse(data []byte, format Format) (*Fixture, error) {
	var doc []byte
	switch format {
	case FormatJSON:
		doc = data
	case FormatYAML:
		var tree any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("invalid yaml: %w", err)
		}
		b, err := json.Marshal(tree)
		if err != nil {
			return nil, fmt.Errorf("failed to convert yaml: %w", err)
		}
		doc = b
	case FormatTOML:
		var tree map[string]any
		if err := toml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("invalid toml: %w", err)
		}
		b, err := json.Marshal(tree)
		if err != nil {
			return nil, fmt.Errorf("failed to convert toml: %w", err)
		}
		doc = b
	default:
		return nil, fmt.Errorf("unsupported fixture format %q", format)
	}

	var fx Fixture
	if err := json.Unmarshal(doc, &fx); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	return &fx, nil
}

// Marshal encodes a fixture as JSON (indented) or YAML.
func Marshal(fx *Fixture, format Format) ([]byte, error) {
	data, err := json.MarshalIndent(fx, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fixture: %w", err)
	}

	switch format {
	case FormatJSON:
		return append(data, '\n'), nil
	case FormatYAML:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var tree any
		if err := dec.Decode(&tree); err != nil {
			return nil, fmt.Errorf("failed to convert fixture: %w", err)
		}
		out, err := yaml.Marshal(normalizeNumbers(tree))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal yaml: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported output format %q", format)
}

// normalizeNumbers turns json.Number into int64 or float64 so YAML writes
// plain scalars.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = normalizeNumbers(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = normalizeNumbers(item)
		}
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	}
	return v
}
