// Package export writes per-element fields such as the reference and
// assimilated absolute errors next to the intermediate data.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// FieldSink persists a named per-element field
type FieldSink interface {
	WriteField(name string, values []float64, outPath string) error
}

// Field is the on-disk layout of an exported field
type Field struct {
	Name      string    `yaml:"name"`
	Reference string    `yaml:"reference,omitempty"`
	Size      int       `yaml:"size"`
	Values    []float64 `yaml:"values,flow"`
}

// YAMLFieldWriter writes each field as a YAML document. Reference names the
// sample file the values belong to.
type YAMLFieldWriter struct {
	Reference string
}

var _ FieldSink = (*YAMLFieldWriter)(nil)

// NewYAMLFieldWriter returns a writer recording reference in every file
func NewYAMLFieldWriter(reference string) *YAMLFieldWriter {
	return &YAMLFieldWriter{Reference: reference}
}

// WriteField writes values to outPath, creating parent directories
func (w *YAMLFieldWriter) WriteField(name string, values []float64, outPath string) error {
	if name == "" {
		return fmt.Errorf("field name is empty")
	}
	data, err := yaml.Marshal(Field{
		Name:      name,
		Reference: w.Reference,
		Size:      len(values),
		Values:    slices.Clone(values),
	})
	if err != nil {
		return fmt.Errorf("failed to encode field %s: %w", name, err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write field %s: %w", name, err)
	}
	return nil
}

// ReadField loads a field written by YAMLFieldWriter
func ReadField(path string) (*Field, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f Field
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if f.Size != len(f.Values) {
		return nil, fmt.Errorf("%s: size %d does not match %d values", path, f.Size, len(f.Values))
	}
	return &f, nil
}
