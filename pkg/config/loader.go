package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Loader reads manifests and settings files. The format follows the file
// extension: .yaml or .yml for YAML, .cue for CUE.
type Loader struct {
	cue      *CUEParser
	validate *validator.Validate
}

// NewLoader creates a loader.
func NewLoader() *Loader {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Loader{cue: NewCUEParser(), validate: v}
}

// LoadManifest reads, validates and defaults the manifest at path.
func (l *Loader) LoadManifest(path string) (*Manifest, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return l.ParseManifest(path, src)
}

// ParseManifest is LoadManifest for content already in memory.
func (l *Loader) ParseManifest(path string, src []byte) (*Manifest, error) {
	var (
		m   *Manifest
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue":
		m, err = l.cue.ParseManifest(path, src)
	case ".yaml", ".yml":
		m, err = parseYAMLManifest(path, src)
	default:
		return nil, fmt.Errorf("unsupported manifest format %q (want .yaml, .yml or .cue)", ext)
	}
	if err != nil {
		return nil, err
	}

	m.Source = path
	if err := l.ValidateManifest(m); err != nil {
		return nil, err
	}
	m.Settings = m.Settings.Merge(DefaultSettings())
	return m, nil
}

// LoadSettings reads a settings file. A missing file yields the defaults.
func (l *Loader) LoadSettings(path string) (Settings, error) {
	src, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	var s Settings
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue":
		s, err = l.cue.ParseSettings(path, src)
	case ".yaml", ".yml":
		err = decodeYAML(src, &s)
	default:
		return Settings{}, fmt.Errorf("unsupported settings format %q (want .yaml, .yml or .cue)", ext)
	}
	if err != nil {
		return Settings{}, fileError(path, err)
	}

	if err := l.validate.Struct(s); err != nil {
		return Settings{}, fromValidator(path, "settings", err)
	}
	return s.Merge(DefaultSettings()), nil
}

// ValidateManifest checks struct constraints and the fields each step type
// requires.
func (l *Loader) ValidateManifest(m *Manifest) error {
	var errs ValidationErrors
	if err := l.validate.Struct(m); err != nil {
		errs = append(errs, fromValidator(m.Source, "", err)...)
	}

	for i, step := range m.Steps {
		for _, field := range step.check() {
			errs = append(errs, ValidationError{
				File:    m.Source,
				Path:    fmt.Sprintf("steps[%d]", i),
				Message: fmt.Sprintf("%s step requires %s", step.Type, field),
			})
		}
	}

	seen := make(map[string]int)
	for i, step := range m.Steps {
		if step.ID == "" {
			continue
		}
		if prev, ok := seen[step.ID]; ok {
			errs = append(errs, ValidationError{
				File:    m.Source,
				Path:    fmt.Sprintf("steps[%d].id", i),
				Message: fmt.Sprintf("duplicate step id %q (also steps[%d])", step.ID, prev),
			})
			continue
		}
		seen[step.ID] = i
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func parseYAMLManifest(path string, src []byte) (*Manifest, error) {
	var m Manifest
	if err := decodeYAML(src, &m); err != nil {
		return nil, fileError(path, err)
	}
	return &m, nil
}

// decodeYAML rejects unknown fields.
func decodeYAML(src []byte, out interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func fileError(path string, err error) error {
	var ve ValidationErrors
	if errors.As(err, &ve) {
		return ve
	}
	var te *yaml.TypeError
	if errors.As(err, &te) {
		errs := make(ValidationErrors, len(te.Errors))
		for i, msg := range te.Errors {
			errs[i] = ValidationError{File: path, Message: msg}
		}
		return errs
	}
	return ValidationErrors{{File: path, Message: err.Error()}}
}

func fromValidator(file, prefix string, err error) ValidationErrors {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ValidationErrors{{File: file, Message: err.Error()}}
	}

	out := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		path := fieldPath(fe.Namespace())
		if prefix != "" {
			path = prefix + "." + path
		}
		msg := fmt.Sprintf("failed on %q", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed on %q (%s)", fe.Tag(), fe.Param())
		}
		out = append(out, ValidationError{File: file, Path: path, Message: msg})
	}
	return out
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
