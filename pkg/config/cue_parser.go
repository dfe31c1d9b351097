package config

import (
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// CUEParser loads manifests and settings written in CUE.
type CUEParser struct {
	ctx     *cue.Context
	schemas schemas
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	return &CUEParser{ctx: cuecontext.New()}
}

// ParseManifest compiles src, checks it against the manifest schema and
// decodes it. filename is used in error positions.
func (cp *CUEParser) ParseManifest(filename string, src []byte) (*Manifest, error) {
	val, err := cp.compile(filename, src, func(s *schemas) cue.Value { return s.manifest })
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := val.Decode(&m); err != nil {
		return nil, ValidationErrors(convertCUEErrors(err))
	}
	return &m, nil
}

// ParseSettings compiles a settings-only document.
func (cp *CUEParser) ParseSettings(filename string, src []byte) (Settings, error) {
	val, err := cp.compile(filename, src, func(s *schemas) cue.Value { return s.settings })
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := val.Decode(&s); err != nil {
		return Settings{}, ValidationErrors(convertCUEErrors(err))
	}
	return s, nil
}

func (cp *CUEParser) compile(filename string, src []byte, pick func(*schemas) cue.Value) (cue.Value, error) {
	if err := cp.schemas.load(cp.ctx); err != nil {
		return cue.Value{}, err
	}

	val := cp.ctx.CompileBytes(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return cue.Value{}, ValidationErrors(convertCUEErrors(err))
	}

	unified := pick(&cp.schemas).Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, ValidationErrors(convertCUEErrors(err))
	}
	return unified, nil
}

// ParseFile loads a CUE manifest from disk.
func (cp *CUEParser) ParseFile(path string) (*Manifest, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return cp.ParseManifest(path, src)
}

// convertCUEErrors converts CUE errors to ValidationError values.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		ve := ValidationError{Message: errors.Details(e, nil)}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		if path := e.Path(); len(path) > 0 {
			ve.Path = strings.Join(path, ".")
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}
