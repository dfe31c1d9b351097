package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
)

// manifestSchema constrains a CUE manifest before it is decoded. Definitions
// are closed, so unknown fields are rejected.
const manifestSchema = `
#Octal: =~"^0?[0-7]{3,4}$"

#SSH: {
	user?:                     string
	port?:                     int & >0 & <65536
	key_path?:                 string
	known_hosts?:              string
	strict_host_key_checking?: bool
}

#Settings: {
	staging_path?:    string
	journal_path?:    string
	policy_dir?:      string
	remote?:          "sftp" | "scp"
	ssh?:             #SSH
	log_level?:       "trace" | "debug" | "info" | "warn" | "error"
	log_format?:      "console" | "json"
	metrics_address?: string
	trace_exporter?:  "none" | "stdout" | "otlp"
	trace_endpoint?:  string
}

#Step: {
	id?:   string
	type:  "patch" | "package" | "clone" | "link" | "copy" | "chmod" | "chown" | "write_text" | "make" | "curl"

	target?:     string
	hosts?:      [...=~":"]
	hunks?:      [...string]
	patch_file?: string
	packages?:   [...string]
	repo?:       string
	dir?:        string
	commit?:     string
	from?:       string
	to?:         string
	path?:       string
	mode?:       #Octal
	owner?:      =~"^[^:]+(:[^:]+)?$"
	text?:       string
	commands?:   [...string]
	deps?:       [...string]
	url?:        string
}

#Manifest: {
	settings?: #Settings
	steps: [...#Step]
}
`

// schemas compiles the manifest schema once per CUE context.
type schemas struct {
	once     sync.Once
	manifest cue.Value
	settings cue.Value
	err      error
}

func (s *schemas) load(ctx *cue.Context) error {
	s.once.Do(func() {
		val := ctx.CompileString(manifestSchema, cue.Filename("manifest.schema.cue"))
		if err := val.Err(); err != nil {
			s.err = fmt.Errorf("failed to compile manifest schema: %w", err)
			return
		}
		s.manifest = val.LookupPath(cue.ParsePath("#Manifest"))
		s.settings = val.LookupPath(cue.ParsePath("#Settings"))
	})
	return s.err
}
