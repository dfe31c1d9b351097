package config

import (
	"fmt"
	"strings"
)

// Step types.
const (
	StepPatch     = "patch"
	StepPackage   = "package"
	StepClone     = "clone"
	StepLink      = "link"
	StepCopy      = "copy"
	StepChmod     = "chmod"
	StepChown     = "chown"
	StepWriteText = "write_text"
	StepMake      = "make"
	StepCurl      = "curl"
)

// Settings holds process-wide options. Every field has a default, see
// DefaultSettings.
type Settings struct {
	// StagingPath is the scratch file converged documents are staged in.
	StagingPath string `json:"staging_path,omitempty" yaml:"staging_path,omitempty"`

	// JournalPath is the SQLite run journal.
	JournalPath string `json:"journal_path,omitempty" yaml:"journal_path,omitempty"`

	// PolicyDir holds extra .rego files evaluated by the write gate.
	PolicyDir string `json:"policy_dir,omitempty" yaml:"policy_dir,omitempty"`

	// Remote selects the remote copier (sftp, scp).
	Remote string `json:"remote,omitempty" yaml:"remote,omitempty" validate:"omitempty,oneof=sftp scp"`

	// SSH configures remote connections.
	SSH SSHSettings `json:"ssh,omitempty" yaml:"ssh,omitempty"`

	// LogLevel is the minimum log level.
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn error"`

	// LogFormat is console or json.
	LogFormat string `json:"log_format,omitempty" yaml:"log_format,omitempty" validate:"omitempty,oneof=console json"`

	// MetricsAddress serves /metrics when set, e.g. "127.0.0.1:9310".
	MetricsAddress string `json:"metrics_address,omitempty" yaml:"metrics_address,omitempty" validate:"omitempty,hostname_port"`

	// TraceExporter is none, stdout or otlp.
	TraceExporter string `json:"trace_exporter,omitempty" yaml:"trace_exporter,omitempty" validate:"omitempty,oneof=none stdout otlp"`

	// TraceEndpoint is the OTLP collector address.
	TraceEndpoint string `json:"trace_endpoint,omitempty" yaml:"trace_endpoint,omitempty" validate:"required_if=TraceExporter otlp"`
}

// SSHSettings configures the SFTP remote copier.
type SSHSettings struct {
	User                  string `json:"user,omitempty" yaml:"user,omitempty"`
	Port                  int    `json:"port,omitempty" yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	KeyPath               string `json:"key_path,omitempty" yaml:"key_path,omitempty"`
	KnownHosts            string `json:"known_hosts,omitempty" yaml:"known_hosts,omitempty"`
	StrictHostKeyChecking bool   `json:"strict_host_key_checking,omitempty" yaml:"strict_host_key_checking,omitempty"`
}

// Manifest is an ordered list of steps plus optional settings.
type Manifest struct {
	Settings Settings `json:"settings,omitempty" yaml:"settings,omitempty"`
	Steps    []Step   `json:"steps" yaml:"steps" validate:"required,min=1,dive"`

	// Source is the file the manifest was loaded from.
	Source string `json:"-" yaml:"-"`
}

// Step is one primitive invocation. Which fields apply depends on Type.
type Step struct {
	// ID names the step in logs and the journal. Defaults to "<type>:<subject>".
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// Type is the primitive to run.
	Type string `json:"type" yaml:"type" validate:"required,oneof=patch package clone link copy chmod chown write_text make curl"`

	// Target is the patch target (path or host:path) or the make target.
	Target string `json:"target,omitempty" yaml:"target,omitempty"`

	// Hosts are the host:path destinations of a multi-host patch.
	Hosts []string `json:"hosts,omitempty" yaml:"hosts,omitempty" validate:"omitempty,dive,contains=:"`

	// Hunks are the raw hunks of a patch.
	Hunks []string `json:"hunks,omitempty" yaml:"hunks,omitempty"`

	// PatchFile is a unified diff or a file of blank-line separated hunks,
	// appended to Hunks.
	PatchFile string `json:"patch_file,omitempty" yaml:"patch_file,omitempty"`

	// Packages to install.
	Packages []string `json:"packages,omitempty" yaml:"packages,omitempty"`

	// Repo, Dir and Commit describe a clone. Dir is also the curl download
	// directory.
	Repo   string `json:"repo,omitempty" yaml:"repo,omitempty"`
	Dir    string `json:"dir,omitempty" yaml:"dir,omitempty"`
	Commit string `json:"commit,omitempty" yaml:"commit,omitempty"`

	// From and To are the link or copy endpoints.
	From string `json:"from,omitempty" yaml:"from,omitempty"`
	To   string `json:"to,omitempty" yaml:"to,omitempty"`

	// Path is the file chmod, chown and write_text act on.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Mode is an octal permission string.
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty" validate:"omitempty,numeric"`

	// Owner is "user" or "user:group".
	Owner string `json:"owner,omitempty" yaml:"owner,omitempty"`

	// Text is the full content for write_text.
	Text string `json:"text,omitempty" yaml:"text,omitempty"`

	// Commands and Deps describe a make step.
	Commands []string `json:"commands,omitempty" yaml:"commands,omitempty"`
	Deps     []string `json:"deps,omitempty" yaml:"deps,omitempty"`

	// URL is the curl source.
	URL string `json:"url,omitempty" yaml:"url,omitempty" validate:"omitempty,url"`
}

// Name returns the step ID, or a name derived from its type and subject.
func (s Step) Name() string {
	if s.ID != "" {
		return s.ID
	}
	return s.Type + ":" + s.Subject()
}

// Subject is the path, target, packages or URL the step acts on.
func (s Step) Subject() string {
	switch s.Type {
	case StepPatch:
		if len(s.Hosts) > 0 {
			return strings.Join(s.Hosts, ",")
		}
		return s.Target
	case StepPackage:
		return strings.Join(s.Packages, ",")
	case StepClone:
		return s.Dir
	case StepLink, StepCopy:
		return s.To
	case StepChmod, StepChown, StepWriteText:
		return s.Path
	case StepMake:
		return s.Target
	case StepCurl:
		return s.URL
	}
	return ""
}

// check reports the fields a step of its type is missing.
func (s Step) check() []string {
	var missing []string
	need := func(field string, ok bool) {
		if !ok {
			missing = append(missing, field)
		}
	}

	switch s.Type {
	case StepPatch:
		need("target or hosts", s.Target != "" || len(s.Hosts) > 0)
		need("hunks or patch_file", len(s.Hunks) > 0 || s.PatchFile != "")
	case StepPackage:
		need("packages", len(s.Packages) > 0)
	case StepClone:
		need("repo", s.Repo != "")
		need("dir", s.Dir != "")
	case StepLink, StepCopy:
		need("from", s.From != "")
		need("to", s.To != "")
	case StepChmod:
		need("path", s.Path != "")
		need("mode", s.Mode != "")
	case StepChown:
		need("path", s.Path != "")
		need("owner", s.Owner != "")
	case StepWriteText:
		need("path", s.Path != "")
	case StepMake:
		need("target", s.Target != "")
		need("commands", len(s.Commands) > 0)
	case StepCurl:
		need("url", s.URL != "")
	}
	return missing
}

// ValidationError is a configuration problem with its location.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path of the error (e.g., "steps[2].mode").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var loc string
	switch {
	case e.File != "" && e.Line > 0:
		loc = fmt.Sprintf("%s:%d:%d: ", e.File, e.Line, e.Column)
	case e.File != "":
		loc = e.File + ": "
	}
	if e.Path != "" {
		loc += e.Path + ": "
	}
	return loc + e.Message
}

// ValidationErrors collects every problem found in one configuration.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	msgs := make([]string, len(ve))
	for i, e := range ve {
		msgs[i] = e.String()
	}
	return "invalid configuration:\n  " + strings.Join(msgs, "\n  ")
}
