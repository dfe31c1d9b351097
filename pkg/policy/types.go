package policy

import (
	"strings"
	"time"

	"github.com/openfroyo/insta/pkg/target"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityWarning is for violations that are reported but do not block.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block the operation.
	SeverityError Severity = "error"
)

// Blocks reports whether a violation of this severity denies the operation.
func (s Severity) Blocks() bool {
	return s == SeverityError
}

// Operations evaluated by the engine.
const (
	OperationWrite = "write"
)

// Policy represents a Rego policy.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Violations are the members of the
	// package's deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with insta.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`

	// LoadedAt is when the policy was loaded.
	LoadedAt time.Time `json:"loaded_at"`
}

// Destination is one remote copy of a target as seen by policies.
type Destination struct {
	Host string `json:"host"`
	Path string `json:"path"`
}

// Input is the document policies evaluate as `input`.
type Input struct {
	// Operation is the action being gated, e.g. "write".
	Operation string `json:"operation"`

	// Kind is "local" or "remote".
	Kind string `json:"kind"`

	// Target is the display identity of the target.
	Target string `json:"target"`

	// Paths lists every filesystem path the operation touches: the local
	// path, or the path of each remote destination.
	Paths []string `json:"paths"`

	// Destinations lists the remote copies. Empty for local targets.
	Destinations []Destination `json:"destinations,omitempty"`
}

// InputFor builds the policy input for operation on t.
func InputFor(operation string, t target.Target) Input {
	in := Input{
		Operation: operation,
		Kind:      t.Kind().String(),
		Target:    t.String(),
	}
	if !t.IsRemote() {
		in.Paths = []string{t.Path()}
		return in
	}
	for _, d := range t.Destinations() {
		in.Paths = append(in.Paths, d.Path)
		in.Destinations = append(in.Destinations, Destination{Host: d.Host, Path: d.Path})
	}
	return in
}

// Violation is a single deny message produced by a policy.
type Violation struct {
	Policy   string   `json:"policy"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Path     string   `json:"path,omitempty"`
}

// Result contains the outcome of evaluating every enabled policy.
type Result struct {
	// Allowed is false when any violation blocks.
	Allowed bool `json:"allowed"`

	// Violations lists every violation, blocking or not.
	Violations []Violation `json:"violations,omitempty"`

	// Evaluated is the number of policies evaluated.
	Evaluated int `json:"evaluated"`
}

// Blocking returns the violations that deny the operation.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocks() {
			out = append(out, v)
		}
	}
	return out
}

// DeniedError is returned by AuthorizeWrite when a policy blocks the write.
type DeniedError struct {
	Target     string
	Violations []Violation
}

func (e *DeniedError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Policy+": "+v.Message)
	}
	return "write to " + e.Target + " denied: " + strings.Join(msgs, "; ")
}
