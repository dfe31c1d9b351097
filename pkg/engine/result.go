package engine

import "github.com/openfroyo/insta/pkg/target"

// Result is the outcome of one patch operation.
type Result struct {
	// Target is the resolved target.
	Target target.Target `json:"-"`

	// Changed is true when any hunk modified the document.
	Changed bool `json:"changed"`

	// Created is true when the document did not exist before.
	Created bool `json:"created"`

	// DryRun is true when the converged document was not written.
	DryRun bool `json:"dry_run"`

	// Previous is the document text before any hunk was applied.
	Previous string `json:"-"`

	// Content is the converged document text.
	Content string `json:"-"`

	// Outcomes holds one entry per hunk, in order.
	Outcomes []HunkOutcome `json:"outcomes"`

	// Written lists the locations the document was persisted to. For a
	// remote target with failing destinations only the successful ones are
	// listed.
	Written []string `json:"written,omitempty"`
}

// Status is the user-facing status word.
func (r *Result) Status() string {
	switch {
	case !r.Changed:
		return "OK"
	case r.DryRun:
		return "would converge"
	default:
		return "converged"
	}
}

// String returns "<target>: <status>".
func (r *Result) String() string {
	return r.Target.String() + ": " + r.Status()
}
