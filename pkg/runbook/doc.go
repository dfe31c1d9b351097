// Package runbook runs sequences of primitives: YAML or CUE manifests,
// Starlark cookbooks and single patch operations. Each execution is one run
// in the journal with one entry per step, traced as a run span with a child
// span per step. The first failing step stops the run.
//
// Watcher re-runs a manifest when it or one of its patch files changes.
package runbook
