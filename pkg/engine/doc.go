// Package engine applies unified-diff-style hunks to text documents,
// idempotently.
//
// A hunk is split into the text it expects to find (context and '-' lines)
// and the text it leaves behind (context and '+' lines). Each hunk is applied
// against the document left by the previous one:
//
//   - a hunk with nothing to find appends its text unless already present
//   - a hunk whose old text is found has every line-anchored occurrence
//     replaced
//   - a hunk whose old text is missing counts as applied if its new text is
//     present, and fails with an unreconcilable-state error otherwise
//
// The document is written once, through a local staging file, and only when
// some hunk changed it. Running the same hunks again is a no-op.
//
//	p := engine.NewPatcher(system.NewLocal(log.Logger), nil, engine.Options{})
//	res, err := p.Patch(ctx, target.Path("~/.bashrc"), "+export EDITOR=vim")
//
// Remote targets are one or more host:path destinations. The first is read,
// every destination is written in order, and failed pushes are reported
// together without undoing the others.
package engine
