// Package ui renders command output: status lines for patches and run steps,
// and unified diffs of a document before and after a patch. Colour is used
// only when the output is a terminal.
package ui
