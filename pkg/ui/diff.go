package ui

import (
	"fmt"
	"strings"

	diffpatch "github.com/sergi/go-diff/diffmatchpatch"
)

// DefaultContext is the number of unchanged lines shown around each change.
const DefaultContext = 3

// LineKind marks a line of a unified diff.
type LineKind byte

const (
	LineContext LineKind = ' '
	LineDelete  LineKind = '-'
	LineInsert  LineKind = '+'
)

// Line is one line of a diff, without its trailing newline.
type Line struct {
	Kind LineKind
	Text string

	// NoEOL is true for a last line that had no trailing newline.
	NoEOL bool
}

// Hunk is a run of changes with surrounding context.
type Hunk struct {
	OldStart, OldLines int
	NewStart, NewLines int
	Lines              []Line
}

// Header returns the "@@ -l,n +l,n @@" line.
func (h Hunk) Header() string {
	return fmt.Sprintf("@@ -%s +%s @@", rangeString(h.OldStart, h.OldLines), rangeString(h.NewStart, h.NewLines))
}

func rangeString(start, n int) string {
	if n == 1 {
		return fmt.Sprint(start)
	}
	return fmt.Sprintf("%d,%d", start, n)
}

// DiffLines compares two documents line by line.
func DiffLines(from, to string) []Line {
	fromLines, toLines := splitLines(from), splitLines(to)

	// Each distinct line becomes one rune so the diff runs over whole lines.
	ids := map[string]rune{}
	fromRunes := lineRunes(ids, fromLines)
	toRunes := lineRunes(ids, toLines)

	dmp := diffpatch.New()
	diffs := dmp.DiffMainRunes(fromRunes, toRunes, false)

	var out []Line
	fi, ti := 0, 0
	for _, d := range diffs {
		n := len([]rune(d.Text))
		for i := 0; i < n; i++ {
			switch d.Type {
			case diffpatch.DiffEqual:
				out = append(out, newLine(LineContext, toLines[ti]))
				fi++
				ti++
			case diffpatch.DiffDelete:
				out = append(out, newLine(LineDelete, fromLines[fi]))
				fi++
			case diffpatch.DiffInsert:
				out = append(out, newLine(LineInsert, toLines[ti]))
				ti++
			}
		}
	}
	return out
}

// Hunks groups lines into hunks with ctx lines of context.
func Hunks(lines []Line, ctx int) []Hunk {
	var changed []int
	for i, l := range lines {
		if l.Kind != LineContext {
			changed = append(changed, i)
		}
	}
	if len(changed) == 0 {
		return nil
	}

	var hunks []Hunk
	start := max(0, changed[0]-ctx)
	last := changed[0]
	flush := func(end int) {
		hunks = append(hunks, makeHunk(lines, start, end))
	}
	for _, c := range changed[1:] {
		if c-last > 2*ctx {
			flush(min(len(lines), last+ctx+1))
			start = c - ctx
		}
		last = c
	}
	flush(min(len(lines), last+ctx+1))
	return hunks
}

func makeHunk(lines []Line, start, end int) Hunk {
	oldBefore, newBefore := 0, 0
	for _, l := range lines[:start] {
		if l.Kind != LineInsert {
			oldBefore++
		}
		if l.Kind != LineDelete {
			newBefore++
		}
	}

	h := Hunk{Lines: lines[start:end]}
	for _, l := range h.Lines {
		if l.Kind != LineInsert {
			h.OldLines++
		}
		if l.Kind != LineDelete {
			h.NewLines++
		}
	}
	h.OldStart, h.NewStart = oldBefore, newBefore
	if h.OldLines > 0 {
		h.OldStart++
	}
	if h.NewLines > 0 {
		h.NewStart++
	}
	return h
}

// Unified renders a plain unified diff of from and to, or "" when they are
// equal.
func Unified(name, from, to string) string {
	hunks := Hunks(DiffLines(from, to), DefaultContext)
	if len(hunks) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", name, name)
	for _, h := range hunks {
		b.WriteString(h.Header())
		b.WriteByte('\n')
		for _, l := range h.Lines {
			b.WriteString(l.String())
		}
	}
	return b.String()
}

// String returns the line as printed in a unified diff, newline included.
func (l Line) String() string {
	s := string(l.Kind) + l.Text + "\n"
	if l.NoEOL {
		s += "\\ No newline at end of file\n"
	}
	return s
}

func newLine(kind LineKind, text string) Line {
	if strings.HasSuffix(text, "\n") {
		return Line{Kind: kind, Text: text[:len(text)-1]}
	}
	return Line{Kind: kind, Text: text, NoEOL: true}
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func lineRunes(ids map[string]rune, lines []string) []rune {
	rs := make([]rune, len(lines))
	for i, l := range lines {
		r, ok := ids[l]
		if !ok {
			r = rune(len(ids) + 1)
			if r >= 0xD800 {
				// skip surrogates, they do not survive the string round trip
				r += 0x800
			}
			ids[l] = r
		}
		rs[i] = r
	}
	return rs
}
