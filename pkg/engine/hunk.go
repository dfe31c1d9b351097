package engine

import "strings"

// Hunk is one diff-style block split into its two projections. Lines tagged
// '-' belong to Before only, '+' to After only, and any other non-empty line
// to both, with its first character removed.
type Hunk struct {
	// Raw is the hunk text as given.
	Raw string

	// Before is the text the hunk expects to find.
	Before string

	// After is the text the hunk leaves behind.
	After string

	removes bool
}

// ParseHunk splits raw into its before and after projections.
//
// Empty lines are dropped before classification, so a blank context line
// cannot be expressed. A trailing carriage return is stripped from each line.
func ParseHunk(raw string) Hunk {
	var before, after []string
	removes := false

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}

		tail := line[1:]
		switch line[0] {
		case '-':
			before = append(before, tail)
			removes = true
		case '+':
			after = append(after, tail)
		default:
			before = append(before, tail)
			after = append(after, tail)
		}
	}

	return Hunk{
		Raw:     raw,
		Before:  strings.Join(before, "\n"),
		After:   strings.Join(after, "\n"),
		removes: removes,
	}
}

// ParseHunks parses every raw hunk in order.
func ParseHunks(raw ...string) []Hunk {
	hunks := make([]Hunk, len(raw))
	for i, r := range raw {
		hunks[i] = ParseHunk(r)
	}
	return hunks
}

// Removes reports whether the hunk has at least one '-' line.
func (h Hunk) Removes() bool {
	return h.removes
}

// IsInsertion reports whether the hunk has nothing to match against.
func (h Hunk) IsInsertion() bool {
	return h.Before == ""
}

// SplitHunks splits a multi-hunk patch into raw hunks.
//
// A patch with lines starting with "@@", the unified diff hunk header, is
// split on those lines; the "---"/"+++" file headers before the first one and
// the "\ No newline at end of file" markers are dropped. Any other patch is
// split on runs of empty lines.
func SplitHunks(patch string) []string {
	var (
		hunks   []string
		current []string
	)
	flush := func() {
		if len(current) > 0 {
			hunks = append(hunks, strings.Join(current, "\n"))
		}
		current = nil
	}

	if !hasHunkHeader(patch) {
		for _, line := range strings.Split(patch, "\n") {
			if strings.TrimSuffix(line, "\r") == "" {
				flush()
				continue
			}
			current = append(current, line)
		}
		flush()
		return hunks
	}

	started := false
	for _, line := range strings.Split(patch, "\n") {
		trimmed := strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(trimmed, "@@"):
			flush()
			started = true
		case !started && (strings.HasPrefix(trimmed, "--- ") || strings.HasPrefix(trimmed, "+++ ")):
		case started && strings.HasPrefix(trimmed, "\\"):
		default:
			current = append(current, line)
		}
	}
	flush()

	return hunks
}

func hasHunkHeader(patch string) bool {
	for _, line := range strings.Split(patch, "\n") {
		if strings.HasPrefix(line, "@@") {
			return true
		}
	}
	return false
}
