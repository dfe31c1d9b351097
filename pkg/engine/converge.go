package engine

import (
	"regexp"
	"strings"
)

// Outcome is what applying one hunk did to the document.
type Outcome string

const (
	// OutcomeEmpty is a hunk with no lines.
	OutcomeEmpty Outcome = "empty"

	// OutcomeInserted is an insertion hunk whose text was appended.
	OutcomeInserted Outcome = "inserted"

	// OutcomeReplaced is a hunk whose before text was found and replaced.
	OutcomeReplaced Outcome = "replaced"

	// OutcomeAlreadyApplied is a hunk whose after text is already present.
	OutcomeAlreadyApplied Outcome = "already-applied"
)

// Changed reports whether the outcome modified the document.
func (o Outcome) Changed() bool {
	return o == OutcomeInserted || o == OutcomeReplaced
}

// HunkOutcome records the effect of one hunk.
type HunkOutcome struct {
	Index   int     `json:"index"`
	Outcome Outcome `json:"outcome"`

	// Matches is the number of occurrences replaced.
	Matches int `json:"matches,omitempty"`
}

// ApplyHunk applies a single hunk to doc and returns the new document.
//
// An insertion hunk appends its after text unless that text is already a
// substring of doc. A replacement hunk replaces every line-anchored
// occurrence of its before text with its after text, literally. An
// occurrence where the after text already starts is left alone, so a hunk
// whose after text extends its before text reaches a fixed point. When the
// before text is absent the hunk is presumed applied, which holds only if the
// after text is present; otherwise the result is an UnreconcilableState
// error carrying the hunk index.
func ApplyHunk(doc string, index int, h Hunk) (string, HunkOutcome, error) {
	outcome := HunkOutcome{Index: index}

	if h.Before == "" {
		if strings.Contains(doc, h.After) {
			outcome.Outcome = OutcomeAlreadyApplied
			if h.After == "" {
				outcome.Outcome = OutcomeEmpty
			}
			return doc, outcome, nil
		}
		if doc != "" && !strings.HasSuffix(doc, "\n") {
			doc += "\n"
		}
		outcome.Outcome = OutcomeInserted
		return doc + h.After + "\n", outcome, nil
	}

	if matches := lineAnchored(h.Before).FindAllStringIndex(doc, -1); len(matches) > 0 {
		next, replaced := replaceUnapplied(doc, matches, h)
		if replaced == 0 {
			outcome.Outcome = OutcomeAlreadyApplied
			return doc, outcome, nil
		}
		outcome.Outcome = OutcomeReplaced
		outcome.Matches = replaced
		return next, outcome, nil
	}

	if strings.Contains(doc, h.After) {
		outcome.Outcome = OutcomeAlreadyApplied
		return doc, outcome, nil
	}

	return doc, outcome, NewUnreconcilableError(index, h.Raw)
}

// Converge applies hunks in order, each against the document left by the
// previous one. changed is true when any hunk modified the document. On
// error the returned document is the state before the failing hunk and must
// not be persisted.
func Converge(doc string, hunks []Hunk) (string, []HunkOutcome, bool, error) {
	outcomes := make([]HunkOutcome, 0, len(hunks))
	changed := false

	for i, h := range hunks {
		next, outcome, err := ApplyHunk(doc, i, h)
		if err != nil {
			return doc, outcomes, changed, err
		}
		outcomes = append(outcomes, outcome)
		changed = changed || outcome.Outcome.Changed()
		doc = next
	}

	return doc, outcomes, changed, nil
}

// replaceUnapplied substitutes h.After at each match of h.Before that is not
// already the start of h.After, and returns how many it substituted.
func replaceUnapplied(doc string, matches [][]int, h Hunk) (string, int) {
	extends := strings.HasPrefix(h.After, h.Before)

	var b strings.Builder
	last, replaced := 0, 0
	for _, m := range matches {
		if extends && strings.HasPrefix(doc[m[0]:], h.After) {
			continue
		}
		b.WriteString(doc[last:m[0]])
		b.WriteString(h.After)
		last = m[1]
		replaced++
	}
	b.WriteString(doc[last:])

	return b.String(), replaced
}

func lineAnchored(s string) *regexp.Regexp {
	return regexp.MustCompile("(?m)^" + regexp.QuoteMeta(s))
}
