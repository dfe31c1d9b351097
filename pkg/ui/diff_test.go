package ui

import (
	"fmt"
	"strings"
	"testing"
)

func TestUnified(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
		want     string
	}{
		{
			name: "equal",
			from: "a\nb\n",
			to:   "a\nb\n",
			want: "",
		},
		{
			name: "replace line",
			from: "a\nb\nc\n",
			to:   "a\nB\nc\n",
			want: "--- a/f\n+++ b/f\n@@ -1,3 +1,3 @@\n a\n-b\n+B\n c\n",
		},
		{
			name: "created",
			from: "",
			to:   "x\ny\n",
			want: "--- a/f\n+++ b/f\n@@ -0,0 +1,2 @@\n+x\n+y\n",
		},
		{
			name: "trailing newline added",
			from: "a",
			to:   "a\n",
			want: "--- a/f\n+++ b/f\n@@ -1 +1 @@\n-a\n\\ No newline at end of file\n+a\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Unified("f", tt.from, tt.to); got != tt.want {
				t.Errorf("Unified() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestHunksSplitDistantChanges(t *testing.T) {
	from := "1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n"
	to := "X\n2\n3\n4\n5\n6\n7\n8\n9\nY\n"

	hunks := Hunks(DiffLines(from, to), DefaultContext)
	if len(hunks) != 2 {
		t.Fatalf("got %d hunks, want 2", len(hunks))
	}
	if got := hunks[0].Header(); got != "@@ -1,4 +1,4 @@" {
		t.Errorf("hunk 0 header = %q", got)
	}
	if got := hunks[1].Header(); got != "@@ -7,4 +7,4 @@" {
		t.Errorf("hunk 1 header = %q", got)
	}
}

func TestHunksMergeNearbyChanges(t *testing.T) {
	from := "1\n2\n3\n4\n5\n"
	to := "X\n2\n3\n4\nY\n"

	hunks := Hunks(DiffLines(from, to), DefaultContext)
	if len(hunks) != 1 {
		t.Fatalf("got %d hunks, want 1", len(hunks))
	}
	if got := hunks[0].Header(); got != "@@ -1,5 +1,5 @@" {
		t.Errorf("header = %q", got)
	}
}

func TestDiffLinesRepeatedLines(t *testing.T) {
	lines := DiffLines("x\nx\nx\n", "x\nx\nx\nx\n")

	inserts := 0
	for _, l := range lines {
		if l.Kind == LineInsert {
			inserts++
		}
		if l.Kind == LineDelete {
			t.Errorf("unexpected delete %q", l.Text)
		}
	}
	if len(lines) != 4 || inserts != 1 {
		t.Errorf("got %d lines with %d inserts, want 4 and 1", len(lines), inserts)
	}
}

func TestDiffLinesManyDistinctLines(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 60000; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	doc := b.String()

	if got := Unified("big", doc, doc); got != "" {
		t.Errorf("equal documents produced a diff of %d bytes", len(got))
	}
	if got := Unified("big", doc, doc+"end\n"); !strings.HasSuffix(got, "+end\n") {
		t.Errorf("appended line missing from diff tail %q", got[max(0, len(got)-40):])
	}
}
