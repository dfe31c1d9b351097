package ui

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/openfroyo/insta/pkg/engine"
	"github.com/openfroyo/insta/pkg/policy"
	"github.com/openfroyo/insta/pkg/stores"
)

// Printer writes status lines and diffs for a terminal or a pipe.
type Printer struct {
	out io.Writer

	header  *color.Color
	ok      *color.Color
	changed *color.Color
	failed  *color.Color
	skipped *color.Color
	insert  *color.Color
	delete  *color.Color
	hunk    *color.Color
}

// NewPrinter creates a printer writing to out. Output is coloured only when
// out is a terminal.
func NewPrinter(out io.Writer) *Printer {
	return NewPrinterColor(out, IsTerminal(out))
}

// NewPrinterColor creates a printer with colour forced on or off.
func NewPrinterColor(out io.Writer, enabled bool) *Printer {
	p := &Printer{
		out:     out,
		header:  color.New(color.Bold),
		ok:      color.New(color.FgGreen),
		changed: color.New(color.FgYellow),
		failed:  color.New(color.FgRed, color.Bold),
		skipped: color.New(color.FgCyan),
		insert:  color.New(color.FgGreen),
		delete:  color.New(color.FgRed),
		hunk:    color.New(color.FgCyan),
	}
	for _, c := range []*color.Color{p.header, p.ok, p.changed, p.failed, p.skipped, p.insert, p.delete, p.hunk} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Result prints "<target>: <status>".
func (p *Printer) Result(res *engine.Result) {
	c := p.ok
	if res.Changed {
		c = p.changed
	}
	fmt.Fprintf(p.out, "%s: %s\n", res.Target.String(), c.Sprint(res.Status()))
}

// Step prints one line per step status.
func (p *Printer) Step(name string, status stores.StepStatus, d time.Duration, err error) {
	word := map[stores.StepStatus]string{
		stores.StepStatusOK:      "OK",
		stores.StepStatusChanged: "changed",
		stores.StepStatusFailed:  "failed",
		stores.StepStatusSkipped: "skipped",
	}[status]
	if word == "" {
		word = string(status)
	}

	fmt.Fprintf(p.out, "%s: %s", name, p.statusColor(status).Sprint(word))
	if d > 0 {
		fmt.Fprintf(p.out, " (%s)", d.Round(time.Millisecond))
	}
	if err != nil {
		fmt.Fprintf(p.out, "\n  %s", p.failed.Sprint(err.Error()))
	}
	fmt.Fprintln(p.out)
}

// Summary prints the closing line of a run.
func (p *Printer) Summary(steps, changed int, d time.Duration, err error) {
	if err != nil {
		fmt.Fprintf(p.out, "%s after %d step(s): %v\n", p.failed.Sprint("FAILED"), steps, err)
		return
	}
	fmt.Fprintf(p.out, "%s %d step(s), %d changed in %s\n", p.header.Sprint("Done:"), steps, changed, d.Round(time.Millisecond))
}

// Diff prints a coloured unified diff of from and to. Nothing is printed when
// they are equal.
func (p *Printer) Diff(name, from, to string) {
	hunks := Hunks(DiffLines(from, to), DefaultContext)
	if len(hunks) == 0 {
		return
	}
	p.header.Fprintf(p.out, "--- a/%s\n+++ b/%s\n", name, name)
	for _, h := range hunks {
		p.hunk.Fprintln(p.out, h.Header())
		for _, l := range h.Lines {
			switch l.Kind {
			case LineInsert:
				p.insert.Fprint(p.out, l.String())
			case LineDelete:
				p.delete.Fprint(p.out, l.String())
			default:
				fmt.Fprint(p.out, l.String())
			}
		}
	}
}

// Policy prints every violation of a policy check followed by the verdict.
func (p *Printer) Policy(target string, res *policy.Result) {
	for _, v := range res.Violations {
		c := p.changed
		if v.Severity.Blocks() {
			c = p.failed
		}
		fmt.Fprintf(p.out, "%s %s: %s\n", c.Sprint(string(v.Severity)), v.Policy, v.Message)
	}
	verdict := p.ok.Sprint("allowed")
	if !res.Allowed {
		verdict = p.failed.Sprint("denied")
	}
	fmt.Fprintf(p.out, "%s: %s (%d policies evaluated)\n", target, verdict, res.Evaluated)
}

func (p *Printer) statusColor(s stores.StepStatus) *color.Color {
	switch s {
	case stores.StepStatusChanged:
		return p.changed
	case stores.StepStatusFailed:
		return p.failed
	case stores.StepStatusSkipped:
		return p.skipped
	}
	return p.ok
}
