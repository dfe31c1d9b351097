package runbook

import (
	"time"

	"github.com/openfroyo/insta/pkg/engine"
	"github.com/openfroyo/insta/pkg/stores"
)

// Report is the outcome of one run.
type Report struct {
	RunID     string        `json:"run_id,omitempty"`
	Source    string        `json:"source"`
	DryRun    bool          `json:"dry_run"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Steps     []*StepReport `json:"steps"`

	// Err is the error that stopped the run.
	Err error `json:"-"`
}

// StepReport is the outcome of one step.
type StepReport struct {
	Seq       int               `json:"seq"`
	Name      string            `json:"name"`
	Primitive string            `json:"primitive"`
	Subject   string            `json:"subject,omitempty"`
	Status    stores.StepStatus `json:"status"`
	Duration  time.Duration     `json:"duration"`

	// Output is the downloaded file of a curl step.
	Output string `json:"output,omitempty"`

	// Result is set for patch steps.
	Result *engine.Result `json:"result,omitempty"`

	Err error `json:"-"`
}

// Changed returns the number of steps that changed the host.
func (r *Report) Changed() int {
	return r.count(stores.StepStatusChanged)
}

// Failed reports whether the run stopped on an error.
func (r *Report) Failed() bool {
	return r.Err != nil
}

// Counts returns the number of steps per status.
func (r *Report) Counts() map[stores.StepStatus]int {
	counts := map[stores.StepStatus]int{}
	for _, s := range r.Steps {
		counts[s.Status]++
	}
	return counts
}

func (r *Report) count(status stores.StepStatus) int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == status {
			n++
		}
	}
	return n
}
