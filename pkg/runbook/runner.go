package runbook

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/insta/pkg/config"
	"github.com/openfroyo/insta/pkg/converge"
	"github.com/openfroyo/insta/pkg/engine"
	"github.com/openfroyo/insta/pkg/stores"
	"github.com/openfroyo/insta/pkg/target"
	"github.com/openfroyo/insta/pkg/telemetry"
)

// Journal records runs and their steps. *stores.SQLiteStore implements it.
type Journal interface {
	BeginRun(ctx context.Context, source string, dryRun bool, traceID string) (*stores.Run, error)
	RecordStep(ctx context.Context, step *stores.Step) error
	FinishRun(ctx context.Context, id string, status stores.RunStatus, errMsg *string) error
}

// Options configures a Runner.
type Options struct {
	// DryRun reports patch steps without writing and skips every other
	// primitive. The Patcher must be built with the same setting.
	DryRun bool

	// Journal records runs. May be nil.
	Journal Journal

	// Logger receives run logs.
	Logger zerolog.Logger
}

// Runner executes manifests and cookbooks step by step. Steps run in order
// and the first failure stops the run.
type Runner struct {
	patcher *engine.Patcher
	conv    *converge.Converger
	journal Journal
	dryRun  bool
	logger  zerolog.Logger
}

// NewRunner creates a runner that patches through patcher and runs every
// other primitive through conv.
func NewRunner(patcher *engine.Patcher, conv *converge.Converger, opts Options) *Runner {
	return &Runner{
		patcher: patcher,
		conv:    conv,
		journal: opts.Journal,
		dryRun:  opts.DryRun,
		logger:  opts.Logger.With().Str("component", "runbook").Logger(),
	}
}

// run is the state of one execution.
type run struct {
	id      string
	source  string
	baseDir string
	report  *Report
	seq     int
}

// Apply runs every step of m.
func (r *Runner) Apply(ctx context.Context, m *config.Manifest) (*Report, error) {
	baseDir := ""
	if m.Source != "" {
		baseDir = filepath.Dir(m.Source)
	}
	return r.execute(ctx, m.Source, baseDir, func(ctx context.Context, rn *run) error {
		for _, step := range m.Steps {
			if _, err := r.runStep(ctx, rn, step); err != nil {
				return err
			}
		}
		return nil
	})
}

// Patch runs a single patch operation as a one-step run.
func (r *Runner) Patch(ctx context.Context, d target.Descriptor, hunks ...string) (*Report, error) {
	step := config.Step{Type: config.StepPatch, Hunks: hunks, Hosts: d.Destinations, Target: d.Path}
	return r.execute(ctx, "patch "+d.String(), "", func(ctx context.Context, rn *run) error {
		_, err := r.runStep(ctx, rn, step)
		return err
	})
}

// execute wraps body in a journal run and a trace span.
func (r *Runner) execute(ctx context.Context, source, baseDir string, body func(context.Context, *run) error) (*Report, error) {
	span := trace.SpanFromContext(ctx)
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		ctx, span = tel.Tracer.StartRunSpan(ctx, "", source)
		defer span.End()
	}

	rn := &run{
		source:  source,
		baseDir: baseDir,
		report:  &Report{Source: source, DryRun: r.dryRun, StartedAt: time.Now()},
	}

	if r.journal != nil {
		jr, err := r.journal.BeginRun(context.WithoutCancel(ctx), source, r.dryRun, telemetry.TraceID(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to journal run: %w", err)
		}
		rn.id = jr.ID
		rn.report.RunID = jr.ID
		span.SetAttributes(telemetry.AttrRunID.String(jr.ID))
	}

	logger := r.logger.With().Str("run_id", rn.id).Str("source", source).Logger()
	logger.Debug().Msg("run started")

	err := body(ctx, rn)
	rn.report.Duration = time.Since(rn.report.StartedAt)
	rn.report.Err = err

	status := stores.RunStatusCompleted
	var errMsg *string
	switch {
	case ctx.Err() != nil:
		status = stores.RunStatusCancelled
	case err != nil:
		status = stores.RunStatusFailed
	}
	if err != nil {
		msg := err.Error()
		errMsg = &msg
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}

	if r.journal != nil && rn.id != "" {
		// The run context may already be cancelled.
		if jerr := r.journal.FinishRun(context.WithoutCancel(ctx), rn.id, status, errMsg); jerr != nil {
			logger.Warn().Err(jerr).Msg("failed to finish journal run")
		}
	}

	logger.Info().
		Int("steps", len(rn.report.Steps)).
		Int("changed", rn.report.Changed()).
		Str("status", string(status)).
		Msg("run finished")

	return rn.report, err
}

// runStep executes one step and records it in the report and the journal.
func (r *Runner) runStep(ctx context.Context, rn *run, step config.Step) (*StepReport, error) {
	rn.seq++
	sr := &StepReport{
		Seq:       rn.seq,
		Name:      step.Name(),
		Primitive: step.Type,
		Subject:   step.Subject(),
	}
	started := time.Now()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	switch {
	case r.dryRun && step.Type != config.StepPatch:
		sr.Status = stores.StepStatusSkipped
		r.logger.Info().Str("primitive", step.Type).Msg(sr.Name + ": skipped in dry run")
	default:
		changed, err := r.dispatch(ctx, rn, step, sr)
		sr.Err = err
		sr.Status = stores.StepStatusOf(changed, err)
	}
	sr.Duration = time.Since(started)
	rn.report.Steps = append(rn.report.Steps, sr)

	if r.journal != nil && rn.id != "" {
		js := &stores.Step{
			RunID:     rn.id,
			Seq:       sr.Seq,
			Name:      sr.Name,
			Primitive: sr.Primitive,
			Subject:   sr.Subject,
			Status:    sr.Status,
			StartedAt: started.UTC(),
			Duration:  sr.Duration,
		}
		if sr.Err != nil {
			msg := sr.Err.Error()
			js.Error = &msg
		}
		if err := r.journal.RecordStep(context.WithoutCancel(ctx), js); err != nil {
			r.logger.Warn().Err(err).Str("step", sr.Name).Msg("failed to journal step")
		}
	}

	if sr.Err != nil {
		return sr, fmt.Errorf("step %d (%s): %w", sr.Seq, sr.Name, sr.Err)
	}
	return sr, nil
}

func (r *Runner) dispatch(ctx context.Context, rn *run, s config.Step, sr *StepReport) (bool, error) {
	c := r.conv
	switch s.Type {
	case config.StepPatch:
		res, err := r.patch(ctx, rn, s)
		sr.Result = res
		return res != nil && res.Changed, err
	case config.StepPackage:
		return c.Package(ctx, s.Packages...)
	case config.StepClone:
		return c.Clone(ctx, s.Repo, s.Dir, s.Commit)
	case config.StepLink:
		return c.Link(ctx, s.From, s.To)
	case config.StepCopy:
		return c.Copy(ctx, s.From, s.To)
	case config.StepChmod:
		return c.Chmod(ctx, s.Path, s.Mode)
	case config.StepChown:
		return c.Chown(ctx, s.Path, s.Owner)
	case config.StepWriteText:
		return c.WriteText(ctx, s.Path, s.Text)
	case config.StepMake:
		return c.Make(ctx, s.Target, s.Commands, s.Deps...)
	case config.StepCurl:
		file, changed, err := c.Curl(ctx, s.URL, s.Dir)
		sr.Output = file
		return changed, err
	}
	return false, fmt.Errorf("unknown step type %q", s.Type)
}

func (r *Runner) patch(ctx context.Context, rn *run, s config.Step) (*engine.Result, error) {
	hunks := append([]string(nil), s.Hunks...)
	if s.PatchFile != "" {
		patchFile := s.PatchFile
		if !filepath.IsAbs(patchFile) && rn.baseDir != "" && patchFile[0] != '~' {
			patchFile = filepath.Join(rn.baseDir, patchFile)
		}
		p, err := r.conv.System().ExpandPath(patchFile)
		if err != nil {
			return nil, err
		}
		text, err := r.conv.System().ReadFile(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to read patch file: %w", err)
		}
		hunks = append(hunks, engine.SplitHunks(text)...)
	}

	d := target.Path(s.Target)
	if len(s.Hosts) > 0 {
		d = target.Hosts(s.Hosts...)
	}

	op := telemetry.StartOperation(ctx, config.StepPatch, s.Name())
	res, err := r.patcher.Patch(op.Ctx, d, hunks...)
	op.End(res != nil && res.Changed, err)
	return res, err
}
