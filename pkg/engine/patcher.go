package engine

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/openfroyo/insta/pkg/system"
	"github.com/openfroyo/insta/pkg/target"
	"github.com/openfroyo/insta/pkg/telemetry"
)

// Authorizer decides whether a converged document may be written to t.
type Authorizer interface {
	AuthorizeWrite(ctx context.Context, t target.Target) error
}

// Options configures a Patcher.
type Options struct {
	// StagingPath is the local scratch file. Defaults to DefaultStagingPath.
	// Patchers that run concurrently need distinct staging paths.
	StagingPath string

	// DryRun converges in memory and reports the result without writing.
	DryRun bool

	// Policy gates every write. Nil allows all writes.
	Policy Authorizer

	// Logger receives operation logs.
	Logger zerolog.Logger

	// Metrics records hunk and push outcomes. May be nil.
	Metrics *telemetry.Metrics
}

// Patcher applies hunk sets to documents.
type Patcher struct {
	sys     system.System
	store   *documentStore
	writer  *writer
	opts    Options
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// NewPatcher creates a patcher over sys. remote may be nil when only local
// targets are patched.
func NewPatcher(sys system.System, remote system.RemoteCopier, opts Options) *Patcher {
	if opts.StagingPath == "" {
		opts.StagingPath = DefaultStagingPath
	}
	logger := opts.Logger.With().Str("component", "engine").Logger()

	return &Patcher{
		sys:   sys,
		store: &documentStore{sys: sys, remote: remote},
		writer: &writer{
			sys:         sys,
			remote:      remote,
			stagingPath: opts.StagingPath,
			logger:      logger,
			metrics:     opts.Metrics,
		},
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// Patch resolves d and applies the raw hunks to it in order.
func (p *Patcher) Patch(ctx context.Context, d target.Descriptor, hunks ...string) (*Result, error) {
	t, err := target.Resolve(d, p.sys)
	if err != nil {
		return nil, p.fail(NewTargetError(err).WithTarget(d.String()))
	}
	return p.PatchTarget(ctx, t, ParseHunks(hunks...))
}

// PatchTarget applies hunks to an already resolved target.
//
// The document is loaded once, every hunk is applied in memory and the
// result is written at most once. When no hunk changes the document nothing
// is staged or written.
func (p *Patcher) PatchTarget(ctx context.Context, t target.Target, hunks []Hunk) (*Result, error) {
	logger := p.logger.With().Str("target", t.String()).Logger()

	doc, err := p.store.load(ctx, t, hunks)
	if err != nil {
		return nil, p.fail(err)
	}

	content, outcomes, changed, err := Converge(doc.content, hunks)
	for _, o := range outcomes {
		p.metrics.RecordHunk(string(o.Outcome))
		logger.Debug().Int("hunk", o.Index).Str("outcome", string(o.Outcome)).Msg("hunk evaluated")
	}
	if err != nil {
		var perr *Error
		if errors.As(err, &perr) {
			perr.WithTarget(t.String())
		}
		return nil, p.fail(err)
	}

	result := &Result{
		Target:   t,
		Changed:  changed,
		Created:  doc.created && changed,
		DryRun:   p.opts.DryRun,
		Previous: doc.content,
		Content:  content,
		Outcomes: outcomes,
	}

	if !changed {
		logger.Info().Bool("changed", false).Msg(t.String() + ": OK")
		return result, nil
	}

	if p.opts.DryRun {
		logger.Info().Bool("changed", true).Msg(t.String() + ": would converge")
		return result, nil
	}

	if p.opts.Policy != nil {
		if err := p.opts.Policy.AuthorizeWrite(ctx, t); err != nil {
			return result, p.fail(NewPolicyError(err).WithTarget(t.String()))
		}
	}

	written, err := p.writer.write(ctx, t, content)
	result.Written = written
	if err != nil {
		return result, p.fail(err)
	}

	logger.Info().Bool("changed", true).Bool("created", result.Created).Msg(t.String() + ": converged")
	return result, nil
}

func (p *Patcher) fail(err error) error {
	class, code := "permanent", "UNKNOWN"
	var perr *Error
	if errors.As(err, &perr) {
		class, code = string(perr.Class), perr.Code
	}
	p.metrics.RecordError(class, code)
	p.logger.Error().Err(err).Msg("patch failed")
	return err
}
