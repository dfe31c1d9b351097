// Package converge holds the idempotent host primitives that sit next to the
// patch engine: packages, git checkouts, symlinks, file copies, permissions,
// ownership, whole-file text, make-style rebuilds and downloads.
//
// Every primitive probes the current state first and only acts when it
// differs from the requested one. A no-op is logged as "<id>: OK" and
// reported as changed == false.
package converge

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/insta/pkg/engine"
	"github.com/openfroyo/insta/pkg/system"
	"github.com/openfroyo/insta/pkg/telemetry"
)

// Primitive names, used as metric labels and step types.
const (
	PrimitivePatch     = "patch"
	PrimitivePackage   = "package"
	PrimitiveClone     = "clone"
	PrimitiveLink      = "link"
	PrimitiveCopy      = "copy"
	PrimitiveChmod     = "chmod"
	PrimitiveChown     = "chown"
	PrimitiveWriteText = "write_text"
	PrimitiveMake      = "make"
	PrimitiveCurl      = "curl"
)

// ErrNotFound is returned when a primitive's source path does not exist.
var ErrNotFound = errors.New("path does not exist")

// Converger runs primitives against a system.
type Converger struct {
	sys         system.System
	logger      zerolog.Logger
	stagingPath string
}

// Option configures a Converger.
type Option func(*Converger)

// WithStagingPath sets the scratch file WriteText stages content in.
func WithStagingPath(p string) Option {
	return func(c *Converger) {
		if p != "" {
			c.stagingPath = p
		}
	}
}

// New creates a converger over sys.
func New(sys system.System, logger zerolog.Logger, opts ...Option) *Converger {
	c := &Converger{
		sys:         sys,
		logger:      logger.With().Str("component", "converge").Logger(),
		stagingPath: engine.DefaultStagingPath,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// System returns the system the converger acts on.
func (c *Converger) System() system.System {
	return c.sys
}

// observe wraps one primitive invocation in a telemetry operation and logs
// the no-op line.
func (c *Converger) observe(ctx context.Context, primitive, id string, fn func(ctx context.Context) (bool, error)) (bool, error) {
	op := telemetry.StartOperation(ctx, primitive, id)
	changed, err := fn(op.Ctx)
	op.End(changed, err)

	switch {
	case err != nil:
		c.logger.Error().Err(err).Str("primitive", primitive).Msg(id)
	case !changed:
		c.logger.Info().Str("primitive", primitive).Msg(id + ": OK")
	default:
		c.logger.Info().Str("primitive", primitive).Bool("changed", true).Msg(id)
	}
	return changed, err
}

// run executes cmd and wraps a failure with the primitive's context.
func (c *Converger) run(ctx context.Context, cmd system.Command) (*system.Output, error) {
	out, err := c.sys.Run(ctx, cmd)
	if err != nil {
		return out, fmt.Errorf("failed to run %s: %w", cmd, err)
	}
	return out, nil
}

// escalate reports whether writing p needs sudo.
func (c *Converger) escalate(p string) bool {
	return !c.sys.Writable(p)
}

func (c *Converger) expand(p string) (string, error) {
	abs, err := c.sys.ExpandPath(p)
	if err != nil {
		return "", fmt.Errorf("failed to expand %s: %w", p, err)
	}
	return abs, nil
}
