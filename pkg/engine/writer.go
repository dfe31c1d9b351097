package engine

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/openfroyo/insta/pkg/system"
	"github.com/openfroyo/insta/pkg/target"
	"github.com/openfroyo/insta/pkg/telemetry"
)

// DefaultStagingPath is where the converged document is staged before it is
// copied into place.
const DefaultStagingPath = "/tmp/insta.txt"

// writer persists a converged document through a staging file.
type writer struct {
	sys         system.System
	remote      system.RemoteCopier
	stagingPath string
	logger      zerolog.Logger
	metrics     *telemetry.Metrics
}

// write stages content and copies it to every location of t. It returns the
// destinations that were written successfully.
func (w *writer) write(ctx context.Context, t target.Target, content string) ([]string, error) {
	if err := w.sys.WriteFile(ctx, w.stagingPath, content); err != nil {
		return nil, NewWriteError("failed to stage document", err).WithTarget(t.String())
	}

	if !t.IsRemote() {
		return w.writeLocal(ctx, t)
	}
	return w.writeRemote(ctx, t)
}

func (w *writer) writeLocal(ctx context.Context, t target.Target) ([]string, error) {
	privileged := !w.sys.Writable(t.Path())
	if privileged {
		w.logger.Debug().Str("target", t.Path()).Msg("target not writable, escalating")
	}

	if err := w.sys.Copy(ctx, w.stagingPath, t.Path(), privileged); err != nil {
		return nil, NewWriteError("failed to write document", err).
			WithTarget(t.String()).
			WithDestination(t.Path())
	}
	return []string{t.Path()}, nil
}

// writeRemote pushes to destinations in order. A failed push does not stop
// the fan-out and nothing already pushed is rolled back.
func (w *writer) writeRemote(ctx context.Context, t target.Target) ([]string, error) {
	if w.remote == nil {
		return nil, NewTargetError(fmt.Errorf("no remote copier configured")).WithTarget(t.String())
	}

	var (
		written []string
		result  *multierror.Error
		failed  []string
	)
	for _, dest := range t.Destinations() {
		if err := w.remote.Push(ctx, w.stagingPath, dest); err != nil {
			w.metrics.RecordPush(false)
			w.logger.Error().Err(err).Str("destination", dest.String()).Msg("push failed")
			result = multierror.Append(result, fmt.Errorf("%s: %w", dest, err))
			failed = append(failed, dest.String())
			continue
		}
		w.metrics.RecordPush(true)
		w.logger.Debug().Str("destination", dest.String()).Msg("pushed")
		written = append(written, dest.String())
	}

	if err := result.ErrorOrNil(); err != nil {
		werr := NewWriteError(fmt.Sprintf("failed to push to %d of %d destinations", len(failed), len(t.Destinations())), err).
			WithTarget(t.String())
		if len(failed) == 1 {
			werr.WithDestination(failed[0])
		}
		return written, werr
	}
	return written, nil
}
