package runbook

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/openfroyo/insta/pkg/config"
)

// DefaultDebounce is how long Watch waits for a burst of changes to settle.
const DefaultDebounce = 300 * time.Millisecond

// Watcher calls a function whenever one of a set of files changes.
type Watcher struct {
	files    map[string]bool
	debounce time.Duration
	logger   zerolog.Logger
}

// NewWatcher creates a watcher for files. Their parent directories are
// watched, so files replaced by rename are still seen.
func NewWatcher(logger zerolog.Logger, files ...string) (*Watcher, error) {
	w := &Watcher{
		files:    make(map[string]bool, len(files)),
		debounce: DefaultDebounce,
		logger:   logger.With().Str("component", "watch").Logger(),
	}
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", f, err)
		}
		w.files[abs] = true
	}
	return w, nil
}

// ManifestFiles returns the manifest file and every patch file it references.
func ManifestFiles(m *config.Manifest) []string {
	files := []string{m.Source}
	base := filepath.Dir(m.Source)
	for _, s := range m.Steps {
		if s.PatchFile == "" || s.PatchFile[0] == '~' {
			continue
		}
		p := s.PatchFile
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		files = append(files, p)
	}
	return files
}

// Run blocks until ctx is done, calling onChange after each settled burst of
// changes to the watched files. An onChange error is logged and watching
// continues.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dirs := map[string]bool{}
	for f := range w.files {
		dir := filepath.Dir(f)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}

	w.logger.Info().Int("files", len(w.files)).Msg("Watching for changes")

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !w.files[filepath.Clean(event.Name)] || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("File changed")

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := onChange(ctx); err != nil {
				w.logger.Error().Err(err).Msg("Re-apply failed")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}
