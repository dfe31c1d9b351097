package runbook

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/insta/pkg/config"
)

func TestManifestFiles(t *testing.T) {
	m := &config.Manifest{
		Source: "/etc/insta/site.yaml",
		Steps: []config.Step{
			{Type: config.StepPatch, PatchFile: "patches/motd.diff"},
			{Type: config.StepPatch, PatchFile: "/srv/hosts.diff"},
			{Type: config.StepPatch, PatchFile: "~/home.diff"},
			{Type: config.StepCopy},
		},
	}

	got := ManifestFiles(m)
	want := []string{"/etc/insta/site.yaml", "/etc/insta/patches/motd.diff", "/srv/hosts.diff"}
	if len(got) != len(want) {
		t.Fatalf("ManifestFiles() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ManifestFiles()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestWatcherDebouncesChanges(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "site.yaml")
	other := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(manifest, []byte("steps: []\n"), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	w, err := NewWatcher(zerolog.Nop(), manifest)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	w.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(context.Context) error {
			calls.Add(1)
			return nil
		})
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(other, []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to write other file: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(manifest, []byte("steps: []\n# edit\n"), 0o644); err != nil {
			t.Fatalf("failed to write manifest: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(200 * time.Millisecond)

	if n := calls.Load(); n != 1 {
		t.Errorf("onChange called %d times, want 1", n)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}
