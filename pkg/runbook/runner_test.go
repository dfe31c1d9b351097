package runbook

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/insta/pkg/config"
	"github.com/openfroyo/insta/pkg/converge"
	"github.com/openfroyo/insta/pkg/engine"
	"github.com/openfroyo/insta/pkg/stores"
	"github.com/openfroyo/insta/pkg/system"
	"github.com/openfroyo/insta/pkg/target"
	"github.com/openfroyo/insta/pkg/telemetry"
)

type fixture struct {
	runner  *Runner
	mem     *system.Memory
	remote  *system.MemoryRemote
	journal *stores.SQLiteStore
}

func newFixture(t *testing.T, dryRun bool) *fixture {
	t.Helper()

	journal, err := stores.Open(context.Background(), stores.Config{Path: stores.MemoryPath})
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })

	m := system.NewMemory()
	remote := system.NewMemoryRemote(m)
	patcher := engine.NewPatcher(m, remote, engine.Options{DryRun: dryRun, Logger: zerolog.Nop()})
	conv := converge.New(m, zerolog.Nop())

	return &fixture{
		runner:  NewRunner(patcher, conv, Options{DryRun: dryRun, Journal: journal, Logger: zerolog.Nop()}),
		mem:     m,
		remote:  remote,
		journal: journal,
	}
}

func TestApplyManifest(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.mem.AddFile("/home/insta/.bashrc", "alias ll='ls -l'\n")
	f.mem.AddFile("/work/site/bashrc.diff", "@@ -1 +1,2 @@\n alias ll='ls -l'\n+export EDITOR=vim\n")

	m := &config.Manifest{
		Source: "/work/site/site.yaml",
		Steps: []config.Step{
			{ID: "bashrc", Type: config.StepPatch, Target: "~/.bashrc", PatchFile: "bashrc.diff"},
			{Type: config.StepWriteText, Path: "~/.config/insta/motd", Text: "managed\n"},
			{Type: config.StepChmod, Path: "~/.config/insta/motd", Mode: "600"},
		},
	}

	report, err := f.runner.Apply(ctx, m)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if report.RunID == "" || len(report.Steps) != 3 || report.Changed() != 3 {
		t.Fatalf("unexpected report %+v", report)
	}
	if got, _ := f.mem.File("/home/insta/.bashrc"); got != "alias ll='ls -l'\nexport EDITOR=vim\n" {
		t.Errorf(".bashrc = %q", got)
	}
	if report.Steps[0].Result == nil || !report.Steps[0].Result.Changed {
		t.Errorf("patch step result = %+v", report.Steps[0].Result)
	}
	if report.Steps[1].Name != "write_text:~/.config/insta/motd" {
		t.Errorf("derived step name = %s", report.Steps[1].Name)
	}

	run, err := f.journal.GetRun(ctx, report.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != stores.RunStatusCompleted || run.Source != m.Source {
		t.Errorf("journal run = %+v", run)
	}
	steps, err := f.journal.ListSteps(ctx, report.RunID)
	if err != nil {
		t.Fatalf("ListSteps() error = %v", err)
	}
	if len(steps) != 3 || steps[0].Name != "bashrc" || steps[0].Subject != "~/.bashrc" || steps[0].Status != stores.StepStatusChanged {
		t.Errorf("journal steps = %+v", steps[0])
	}

	again, err := f.runner.Apply(ctx, m)
	if err != nil {
		t.Fatalf("second Apply() error = %v", err)
	}
	if again.Changed() != 0 {
		t.Errorf("second Apply() changed %d steps, want 0", again.Changed())
	}
	if again.Counts()[stores.StepStatusOK] != 3 {
		t.Errorf("second Apply() counts = %v", again.Counts())
	}
}

func TestApplyStopsAtFirstFailure(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.mem.AddFile("/etc/motd", "hello\n")

	m := &config.Manifest{
		Source: "site.yaml",
		Steps: []config.Step{
			{ID: "motd", Type: config.StepPatch, Target: "/etc/motd", Hunks: []string{"-goodbye\n+farewell"}},
			{ID: "never", Type: config.StepWriteText, Path: "/etc/never", Text: "x"},
		},
	}

	report, err := f.runner.Apply(ctx, m)
	if !engine.IsUnreconcilable(err) {
		t.Fatalf("Apply() error = %v, want unreconcilable", err)
	}
	if !strings.Contains(err.Error(), "step 1 (motd)") {
		t.Errorf("error %q does not name the step", err)
	}
	if len(report.Steps) != 1 || report.Steps[0].Status != stores.StepStatusFailed || !report.Failed() {
		t.Errorf("unexpected report %+v", report.Steps)
	}
	if _, ok := f.mem.File("/etc/never"); ok {
		t.Error("step after failure ran")
	}

	run, err := f.journal.GetRun(ctx, report.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != stores.RunStatusFailed || run.Error == nil {
		t.Errorf("journal run = %+v", run)
	}
}

func TestApplyDryRunSkipsPrimitives(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.mem.AddFile("/etc/hosts", "127.0.0.1 localhost\n")

	m := &config.Manifest{
		Source: "site.yaml",
		Steps: []config.Step{
			{Type: config.StepPatch, Target: "/etc/hosts", Hunks: []string{"+10.0.0.2 db"}},
			{Type: config.StepPackage, Packages: []string{"git"}},
		},
	}

	report, err := f.runner.Apply(ctx, m)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if report.Steps[0].Status != stores.StepStatusChanged || report.Steps[0].Result.Status() != "would converge" {
		t.Errorf("patch step = %+v", report.Steps[0])
	}
	if report.Steps[1].Status != stores.StepStatusSkipped {
		t.Errorf("package step status = %s, want skipped", report.Steps[1].Status)
	}
	if got, _ := f.mem.File("/etc/hosts"); got != "127.0.0.1 localhost\n" {
		t.Errorf("dry run modified /etc/hosts: %q", got)
	}
	if len(f.mem.Commands) != 0 {
		t.Errorf("dry run ran commands %v", f.mem.Commands)
	}

	run, _ := f.journal.GetRun(ctx, report.RunID)
	if run == nil || !run.DryRun {
		t.Errorf("journal run = %+v", run)
	}
}

func TestPatchRunsMultiHost(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	h1 := target.Destination{Host: "h1", Path: "/etc/motd"}
	h2 := target.Destination{Host: "h2", Path: "/etc/motd"}
	f.remote.AddFile(h1, "hello\n")

	report, err := f.runner.Patch(ctx, target.Hosts("h1:/etc/motd", "h2:/etc/motd"), "+managed")
	if err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if report.Changed() != 1 {
		t.Errorf("Changed() = %d, want 1", report.Changed())
	}
	for _, d := range []target.Destination{h1, h2} {
		if got, _ := f.remote.File(d); got != "hello\nmanaged\n" {
			t.Errorf("%s = %q", d, got)
		}
	}
	if !strings.HasPrefix(report.Source, "patch ") {
		t.Errorf("Source = %q", report.Source)
	}
}

func TestApplyRecordsTelemetry(t *testing.T) {
	f := newFixture(t, false)

	cfg := telemetry.DefaultConfig()
	metrics, err := telemetry.NewMetrics(cfg.Metrics)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	tel := telemetry.Nop()
	tel.Metrics = metrics
	ctx := tel.WithContext(context.Background())

	m := &config.Manifest{Steps: []config.Step{
		{Type: config.StepWriteText, Path: "/srv/a", Text: "a"},
		{Type: config.StepPatch, Target: "/srv/a", Hunks: []string{"+b"}},
	}}
	if _, err := f.runner.Apply(ctx, m); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	families, err := metrics.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := map[string]bool{}
	for _, fam := range families {
		if fam.GetName() != "insta_operations_total" {
			continue
		}
		for _, metric := range fam.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "primitive" {
					found[l.GetValue()] = true
				}
			}
		}
	}
	if !found["patch"] || !found["write_text"] {
		t.Errorf("operations recorded for %v, want patch and write_text", found)
	}
}

func TestApplyCancelled(t *testing.T) {
	f := newFixture(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &config.Manifest{Steps: []config.Step{{Type: config.StepWriteText, Path: "/srv/a", Text: "a"}}}
	report, err := f.runner.Apply(ctx, m)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Apply() error = %v, want context.Canceled", err)
	}

	run, err := f.journal.GetRun(context.Background(), report.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != stores.RunStatusCancelled {
		t.Errorf("Status = %s, want cancelled", run.Status)
	}
}
