package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/insta/pkg/config"
	"github.com/openfroyo/insta/pkg/converge"
	"github.com/openfroyo/insta/pkg/engine"
	"github.com/openfroyo/insta/pkg/policy"
	"github.com/openfroyo/insta/pkg/runbook"
	"github.com/openfroyo/insta/pkg/stores"
	"github.com/openfroyo/insta/pkg/system"
	"github.com/openfroyo/insta/pkg/telemetry"
	"github.com/openfroyo/insta/pkg/ui"
)

// environment is everything a command needs to run primitives.
type environment struct {
	settings  config.Settings
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
	sys       *system.Local
	remote    system.RemoteCopier
	policy    *policy.Engine
	journal   *stores.SQLiteStore
	runner    *runbook.Runner
	printer   *ui.Printer
	out       io.Writer
}

// defaultConfigPath is where settings are read from when --config is not given.
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "insta", "config.yaml")
}

// loadSettings reads the settings file named by --config, or the default
// one. base, when not nil, is used instead of the defaults if no --config was
// given.
func loadSettings(base *config.Settings) (config.Settings, error) {
	var (
		s   config.Settings
		err error
	)
	switch {
	case configPath != "":
		s, err = config.NewLoader().LoadSettings(configPath)
	case base != nil:
		s = *base
	default:
		s, err = config.NewLoader().LoadSettings(defaultConfigPath())
	}
	if err != nil {
		return config.Settings{}, err
	}
	switch {
	case logLevel != "":
		s.LogLevel = logLevel
	case os.Getenv("LOG_LEVEL") != "":
		s.LogLevel = os.Getenv("LOG_LEVEL")
	}
	return s, nil
}

// newEnvironment wires settings into a runner. The caller must Close it.
func newEnvironment(ctx context.Context, s config.Settings, out io.Writer) (env *environment, err error) {
	zerolog.SetGlobalLevel(telemetry.ParseLevel(s.LogLevel))

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = buildVersion
	tcfg.Logging.Level = s.LogLevel
	tcfg.Logging.Format = s.LogFormat
	tcfg.Logging.NoColor = !ui.IsTerminal(os.Stderr)
	tcfg.Tracing.Enabled = s.TraceExporter != "" && s.TraceExporter != "none"
	tcfg.Tracing.Exporter = s.TraceExporter
	tcfg.Tracing.Endpoint = s.TraceEndpoint
	tcfg.Metrics.ListenAddress = s.MetricsAddress

	tel, err := telemetry.NewTelemetry(tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	env = &environment{
		settings:  s,
		telemetry: tel,
		logger:    tel.Logger.Zerolog(),
		printer:   ui.NewPrinter(out),
		out:       out,
	}
	defer func() {
		if err != nil {
			env.Close()
			env = nil
		}
	}()

	env.sys = system.NewLocal(env.logger)
	if dryRun {
		env.sys.Hook = func(c system.Command) {
			env.logger.Info().Str("command", c.String()).Bool("sudo", c.Sudo).Msg("dry run: running command")
		}
	}

	if env.remote, err = env.newRemote(); err != nil {
		return nil, err
	}

	if env.policy, err = policy.NewEngine(env.logger); err != nil {
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	if s.PolicyDir != "" {
		dir, err := env.sys.ExpandPath(s.PolicyDir)
		if err != nil {
			return nil, err
		}
		n, err := env.policy.LoadDir(ctx, dir)
		if err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
		env.logger.Debug().Int("count", n).Str("dir", dir).Msg("Loaded policies")
	}

	if !noJournal {
		path, err := env.sys.ExpandPath(s.JournalPath)
		if err != nil {
			return nil, err
		}
		if env.journal, err = stores.Open(ctx, stores.Config{Path: path}); err != nil {
			return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
		}
	}

	if addr, err := tel.Metrics.StartMetricsServer(ctx); err != nil {
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	} else if addr != "" {
		env.logger.Info().Str("address", addr).Msg("Serving metrics")
	}

	patcher := engine.NewPatcher(env.sys, env.remote, engine.Options{
		StagingPath: s.StagingPath,
		DryRun:      dryRun,
		Policy:      env.policy,
		Logger:      env.logger,
		Metrics:     tel.Metrics,
	})
	conv := converge.New(env.sys, env.logger, converge.WithStagingPath(s.StagingPath))

	opts := runbook.Options{DryRun: dryRun, Logger: env.logger}
	if env.journal != nil {
		opts.Journal = env.journal
	}
	env.runner = runbook.NewRunner(patcher, conv, opts)
	return env, nil
}

func (e *environment) newRemote() (system.RemoteCopier, error) {
	switch e.settings.Remote {
	case "scp":
		return system.NewSCPRemote(e.sys), nil
	case "", "sftp":
		opts := system.SSHOptions{
			User:                  e.settings.SSH.User,
			Port:                  e.settings.SSH.Port,
			StrictHostKeyChecking: e.settings.SSH.StrictHostKeyChecking,
		}
		var err error
		if e.settings.SSH.KeyPath != "" {
			if opts.PrivateKeyPath, err = e.sys.ExpandPath(e.settings.SSH.KeyPath); err != nil {
				return nil, err
			}
		}
		if e.settings.SSH.KnownHosts != "" {
			if opts.KnownHostsPath, err = e.sys.ExpandPath(e.settings.SSH.KnownHosts); err != nil {
				return nil, err
			}
		}
		return system.NewSFTPRemote(opts, e.logger), nil
	}
	return nil, fmt.Errorf("unknown remote %q", e.settings.Remote)
}

// withTelemetry attaches telemetry to ctx so runs are traced and counted.
func (e *environment) withTelemetry(ctx context.Context) context.Context {
	return e.telemetry.WithContext(ctx)
}

// Close releases the remote connections, the journal and the tracer.
func (e *environment) Close() error {
	var result *multierror.Error
	if c, ok := e.remote.(io.Closer); ok {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := e.telemetry.Shutdown(context.Background()); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		log.Warn().Err(err).Msg("Failed to release resources")
		return err
	}
	return nil
}

// printReport prints a run report as step lines, or as JSON with --json.
// Patch steps print their unified diff when showDiff is set.
func (e *environment) printReport(r *runbook.Report, showDiff bool) error {
	if r == nil {
		return nil
	}
	if jsonOutput {
		return writeJSON(e.out, r)
	}

	for _, s := range r.Steps {
		if s.Result != nil {
			if showDiff {
				e.printer.Diff(s.Result.Target.String(), s.Result.Previous, s.Result.Content)
			}
			if s.Err == nil {
				e.printer.Result(s.Result)
				continue
			}
		}
		e.printer.Step(s.Name, s.Status, s.Duration, s.Err)
	}
	if len(r.Steps) > 1 || r.Err != nil {
		e.printer.Summary(len(r.Steps), r.Changed(), r.Duration, r.Err)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
