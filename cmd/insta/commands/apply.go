package commands

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/insta/pkg/config"
	"github.com/openfroyo/insta/pkg/runbook"
)

func newApplyCommand() *cobra.Command {
	var (
		watch    bool
		showDiff bool
	)

	cmd := &cobra.Command{
		Use:   "apply MANIFEST",
		Short: "Run every step of a manifest",
		Long: `Run the steps of a YAML or CUE manifest in order.

This command:
  - Loads and validates the manifest
  - Runs each step, stopping at the first failure
  - Records the run and its steps in the journal
  - With --watch, re-applies whenever the manifest or a patch file changes

Settings in the manifest are used unless --config is given.`,
		Example: `  # Apply a manifest
  insta apply site.yaml

  # Show what would change
  insta apply site.cue --dry-run --diff

  # Keep the host converged while editing
  insta apply site.yaml --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			loader := config.NewLoader()

			m, err := loader.LoadManifest(args[0])
			if err != nil {
				return err
			}
			s, err := loadSettings(&m.Settings)
			if err != nil {
				return err
			}
			env, err := newEnvironment(ctx, s, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer env.Close()

			log.Debug().
				Str("manifest", m.Source).
				Int("steps", len(m.Steps)).
				Bool("dry_run", dryRun).
				Bool("watch", watch).
				Msg("Applying manifest")

			apply := func(ctx context.Context, m *config.Manifest) error {
				report, err := env.runner.Apply(env.withTelemetry(ctx), m)
				if perr := env.printReport(report, showDiff); perr != nil {
					return perr
				}
				return err
			}

			err = apply(ctx, m)
			if !watch {
				return err
			}
			if err != nil {
				env.logger.Error().Err(err).Msg("Apply failed, watching for changes")
			}

			if s.PolicyDir != "" {
				if dir, derr := env.sys.ExpandPath(s.PolicyDir); derr == nil {
					if werr := env.policy.Watch(ctx, dir); werr != nil {
						env.logger.Warn().Err(werr).Msg("Policies will not be reloaded")
					}
				}
			}

			w, err := runbook.NewWatcher(env.logger, runbook.ManifestFiles(m)...)
			if err != nil {
				return err
			}
			return w.Run(ctx, func(ctx context.Context) error {
				m, err := loader.LoadManifest(args[0])
				if err != nil {
					return err
				}
				return apply(ctx, m)
			})
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-apply when the manifest or its patch files change")
	cmd.Flags().BoolVar(&showDiff, "diff", false, "print a unified diff for every patch step")

	return cmd
}
