package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	logLevel   string
	dryRun     bool
	jsonOutput bool
	noJournal  bool

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "insta",
		Short: "insta - idempotent host provisioning",
		Long: `insta converges files and hosts to a described state.

Features:
  - Idempotent line patches for local files and remote host:path targets
  - Provisioning primitives: packages, clones, links, copies, modes, owners
  - Manifests in YAML or CUE, cookbooks in Starlark
  - Write policy via OPA/rego
  - A SQLite journal of every run`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path (default $XDG_CONFIG_HOME/insta/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "report what would change without writing")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noJournal, "no-journal", false, "do not record the run in the journal")

	rootCmd.AddCommand(newPatchCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newPolicyCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}
