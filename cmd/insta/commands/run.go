package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	var (
		vars     map[string]string
		showDiff bool
	)

	cmd := &cobra.Command{
		Use:   "run COOKBOOK",
		Short: "Run a Starlark cookbook",
		Long: `Execute a Starlark cookbook.

Every primitive is a builtin that runs immediately and returns whether it
changed the host, so a cookbook can branch on earlier results:

  if write_text("/etc/app.conf", conf):
      make("/var/run/app.reload", ["systemctl reload app", "touch $@"])

Values passed with --var are available in the vars dict.`,
		Example: `  # Run a cookbook
  insta run bootstrap.star

  # Pass variables
  insta run bootstrap.star --var user=deploy --var branch=main`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read cookbook: %w", err)
			}

			s, err := loadSettings(nil)
			if err != nil {
				return err
			}
			env, err := newEnvironment(cmd.Context(), s, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer env.Close()

			log.Debug().
				Str("cookbook", args[0]).
				Int("vars", len(vars)).
				Bool("dry_run", dryRun).
				Msg("Running cookbook")

			report, err := env.runner.RunCookbook(env.withTelemetry(cmd.Context()), args[0], src, vars)
			if perr := env.printReport(report, showDiff); perr != nil {
				return perr
			}
			return err
		},
	}

	cmd.Flags().StringToStringVar(&vars, "var", nil, "cookbook variable as key=value (repeatable)")
	cmd.Flags().BoolVar(&showDiff, "diff", false, "print a unified diff for every patch")

	return cmd
}
