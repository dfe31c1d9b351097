package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/insta/pkg/engine"
	"github.com/openfroyo/insta/pkg/target"
)

func newPatchCommand() *cobra.Command {
	var (
		patchFiles []string
		hunks      []string
		hosts      []string
		showDiff   bool
	)

	cmd := &cobra.Command{
		Use:   "patch [TARGET]",
		Short: "Converge one file with a set of hunks",
		Long: `Apply hunks to a local file or to the same path on remote hosts.

A hunk is a block of lines. Lines starting with '+' must be present, lines
starting with '-' must be absent, other lines are context. Patch files hold
either a unified diff, split on its @@ headers, or hunks separated by blank
lines. Patching an already converged file changes nothing.

TARGET is a local path or host:path. Use --host for several destinations.`,
		Example: `  # Make sure a line is present
  insta patch /etc/hosts --hunk '+10.0.0.5 db'

  # Apply a patch file and show the diff
  insta patch ~/.bashrc -p bashrc.patch --diff

  # Patch the same file on two hosts
  insta patch --host web1:/etc/motd --host web2:/etc/motd -p motd.patch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var desc target.Descriptor
			switch {
			case len(args) == 1 && len(hosts) > 0:
				return fmt.Errorf("give either TARGET or --host, not both")
			case len(args) == 1:
				desc = target.Path(args[0])
			case len(hosts) > 0:
				desc = target.Hosts(hosts...)
			default:
				return fmt.Errorf("a TARGET or --host is required")
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

			all := append([]string(nil), hunks...)
			for _, f := range patchFiles {
				p, err := env.sys.ExpandPath(f)
				if err != nil {
					return err
				}
				text, err := env.sys.ReadFile(cmd.Context(), p)
				if err != nil {
					return fmt.Errorf("failed to read patch file: %w", err)
				}
				all = append(all, engine.SplitHunks(text)...)
			}
			if len(all) == 0 {
				return fmt.Errorf("no hunks given: use --hunk or -p")
			}

			log.Debug().
				Str("target", desc.String()).
				Int("hunks", len(all)).
				Bool("dry_run", dryRun).
				Msg("Patching")

			report, err := env.runner.Patch(env.withTelemetry(cmd.Context()), desc, all...)
			if perr := env.printReport(report, showDiff); perr != nil {
				return perr
			}
			return err
		},
	}

	cmd.Flags().StringArrayVarP(&patchFiles, "patch-file", "p", nil, "unified diff or file of blank-line separated hunks (repeatable)")
	cmd.Flags().StringArrayVar(&hunks, "hunk", nil, "hunk text (repeatable)")
	cmd.Flags().StringArrayVar(&hosts, "host", nil, "remote host:path destination (repeatable)")
	cmd.Flags().BoolVar(&showDiff, "diff", false, "print a unified diff of the change")

	return cmd
}
