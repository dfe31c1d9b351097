package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/insta/pkg/policy"
	"github.com/openfroyo/insta/pkg/target"
	"github.com/openfroyo/insta/pkg/ui"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect write policies",
		Long: `Inspect the rego policies that gate every write.

Builtin policies protect files that must be edited with dedicated tools.
Extra .rego or .json policies are loaded from the policy_dir setting.`,
	}

	cmd.AddCommand(newPolicyCheckCommand())
	cmd.AddCommand(newPolicyListCommand())

	return cmd
}

func newPolicyCheckCommand() *cobra.Command {
	var hosts []string

	cmd := &cobra.Command{
		Use:   "check [TARGET]",
		Short: "Evaluate the write policies for a target without writing",
		Example: `  # Would a write to /etc/sudoers be allowed?
  insta policy check /etc/sudoers

  # Check remote destinations
  insta policy check --host web1:/etc/motd --host web2:/etc/motd`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc := target.Hosts(hosts...)
			if len(args) == 1 {
				desc = target.Path(args[0])
			}
			t, err := target.Resolve(desc, nil)
			if err != nil {
				return err
			}

			engine, err := loadPolicies(cmd)
			if err != nil {
				return err
			}

			res, err := engine.Authorize(cmd.Context(), policy.InputFor(policy.OperationWrite, t))
			if err != nil {
				return err
			}
			if jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				ui.NewPrinter(cmd.OutOrStdout()).Policy(t.String(), res)
			}
			if !res.Allowed {
				return &policy.DeniedError{Target: t.String(), Violations: res.Blocking()}
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&hosts, "host", nil, "remote host:path destination (repeatable)")

	return cmd
}

func newPolicyListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := loadPolicies(cmd)
			if err != nil {
				return err
			}
			policies := engine.ListPolicies()
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), policies)
			}
			for _, p := range policies {
				origin := p.Source
				if p.Builtin {
					origin = "builtin"
				}
				state := "enabled"
				if !p.Enabled {
					state = "disabled"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-8s %-8s %s\n", p.Name, p.Severity, state, origin)
			}
			return nil
		},
	}
}

// loadPolicies builds a policy engine with the builtins and the policy_dir.
func loadPolicies(cmd *cobra.Command) (*policy.Engine, error) {
	s, err := loadSettings(nil)
	if err != nil {
		return nil, err
	}
	engine, err := policy.NewEngine(log.Logger)
	if err != nil {
		return nil, err
	}
	if s.PolicyDir == "" {
		return engine, nil
	}
	dir, err := target.Canonicalize(s.PolicyDir)
	if err != nil {
		return nil, err
	}
	if _, err := engine.LoadDir(cmd.Context(), dir); err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	return engine, nil
}
