package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/openfroyo/insta/pkg/stores"
	"github.com/openfroyo/insta/pkg/target"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		offset int
		prune  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Long: `List the runs recorded in the journal, newest first.

Use "insta history show RUN_ID" for the steps of one run.`,
		Example: `  # Last 20 runs
  insta history

  # Forget runs older than a week
  insta history --prune 168h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openJournal(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			if prune > 0 {
				n, err := store.PruneBefore(ctx, time.Now().Add(-prune))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d run(s)\n", n)
				return nil
			}

			runs, err := store.ListRuns(ctx, limit, offset)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), runs)
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "maximum number of runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")
	cmd.Flags().DurationVar(&prune, "prune", 0, "delete runs older than this instead of listing")

	cmd.AddCommand(newHistoryShowCommand())

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show the steps of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openJournal(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			summary, err := store.Summarize(ctx, args[0])
			if err != nil {
				return err
			}
			steps, err := store.ListSteps(ctx, args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), struct {
					*stores.RunSummary
					Steps []*stores.Step `json:"steps"`
				}{summary, steps})
			}
			printRun(cmd.OutOrStdout(), summary, steps)
			return nil
		},
	}
}

// openJournal opens the journal named by the settings.
func openJournal(cmd *cobra.Command) (*stores.SQLiteStore, error) {
	s, err := loadSettings(nil)
	if err != nil {
		return nil, err
	}
	path, err := target.Canonicalize(s.JournalPath)
	if err != nil {
		return nil, err
	}
	return stores.Open(cmd.Context(), stores.Config{Path: path})
}

func printRuns(w io.Writer, runs []*stores.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSTARTED\tSOURCE")
	for _, r := range runs {
		status := string(r.Status)
		if r.DryRun {
			status += " (dry run)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, status, humanize.Time(r.StartedAt), r.Source)
	}
	tw.Flush()
}

func printRun(w io.Writer, s *stores.RunSummary, steps []*stores.Step) {
	fmt.Fprintf(w, "Run:     %s\n", s.ID)
	fmt.Fprintf(w, "Source:  %s\n", s.Source)
	fmt.Fprintf(w, "Status:  %s\n", s.Status)
	fmt.Fprintf(w, "Started: %s (%s)\n", s.StartedAt.Local().Format(time.RFC3339), humanize.Time(s.StartedAt))
	if s.CompletedAt != nil {
		fmt.Fprintf(w, "Took:    %s\n", s.CompletedAt.Sub(s.StartedAt).Round(time.Millisecond))
	}
	if s.TraceID != "" {
		fmt.Fprintf(w, "Trace:   %s\n", s.TraceID)
	}
	if s.Error != nil {
		fmt.Fprintf(w, "Error:   %s\n", *s.Error)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tSTEP\tSTATUS\tDURATION")
	for _, st := range steps {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", st.Seq, st.Name, st.Status, st.Duration.Round(time.Millisecond))
	}
	tw.Flush()

	fmt.Fprintf(w, "\n%d ok, %d changed, %d failed, %d skipped\n",
		s.Counts[stores.StepStatusOK], s.Counts[stores.StepStatusChanged],
		s.Counts[stores.StepStatusFailed], s.Counts[stores.StepStatusSkipped])
}
