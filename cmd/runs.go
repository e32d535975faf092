package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/site-analyzer/internal/model"
	"github.com/sells-group/site-analyzer/internal/monitoring"
	"github.com/sells-group/site-analyzer/internal/present"
	"github.com/sells-group/site-analyzer/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect analysis run history",
	Long:  "Commands for listing and viewing stored analysis runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("cache"); err != nil {
			return err
		}
		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{Status: model.RunStatus(status), Limit: limit})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the result table of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("cache"); err != nil {
			return err
		}
		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		if run.Table == nil {
			fmt.Fprintf(os.Stderr, "Run %s has no results yet (status %s).\n", run.ID, run.Status)
			return nil
		}

		format, _ := cmd.Flags().GetString("format")
		return present.Write(cmd.OutOrStdout(), format, *run.Table)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("cache"); err != nil {
			return err
		}
		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		snap, err := monitoring.NewCollector(st).Collect(ctx, since)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(cmd.OutOrStdout(), snap)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by status (running, complete, canceled, failed)")
	runsListCmd.Flags().Int("limit", 20, "max runs to list")
	runsShowCmd.Flags().String("format", "table", "output format: table, csv or json")

	runsStatsCmd.Flags().Duration("since", 7*24*time.Hour, "time window for stats (e.g. 24h, 168h); 0 covers all runs")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular run listing.
func formatRunsList(w io.Writer, runs []model.Run) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tROWS\tINPUT\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.Status, r.Rows, r.Input, r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	_ = tw.Flush()
}

// formatRunStats writes a metrics snapshot as aligned label/value pairs.
func formatRunStats(w io.Writer, s *monitoring.MetricsSnapshot) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total runs:\t%d\n", s.RunsTotal)
	fmt.Fprintf(tw, "  Complete:\t%d\n", s.RunsComplete)
	fmt.Fprintf(tw, "  Canceled:\t%d\n", s.RunsCanceled)
	fmt.Fprintf(tw, "  Failed:\t%d\n", s.RunsFailed)
	fmt.Fprintf(tw, "  Running:\t%d\n", s.RunsRunning)
	fmt.Fprintf(tw, "Rows:\t%d\n", s.RowsTotal)
	fmt.Fprintf(tw, "  Failed:\t%d (%.1f%%)\n", s.RowsFailed, s.RowFailRate*100)
	fmt.Fprintf(tw, "  From cache:\t%d\n", s.RowsCached)
	for _, k := range s.FailureKinds {
		fmt.Fprintf(tw, "  %s:\t%d\n", k.Kind, k.Count)
	}
	fmt.Fprintf(tw, "Tokens:\t%d in / %d out\n", s.Usage.InputTokens, s.Usage.OutputTokens)
	fmt.Fprintf(tw, "Cost:\t$%.4f\n", s.Usage.Cost)
	_ = tw.Flush()
}
