package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/insiderintel/holdings-sync/internal/runlog"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent ingestion runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, runs, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if runs == nil {
			return eris.Errorf("run history requires the postgres store (store.driver is %q)", cfg.Store.Driver)
		}

		entries, err := runs.Recent(ctx, runsLimit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRuns(os.Stdout, entries)
		return nil
	},
}

func formatRuns(w io.Writer, entries []runlog.Entry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tQUARTER\tSTATUS\tSTARTED\tDURATION\tERROR")
	for _, e := range entries {
		duration := "-"
		if e.CompletedAt != nil {
			duration = e.CompletedAt.Sub(e.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID.String()[:8],
			e.Quarter,
			e.Status,
			e.StartedAt.Format("2006-01-02 15:04:05"),
			duration,
			truncate(e.Error, 60),
		)
	}
	tw.Flush() //nolint:errcheck
}

// truncate shortens s to n runes, so multibyte names are never split.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", runlog.DefaultLimit, "number of runs to show")
	rootCmd.AddCommand(runsCmd)
}
