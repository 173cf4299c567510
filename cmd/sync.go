package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/insiderintel/holdings-sync/internal/model"
)

var (
	syncYear    int
	syncQuarter int
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one 13F ingestion and print the summary",
	Long:  "Ingests 13F-HR filings for the most recently completed quarter, or for --year/--quarter when given, and prints the run summary as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		q, err := syncTarget(syncYear, syncQuarter, time.Now())
		if err != nil {
			return err
		}

		env, err := initSync(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close() //nolint:errcheck

		sum, runErr := env.Runner.Run(ctx, q)
		if sum != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(sum); err != nil {
				return err
			}
		}
		return runErr
	},
}

// syncTarget picks the quarter to ingest. Zero flags mean the previous
// quarter relative to now.
func syncTarget(year, quarter int, now time.Time) (model.Quarter, error) {
	if year == 0 && quarter == 0 {
		return model.PreviousQuarter(now), nil
	}
	if year == 0 {
		year = model.PreviousQuarter(now).Year
	}
	return model.NewQuarter(year, quarter)
}

func init() {
	syncCmd.Flags().IntVar(&syncYear, "year", 0, "report year (default: previous quarter's year)")
	syncCmd.Flags().IntVar(&syncQuarter, "quarter", 0, "report quarter 1-4 (default: previous quarter)")
	rootCmd.AddCommand(syncCmd)
}
