package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/insiderintel/holdings-sync/internal/db"
	"github.com/insiderintel/holdings-sync/internal/institutional"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, _, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pg, ok := st.(*institutional.PostgresStore)
		if !ok {
			// initStore already applied the embedded sqlite schema.
			fmt.Fprintln(os.Stderr, "sqlite schema is up to date")
			return nil
		}

		if err := db.Migrate(ctx, pg.Pool()); err != nil {
			return eris.Wrap(err, "migrate")
		}

		names, err := db.MigrationNames()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%d migrations applied or up to date\n", len(names))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
