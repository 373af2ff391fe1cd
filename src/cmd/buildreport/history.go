package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"buildreport-agent/src/config"
	"buildreport-agent/src/pipeline"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of builds to list")
}

// historyCmd lists ledger entries.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs from the run ledger",
	Long:  `List the most recently updated builds recorded in the run ledger. Requires ledger.driver: postgres.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Ledger.Driver != "postgres" {
			return fmt.Errorf("history needs ledger.driver postgres, got %q", cfg.Ledger.Driver)
		}
		if err := config.Validate(cfg); err != nil {
			return err
		}

		ledger, err := pipeline.OpenLedger(cmd.Context(), cfg.Ledger)
		if err != nil {
			return err
		}
		defer ledger.Close()

		runs, err := ledger.ListRuns(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "BUILD\tSTATE\tUPDATED\tRUN\tREASON")
		for _, run := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", run.BuildKey, run.State, run.UpdatedAt.Format(time.RFC3339), run.RunID, run.Reason)
		}
		return w.Flush()
	},
}
