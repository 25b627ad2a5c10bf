package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dealsignal/internal/service"
)

var (
	importASINs []string
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one refresh cycle over every active product",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := getApp().Refresh(cmd.Context())
		if err != nil {
			return err
		}
		printReport(cmd, "refreshed", report)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import [ASIN...]",
	Short: "Import products from Keepa and record their first observation",
	RunE: func(cmd *cobra.Command, args []string) error {
		asins := append(append([]string{}, importASINs...), args...)
		report, err := getApp().Import(cmd.Context(), asins)
		if err != nil {
			return err
		}
		printReport(cmd, "imported", report)
		return nil
	},
}

var retagCmd = &cobra.Command{
	Use:   "retag",
	Short: "Recompute platform tags and fill missing regions",
	RunE: func(cmd *cobra.Command, args []string) error {
		updated, err := getApp().Retag(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "updated %d products\n", updated)
		return nil
	},
}

func printReport(cmd *cobra.Command, verb string, report service.CycleReport) {
	if report.LockHeld {
		fmt.Fprintln(cmd.OutOrStdout(), "another refresh holds the advisory lock; nothing done")
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d, skipped: %d, failed: %d\n", verb, report.Updated, report.Skipped, report.Failed)
}

func init() {
	importCmd.Flags().StringSliceVar(&importASINs, "asins", nil, "Comma-separated ASINs (defaults to import.asins)")
}
