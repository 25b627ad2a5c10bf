package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dealsignal/internal/app"
)

var classifyOpts app.ClassifyOptions

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify an ad-hoc price observation",
	RunE: func(cmd *cobra.Command, args []string) error {
		signal, err := getApp().Classify(classifyOpts)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), signal.String())
		return nil
	},
}

func init() {
	classifyCmd.Flags().StringVar(&classifyOpts.Current, "current", "", "Current price")
	classifyCmd.Flags().StringVar(&classifyOpts.AllTimeLow, "atl", "", "All-time low")
	classifyCmd.Flags().StringVar(&classifyOpts.Low90d, "low90", "", "90-day low")
	classifyCmd.Flags().StringVar(&classifyOpts.Low30d, "low30", "", "30-day low")
	classifyCmd.Flags().StringVar(&classifyOpts.Previous, "previous", "", "Previous observed price")
	classifyCmd.Flags().StringVar(&classifyOpts.PreviousAge, "previous-age", "", "Age of the previous observation, e.g. 12h")
}
