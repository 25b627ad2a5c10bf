package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dealsignal/internal/app"
)

var (
	showLimit    int
	showCategory string
	showPlatform string
	showSignal   string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display active deals with their signals",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:    showLimit,
			Category: showCategory,
			Platform: showPlatform,
			Signal:   showSignal,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of deals to display")
	showCmd.Flags().StringVar(&showCategory, "category", "", "Only show this category")
	showCmd.Flags().StringVar(&showPlatform, "platform", "", "Only show deals tagged with this platform")
	showCmd.Flags().StringVar(&showSignal, "signal", "", "Only show deals with this signal label")
}
