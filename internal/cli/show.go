package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mrsadri/xRate/internal/app"
)

var (
	showLimit  int
	showEvents bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent snapshot samples or breach events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			Events: showEvents,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showEvents, "events", false, "Show breach events instead of samples")
}
