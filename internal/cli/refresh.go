package cli

import (
	"github.com/spf13/cobra"
)

var refreshNamespace string

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one on-demand decision cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Refresh(cmd.Context(), refreshNamespace, "cli")
	},
}

func init() {
	refreshCmd.Flags().StringVar(&refreshNamespace, "namespace", "admin", "Rate-limit namespace to charge")
}
