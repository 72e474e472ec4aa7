package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/mrsadri/xRate/internal/app"
)

var (
	pruneOlderThan time.Duration
	pruneDryRun    bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete audit rows older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.PruneOptions{
			OlderThan: pruneOlderThan,
			DryRun:    pruneDryRun,
		}
		return getApp().Prune(cmd.Context(), opts)
	},
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 90*24*time.Hour, "Retention window; rows older than this are deleted")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "Log the cutoff without deleting anything")
}
