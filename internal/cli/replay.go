package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dealwatcher/internal/app"
)

var (
	replayDir string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Rebuild the price ledger from archived feed snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayDir == "" {
			return fmt.Errorf("--dir must be provided")
		}

		opts := app.ReplayOptions{
			Dir: replayDir,
		}

		return getApp().Replay(cmd.Context(), opts)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayDir, "dir", "", "Directory of CSV feed snapshots to replay in file-name order")
}
