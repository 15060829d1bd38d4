package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newBackfillCmd() *cobra.Command {
	var (
		limit  int
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Replays gold payloads into the serving tables",
		Long: `Lists every gold analysis object in the lake and upserts its store,
analysis, snapshot and legacy rows. Safe to re-run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			report, err := a.Backfill.Run(cmd.Context(), limit, dryRun)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().IntVar(&limit, "max", 0, "maximum gold objects to replay (0 means all)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "decode payloads without writing")
	return cmd
}
