// Package score implements the scoring job subcommands, one per capability.
package score

import (
	"github.com/spf13/cobra"

	"github.com/careflock/careflock-go/internal/conf"
	"github.com/careflock/careflock-go/internal/jobs"
)

// Command returns the score parent command with its capability subcommands.
func Command(settings *conf.Settings, service *jobs.Service) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Run a scoring pass for a branch",
	}

	var branchID uint
	var chunkSize int
	var notify bool

	cmd.PersistentFlags().UintVar(&branchID, "branch", 0, "Branch ID to score (required)")
	cmd.PersistentFlags().IntVar(&chunkSize, "chunk-size", settings.Insights.ChunkSize, "Entities per chunk")
	cmd.PersistentFlags().BoolVar(&notify, "notify", false, "Evaluate and dispatch related alerts after scoring")
	_ = cmd.MarkPersistentFlagRequired("branch")

	cmd.AddCommand(&cobra.Command{
		Use:   "churn",
		Short: "Recompute member churn scores",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := service.RunChurnScoring(cmd.Context(), branchID, chunkSize)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "lifecycle",
		Short: "Reclassify member lifecycle stages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := service.RunLifecycleDetection(cmd.Context(), branchID, chunkSize, notify)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clusters",
		Short: "Rescore cluster health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := service.RunClusterHealth(cmd.Context(), branchID, chunkSize, notify)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "households",
		Short: "Rescore household engagement",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := service.RunHouseholdEngagement(cmd.Context(), branchID, chunkSize)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "visitors",
		Short: "Rescore visitor conversion",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := service.RunVisitorConversion(cmd.Context(), branchID, chunkSize)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "anomaly",
		Short: "Detect attendance anomalies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := service.RunAttendanceAnomaly(cmd.Context(), branchID)
			return err
		},
	})

	return cmd
}
