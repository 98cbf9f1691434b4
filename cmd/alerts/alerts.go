// Package alerts implements the alert processing and digest subcommands.
package alerts

import (
	"github.com/spf13/cobra"

	"github.com/careflock/careflock-go/internal/conf"
	"github.com/careflock/careflock-go/internal/jobs"
)

// Command returns the alerts parent command.
func Command(_ *conf.Settings, service *jobs.Service) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Evaluate alert rules and send digests",
	}

	var branchID uint
	cmd.PersistentFlags().UintVar(&branchID, "branch", 0, "Branch ID (required)")
	_ = cmd.MarkPersistentFlagRequired("branch")

	var alertType string
	var sendNotifications bool
	process := &cobra.Command{
		Use:   "process",
		Short: "Evaluate alert rules for a branch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := service.ProcessAlerts(cmd.Context(), branchID, alertType, sendNotifications)
			return err
		},
	}
	process.Flags().StringVar(&alertType, "type", "", "Evaluate only this alert type (default: all)")
	process.Flags().BoolVar(&sendNotifications, "send-notifications", true, "Dispatch immediate notifications for created alerts")

	var hoursBack int
	digest := &cobra.Command{
		Use:   "digest",
		Short: "Send the alert digest for a branch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := service.SendAlertDigest(cmd.Context(), branchID, hoursBack)
			return err
		},
	}
	digest.Flags().IntVar(&hoursBack, "hours-back", 24, "Digest lookback window in hours")

	cmd.AddCommand(process, digest)
	return cmd
}
