// Package forecast implements the forecast generation subcommands.
package forecast

import (
	"github.com/spf13/cobra"

	"github.com/careflock/careflock-go/internal/conf"
	"github.com/careflock/careflock-go/internal/jobs"
)

// Command returns the forecast parent command.
func Command(_ *conf.Settings, service *jobs.Service) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Generate attendance and financial forecasts",
	}

	var branchID uint
	cmd.PersistentFlags().UintVar(&branchID, "branch", 0, "Branch ID to forecast (required)")
	_ = cmd.MarkPersistentFlagRequired("branch")

	var weeksAhead int
	attendance := &cobra.Command{
		Use:   "attendance",
		Short: "Project weekly attendance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := service.RunAttendanceForecast(cmd.Context(), branchID, weeksAhead)
			return err
		},
	}
	attendance.Flags().IntVar(&weeksAhead, "weeks-ahead", 4, "Weeks to project")

	var forecastType string
	var periodsAhead int
	financial := &cobra.Command{
		Use:   "financial",
		Short: "Project monthly giving",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := service.RunFinancialForecast(cmd.Context(), branchID, forecastType, periodsAhead)
			return err
		},
	}
	financial.Flags().StringVar(&forecastType, "type", "giving", "Forecast type (giving or a fund name)")
	financial.Flags().IntVar(&periodsAhead, "periods-ahead", 3, "Months to project")

	cmd.AddCommand(attendance, financial)
	return cmd
}
