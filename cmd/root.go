package cmd

import (
	"github.com/spf13/cobra"

	"github.com/careflock/careflock-go/cmd/alerts"
	"github.com/careflock/careflock-go/cmd/forecast"
	"github.com/careflock/careflock-go/cmd/score"
	"github.com/careflock/careflock-go/internal/conf"
	"github.com/careflock/careflock-go/internal/jobs"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings, service *jobs.Service) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "careflock",
		Short: "Careflock insights and alerting engine CLI",
	}

	subcommands := []*cobra.Command{
		score.Command(settings, service),
		forecast.Command(settings, service),
		alerts.Command(settings, service),
	}
	rootCmd.AddCommand(subcommands...)

	return rootCmd
}
