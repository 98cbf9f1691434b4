package conf

import (
	"fmt"
)

const (
	minJobTimeoutSeconds = 30
	maxJobTimeoutSeconds = 600
)

// ValidateSettings checks the loaded settings for inconsistencies that would
// make the engine misbehave at runtime.
func ValidateSettings(s *Settings) error {
	if !s.Output.SQLite.Enabled && !s.Output.MySQL.Enabled {
		return fmt.Errorf("no database output enabled, enable output.sqlite or output.mysql")
	}
	if s.Output.SQLite.Enabled && s.Output.MySQL.Enabled {
		return fmt.Errorf("both sqlite and mysql outputs enabled, pick one")
	}
	if s.Main.Metrics.Enabled && (s.Main.Metrics.Port < 1 || s.Main.Metrics.Port > 65535) {
		return fmt.Errorf("main.metrics.port must be a valid port, got %d", s.Main.Metrics.Port)
	}
	if s.Insights.ChunkSize <= 0 {
		return fmt.Errorf("insights.chunksize must be positive, got %d", s.Insights.ChunkSize)
	}
	if s.Insights.Churn.Threshold < 0 || s.Insights.Churn.Threshold > 100 {
		return fmt.Errorf("insights.churn.threshold must be within 0-100, got %.1f", s.Insights.Churn.Threshold)
	}
	if s.Jobs.TimeoutSeconds < minJobTimeoutSeconds || s.Jobs.TimeoutSeconds > maxJobTimeoutSeconds {
		return fmt.Errorf("jobs.timeoutseconds must be within %d-%d, got %d",
			minJobTimeoutSeconds, maxJobTimeoutSeconds, s.Jobs.TimeoutSeconds)
	}
	if s.Jobs.MaxAttempts < 1 {
		return fmt.Errorf("jobs.maxattempts must be at least 1, got %d", s.Jobs.MaxAttempts)
	}
	if s.Jobs.MaxConcurrentBranches < 1 {
		return fmt.Errorf("jobs.maxconcurrentbranches must be at least 1, got %d", s.Jobs.MaxConcurrentBranches)
	}
	if s.Alerts.DefaultCooldownHours < 0 {
		return fmt.Errorf("alerts.defaultcooldownhours must not be negative, got %d", s.Alerts.DefaultCooldownHours)
	}
	for i := range s.Notify.Providers {
		p := &s.Notify.Providers[i]
		if p.Enabled && p.Name != "in-app" && len(p.URLs) == 0 {
			return fmt.Errorf("notify provider %q is enabled but has no urls", p.Name)
		}
	}
	return nil
}
