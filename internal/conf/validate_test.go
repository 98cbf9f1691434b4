package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettingsAreValid(t *testing.T) {
	t.Parallel()
	require.NoError(t, ValidateSettings(Default()))
}

func TestValidateSettingsRejectsBadValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{
			name:    "no database enabled",
			mutate:  func(s *Settings) { s.Output.SQLite.Enabled = false },
			wantErr: "no database output enabled",
		},
		{
			name: "both databases enabled",
			mutate: func(s *Settings) {
				s.Output.MySQL.Enabled = true
			},
			wantErr: "pick one",
		},
		{
			name:    "zero chunk size",
			mutate:  func(s *Settings) { s.Insights.ChunkSize = 0 },
			wantErr: "chunksize",
		},
		{
			name:    "churn threshold out of range",
			mutate:  func(s *Settings) { s.Insights.Churn.Threshold = 140 },
			wantErr: "0-100",
		},
		{
			name:    "timeout below minimum",
			mutate:  func(s *Settings) { s.Jobs.TimeoutSeconds = 5 },
			wantErr: "timeoutseconds",
		},
		{
			name:    "timeout above maximum",
			mutate:  func(s *Settings) { s.Jobs.TimeoutSeconds = 3600 },
			wantErr: "timeoutseconds",
		},
		{
			name:    "zero attempts",
			mutate:  func(s *Settings) { s.Jobs.MaxAttempts = 0 },
			wantErr: "maxattempts",
		},
		{
			name:    "negative cooldown",
			mutate:  func(s *Settings) { s.Alerts.DefaultCooldownHours = -1 },
			wantErr: "defaultcooldownhours",
		},
		{
			name: "enabled provider without urls",
			mutate: func(s *Settings) {
				s.Notify.Providers = []ProviderSettings{{Name: "telegram", Enabled: true}}
			},
			wantErr: "no urls",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			settings := Default()
			tt.mutate(settings)
			err := ValidateSettings(settings)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
