// Package conf handles loading and validation of engine configuration.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// SQLiteSettings holds SQLite database settings.
type SQLiteSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MySQLSettings holds MySQL database settings.
type MySQLSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
}

// OutputSettings selects the persistence backend.
type OutputSettings struct {
	SQLite SQLiteSettings `yaml:"sqlite"`
	MySQL  MySQLSettings  `yaml:"mysql"`
}

// CapabilitySettings is the common shape of a per-capability feature toggle.
type CapabilitySettings struct {
	Enabled bool `yaml:"enabled"`
}

// ChurnSettings configures the churn scoring capability.
type ChurnSettings struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"` // default alert threshold, 0-100
}

// VisitorSettings configures visitor conversion scoring.
type VisitorSettings struct {
	Enabled      bool `yaml:"enabled"`
	FollowupDays int  `yaml:"followupdays"` // days before an unfollowed visitor is flagged
}

// AttendanceSettings configures attendance anomaly detection.
type AttendanceSettings struct {
	Enabled          bool    `yaml:"enabled"`
	AnomalyThreshold float64 `yaml:"anomalythreshold"` // percent drop vs trailing mean
	LookbackWeeks    int     `yaml:"lookbackweeks"`
}

// InsightsSettings groups the scoring capabilities.
type InsightsSettings struct {
	ChunkSize  int                `yaml:"chunksize"`
	Churn      ChurnSettings      `yaml:"churn"`
	Lifecycle  CapabilitySettings `yaml:"lifecycle"`
	Clusters   CapabilitySettings `yaml:"clusters"`
	Households CapabilitySettings `yaml:"households"`
	Visitors   VisitorSettings    `yaml:"visitors"`
	Attendance AttendanceSettings `yaml:"attendance"`
	Forecasts  CapabilitySettings `yaml:"forecasts"`
}

// AlertsSettings configures the alert engine.
type AlertsSettings struct {
	Enabled              bool     `yaml:"enabled"`
	SettingsCacheSeconds int      `yaml:"settingscacheseconds"`
	DefaultCooldownHours int      `yaml:"defaultcooldownhours"`
	DigestRoles          []string `yaml:"digestroles"`
	DigestChannels       []string `yaml:"digestchannels"`
}

// ProviderSettings configures one outbound notification provider.
type ProviderSettings struct {
	Name     string   `yaml:"name"`
	Enabled  bool     `yaml:"enabled"`
	URLs     []string `yaml:"urls"`     // shoutrrr service URLs
	Channels []string `yaml:"channels"` // channels this provider serves, e.g. email, sms
}

// NotifySettings configures the notification dispatcher.
type NotifySettings struct {
	Enabled            bool               `yaml:"enabled"`
	DefaultRoles       []string           `yaml:"defaultroles"`
	RateLimitPerMinute int                `yaml:"ratelimitperminute"`
	RateLimitBurst     int                `yaml:"ratelimitburst"`
	Providers          []ProviderSettings `yaml:"providers"`
}

// JobsSettings bounds job execution.
type JobsSettings struct {
	TimeoutSeconds        int `yaml:"timeoutseconds"`
	MaxAttempts           int `yaml:"maxattempts"`
	MaxConcurrentBranches int `yaml:"maxconcurrentbranches"`
}

// LogSettings configures the main application log.
type LogSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetricsSettings configures the prometheus scrape endpoint.
type MetricsSettings struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// MainSettings holds application-level settings.
type MainSettings struct {
	Name    string          `yaml:"name"`
	Log     LogSettings     `yaml:"log"`
	Metrics MetricsSettings `yaml:"metrics"`
}

// Settings is the root configuration structure.
type Settings struct {
	Debug    bool             `yaml:"debug"`
	Main     MainSettings     `yaml:"main"`
	Output   OutputSettings   `yaml:"output"`
	Insights InsightsSettings `yaml:"insights"`
	Alerts   AlertsSettings   `yaml:"alerts"`
	Notify   NotifySettings   `yaml:"notify"`
	Jobs     JobsSettings     `yaml:"jobs"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment into a Settings struct.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// Get returns the loaded settings instance, or nil if Load has not run.
func Get() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Default returns a Settings struct populated with the viper defaults, without
// touching the filesystem. Used by tests and embedded setups.
func Default() *Settings {
	v := viper.New()
	setDefaults(v)
	settings := &Settings{}
	// Unmarshal of defaults cannot fail: the keys mirror the struct.
	_ = v.Unmarshal(settings)
	return settings
}

func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := defaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaults(viper.GetViper())

	viper.SetEnvPrefix("careflock")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Missing config is fine, defaults apply.
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// defaultConfigPaths returns the search path for config.yaml: the working
// directory first, then the user config directory.
func defaultConfigPaths() ([]string, error) {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "careflock"))
	}
	return paths, nil
}
