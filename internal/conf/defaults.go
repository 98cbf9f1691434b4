// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// setDefaults registers default values for every configuration parameter.
func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("main.name", "Careflock")
	v.SetDefault("main.log.enabled", true)
	v.SetDefault("main.log.path", "logs/careflock.log")
	v.SetDefault("main.metrics.enabled", false)
	v.SetDefault("main.metrics.port", 8090)

	v.SetDefault("output.sqlite.enabled", true)
	v.SetDefault("output.sqlite.path", "careflock.db")
	v.SetDefault("output.mysql.enabled", false)
	v.SetDefault("output.mysql.username", "careflock")
	v.SetDefault("output.mysql.password", "")
	v.SetDefault("output.mysql.database", "careflock")
	v.SetDefault("output.mysql.host", "localhost")
	v.SetDefault("output.mysql.port", "3306")

	v.SetDefault("insights.chunksize", 50)
	v.SetDefault("insights.churn.enabled", true)
	v.SetDefault("insights.churn.threshold", 70.0)
	v.SetDefault("insights.lifecycle.enabled", true)
	v.SetDefault("insights.clusters.enabled", true)
	v.SetDefault("insights.households.enabled", true)
	v.SetDefault("insights.visitors.enabled", true)
	v.SetDefault("insights.visitors.followupdays", 7)
	v.SetDefault("insights.attendance.enabled", true)
	v.SetDefault("insights.attendance.anomalythreshold", 25.0)
	v.SetDefault("insights.attendance.lookbackweeks", 12)
	v.SetDefault("insights.forecasts.enabled", true)

	v.SetDefault("alerts.enabled", true)
	v.SetDefault("alerts.settingscacheseconds", 60)
	v.SetDefault("alerts.defaultcooldownhours", 24)
	v.SetDefault("alerts.digestroles", []string{"admin", "pastor"})
	v.SetDefault("alerts.digestchannels", []string{"in-app", "email"})

	v.SetDefault("notify.enabled", true)
	v.SetDefault("notify.defaultroles", []string{"admin", "pastor"})
	v.SetDefault("notify.ratelimitperminute", 60)
	v.SetDefault("notify.ratelimitburst", 10)

	v.SetDefault("jobs.timeoutseconds", 300)
	v.SetDefault("jobs.maxattempts", 3)
	v.SetDefault("jobs.maxconcurrentbranches", 4)
}
