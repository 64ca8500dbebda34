// defaults.go: default configuration values applied before the config file is read
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig sets the default values for each configuration parameter.
func setDefaultConfig() {
	viper.SetDefault("debug", false)
	viper.SetDefault("deployment", DeploymentDevelopment)

	viper.SetDefault("main.name", "CarSense")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "carsense.log")

	viper.SetDefault("storage.uploadpath", "uploads/audio")
	viper.SetDefault("storage.sftp.host", "")
	viper.SetDefault("storage.sftp.port", 22)
	viper.SetDefault("storage.sftp.username", "")
	viper.SetDefault("storage.sftp.password", "")
	viper.SetDefault("storage.sftp.keyfile", "")
	viper.SetDefault("storage.sftp.basepath", "clips")

	viper.SetDefault("classifier.endpoint", "")
	viper.SetDefault("classifier.timeout", 30*time.Second)
	viper.SetDefault("classifier.maxuploadsize", 6*1024*1024)

	viper.SetDefault("alerts.types", []string{
		"engine_knock",
		"glass_break",
		"alarm",
		"crash",
		"tire_screech",
	})
	viper.SetDefault("alerts.defaultminconfidence", 0.5)

	viper.SetDefault("notification.debug", false)
	viper.SetDefault("notification.push.enabled", false)
	viper.SetDefault("notification.push.urls", []string{})
	viper.SetDefault("notification.push.timeout", 10*time.Second)
	viper.SetDefault("notification.mqtt.enabled", false)
	viper.SetDefault("notification.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("notification.mqtt.topic", "carsense/alerts")
	viper.SetDefault("notification.mqtt.username", "")
	viper.SetDefault("notification.mqtt.password", "")
	viper.SetDefault("notification.maxretries", 3)
	viper.SetDefault("notification.retrywindow", time.Hour)
	viper.SetDefault("notification.retryinterval", 5*time.Minute)
	viper.SetDefault("notification.retentiondays", 90)
	viper.SetDefault("notification.ratelimit.window", time.Minute)
	viper.SetDefault("notification.ratelimit.maxevents", 100)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("webserver.debug", false)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "carsense.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "carsense")
	viper.SetDefault("output.mysql.password", "secret")
	viper.SetDefault("output.mysql.database", "carsense")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")
}
