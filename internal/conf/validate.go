// validate.go: settings validation performed after unmarshaling
package conf

import (
	"errors"
	"fmt"
	"strings"
)

// ValidateSettings checks the loaded settings for inconsistencies that would
// cause runtime failures. Validation errors are joined so a misconfigured
// deployment reports every problem at once.
func ValidateSettings(settings *Settings) error {
	var errs []error

	if err := validateDeployment(settings); err != nil {
		errs = append(errs, err)
	}
	if err := validateClassifier(&settings.Classifier); err != nil {
		errs = append(errs, err)
	}
	if err := validateAlerts(&settings.Alerts); err != nil {
		errs = append(errs, err)
	}
	if err := validateNotification(&settings.Notification); err != nil {
		errs = append(errs, err)
	}
	if err := validateOutput(&settings.Output); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validateDeployment(settings *Settings) error {
	switch settings.Deployment {
	case DeploymentDevelopment, DeploymentProduction:
	default:
		return fmt.Errorf("deployment must be %q or %q, got %q",
			DeploymentDevelopment, DeploymentProduction, settings.Deployment)
	}

	if settings.Deployment == DeploymentProduction && settings.Storage.SFTP.Host == "" {
		return errors.New("production deployment requires storage.sftp.host")
	}
	if settings.Deployment == DeploymentDevelopment && settings.Storage.UploadPath == "" {
		return errors.New("development deployment requires storage.uploadpath")
	}
	return nil
}

func validateClassifier(c *ClassifierSettings) error {
	if c.Timeout <= 0 {
		return errors.New("classifier.timeout must be positive")
	}
	if c.MaxUploadSize <= 0 {
		return errors.New("classifier.maxuploadsize must be positive")
	}
	return nil
}

func validateAlerts(a *AlertSettings) error {
	if len(a.Types) == 0 {
		return errors.New("alerts.types must list at least one alert type")
	}
	for _, t := range a.Types {
		if strings.TrimSpace(t) == "" {
			return errors.New("alerts.types must not contain empty entries")
		}
	}
	if a.DefaultMinConfidence < 0 || a.DefaultMinConfidence > 1 {
		return fmt.Errorf("alerts.defaultminconfidence must be within [0, 1], got %v", a.DefaultMinConfidence)
	}
	return nil
}

func validateNotification(n *NotificationSettings) error {
	if n.MaxRetries < 0 {
		return errors.New("notification.maxretries must not be negative")
	}
	if n.RetentionDays <= 0 {
		return errors.New("notification.retentiondays must be positive")
	}
	if n.RetryInterval <= 0 || n.RetryWindow <= 0 {
		return errors.New("notification retry interval and window must be positive")
	}
	if n.Push.Enabled && len(n.Push.URLs) == 0 {
		return errors.New("notification.push.urls must not be empty when push is enabled")
	}
	if n.MQTT.Enabled && n.MQTT.Broker == "" {
		return errors.New("notification.mqtt.broker must be set when mqtt is enabled")
	}
	return nil
}

func validateOutput(o *OutputSettings) error {
	if !o.SQLite.Enabled && !o.MySQL.Enabled {
		return errors.New("either output.sqlite or output.mysql must be enabled")
	}
	if o.SQLite.Enabled && o.MySQL.Enabled {
		return errors.New("only one of output.sqlite and output.mysql may be enabled")
	}
	return nil
}
