// config.go: This file contains the configuration for the CarSense application.
// It defines the settings struct and functions to load and save the settings.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// Deployment modes select the audio storage backend at startup.
const (
	DeploymentDevelopment = "development"
	DeploymentProduction  = "production"
)

// Notification channel identifiers.
const (
	ChannelInApp = "inapp"
	ChannelPush  = "push"
	ChannelMQTT  = "mqtt"
)

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled bool   // true to enable this log
	Path    string // path to log file
}

// MainSettings contains general application settings.
type MainSettings struct {
	Name string    // name of the node, can be used to identify the source of notes
	Log  LogConfig // main app log configuration
}

// SFTPSettings holds credentials for the remote clip store.
type SFTPSettings struct {
	Host     string // SFTP server hostname
	Port     int    // SFTP server port
	Username string
	Password string // password auth; key auth via KeyFile takes precedence
	KeyFile  string // path to private key file
	BasePath string // remote directory clips are written under
}

// StorageSettings selects and configures the audio clip backend.
type StorageSettings struct {
	UploadPath string       // local clip directory (development backend)
	SFTP       SFTPSettings // remote clip store (production backend)
}

// ClassifierSettings configures the remote inference endpoint.
type ClassifierSettings struct {
	Endpoint      string        // URL of the remote classifier, empty is a configuration error
	Timeout       time.Duration // per-request timeout for classify calls
	MaxUploadSize int64         // maximum audio payload in bytes accepted for classification
}

// AlertSettings configures alert types and threshold defaults.
type AlertSettings struct {
	Types                []string // registered alert types, threshold CRUD is limited to these
	DefaultMinConfidence float64  // seed threshold applied to registered types on first run
}

// PushSettings configures the shoutrrr push channel.
type PushSettings struct {
	Enabled bool
	URLs    []string      // shoutrrr service URLs
	Timeout time.Duration // per-send timeout
}

// MQTTSettings configures the MQTT alert channel.
type MQTTSettings struct {
	Enabled  bool
	Broker   string // broker URI, e.g. tcp://localhost:1883
	Topic    string // topic alerts are published under
	Username string
	Password string
}

// RateLimitSettings bounds notification creation per window.
type RateLimitSettings struct {
	Window    time.Duration
	MaxEvents int
}

// NotificationSettings groups delivery channel and retry configuration.
type NotificationSettings struct {
	Debug         bool
	Push          PushSettings
	MQTT          MQTTSettings
	MaxRetries    int               // retry ceiling per delivery record
	RetryWindow   time.Duration     // only FAILED records younger than this are retried
	RetryInterval time.Duration     // how often the retry sweep runs
	RetentionDays int               // delivery records older than this are purged
	RateLimit     RateLimitSettings // sliding window limit on notification creation
}

// WebServerSettings contains settings for the HTTP API server.
type WebServerSettings struct {
	Enabled bool   // true to enable web server
	Port    string // port for web server
	Debug   bool   // true to enable debug mode
}

// SQLiteSettings contains settings for the SQLite database.
type SQLiteSettings struct {
	Enabled bool   // true to enable sqlite
	Path    string // path to sqlite database
}

// MySQLSettings contains settings for the MySQL database.
type MySQLSettings struct {
	Enabled  bool   // true to enable mysql
	Username string // username for mysql
	Password string // password for mysql
	Database string // database name for mysql
	Host     string // host for mysql
	Port     string // port for mysql
}

// OutputSettings selects the persistence backend.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// Settings is the root configuration struct.
type Settings struct {
	Debug        bool // true to enable debug mode
	Deployment   string
	Main         MainSettings
	Storage      StorageSettings
	Classifier   ClassifierSettings
	Alerts       AlertSettings
	Notification NotificationSettings
	WebServer    WebServerSettings
	Output       OutputSettings
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
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

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// Set default values for each configuration parameter
	// function defined in defaults.go
	setDefaultConfig()

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create config with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig creates a default config file and writes it to the default config path
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// GetDefaultConfigPaths returns the elevated-priority-first list of directories
// searched for config.yaml.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error getting user home directory: %w", err)
	}

	return []string{
		".",
		filepath.Join(homeDir, ".config", "carsense"),
		"/etc/carsense",
	}, nil
}
