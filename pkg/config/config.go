// Package config loads and validates the server configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (SHARESYNC_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sharesync/sharesync/internal/bytesize"
	"github.com/sharesync/sharesync/pkg/api/auth"
	"github.com/sharesync/sharesync/pkg/gateway"
	"github.com/sharesync/sharesync/pkg/ratelimit"
	"github.com/sharesync/sharesync/pkg/signaling"
	"github.com/sharesync/sharesync/pkg/storage/s3"
	"github.com/sharesync/sharesync/pkg/store"
	"github.com/sharesync/sharesync/pkg/sweeper"
)

// Config represents the ShareSync server configuration.
//
// It aggregates the per-component configs; each component owns its
// defaults and semantic validation, this package owns loading, the
// cross-cutting fields and structural validation.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Server configures the HTTP listener.
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Database configures share and user persistence (SQLite or PostgreSQL).
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Storage configures the object store holding the file bytes.
	// Validated separately: the S3 fields only apply when the backend
	// is "s3".
	Storage StorageConfig `mapstructure:"storage" validate:"-" yaml:"storage"`

	// Policy holds the upload admission rules.
	Policy gateway.Policy `mapstructure:"policy" yaml:"policy"`

	// RateLimit holds the per-bucket admission limits.
	RateLimit ratelimit.Config `mapstructure:"rate_limit" yaml:"rate_limit"`

	// Signaling configures the WebRTC signaling hub.
	Signaling signaling.Config `mapstructure:"signaling" yaml:"signaling"`

	// Session configures session token issuance.
	Session auth.Config `mapstructure:"session" yaml:"session"`

	// Identity configures the external identity provider.
	Identity IdentityConfig `mapstructure:"identity" yaml:"identity"`

	// Sweeper configures the expiry cleanup engine.
	Sweeper sweeper.Config `mapstructure:"sweeper" yaml:"sweeper"`

	// Metrics controls Prometheus metrics collection.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig configures the HTTP listener serving the API, the
// websocket upgrade and the probe endpoints.
type ServerConfig struct {
	// Host is the listen address. Empty binds all interfaces.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the HTTP port.
	// Default: 8080
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 10s
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out response
	// writes. Zero disables it; the websocket transport needs that, so
	// the default is zero and slow-client protection lives in the hub.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle limit.
	// Default: 120s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// StorageType identifies an object store backend.
type StorageType string

const (
	// StorageTypeS3 targets AWS S3 or an S3-compatible store like MinIO.
	StorageTypeS3 StorageType = "s3"

	// StorageTypeMemory keeps objects in process memory. Development only;
	// its presigned URLs are not servable.
	StorageTypeMemory StorageType = "memory"
)

// StorageConfig configures the object store backend.
type StorageConfig struct {
	// Type selects the backend: "s3" or "memory".
	Type StorageType `mapstructure:"type" validate:"required,oneof=s3 memory" yaml:"type"`

	// S3 holds the backend settings when Type is "s3".
	S3 s3.Config `mapstructure:"s3" yaml:"s3"`
}

// IdentityConfig configures the external identity provider used to
// establish sessions.
type IdentityConfig struct {
	// UserinfoURL is the OAuth2 userinfo endpoint access tokens are
	// verified against. Empty selects the Google endpoint.
	UserinfoURL string `mapstructure:"userinfo_url" yaml:"userinfo_url"`
}

// MetricsConfig controls Prometheus metrics collection. Metrics are
// served on the main listener under /metrics when enabled.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected and exposed.
	// Default: false (opt-in)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: path to config file (empty string uses the default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the
// config file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  sharesync init\n\n"+
				"Or specify a custom config file:\n"+
				"  sharesync <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  sharesync init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file carries the session secret and storage credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the SHARESYNC_ prefix and underscores.
	// Example: SHARESYNC_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("SHARESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteCountDecodeHook(),
		durationDecodeHook(),
	)
}

// byteCountDecodeHook converts human-readable size strings like "2GB" or
// "500Mi" into int64 byte counts. Plain numbers pass through untouched.
func byteCountDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to.Kind() != reflect.Int64 || to == reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		s, ok := data.(string)
		if !ok {
			return data, nil
		}
		size, err := bytesize.Parse(s)
		if err != nil {
			return nil, err
		}
		return int64(size), nil
	}
}

// durationDecodeHook converts strings like "30s", "5m", "1h" to
// time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "sharesync")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "sharesync")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
