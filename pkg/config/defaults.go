package config

import (
	"strings"
	"time"

	"github.com/sharesync/sharesync/pkg/api/auth"
	"github.com/sharesync/sharesync/pkg/store"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields.
//
// Default strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	applyServerDefaults(&cfg.Server)
	cfg.Database.ApplyDefaults()
	applyStorageDefaults(&cfg.Storage)
	cfg.Policy.ApplyDefaults()
	cfg.RateLimit.ApplyDefaults()
	cfg.Signaling.ApplyDefaults()
	cfg.Session.ApplyDefaults()
	cfg.Sweeper.ApplyDefaults()
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets HTTP listener defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	// WriteTimeout stays zero: the websocket transport outlives any
	// reasonable response deadline.
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
}

// applyStorageDefaults sets object store defaults.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Type == "" {
		cfg.Type = StorageTypeS3
	}
	if cfg.Type == StorageTypeS3 && cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
}

// GetDefaultConfig returns a Config struct with all default values
// applied. Useful for generating sample configuration files and tests.
//
// The session secret is the placeholder, which Validate rejects; init
// replaces it with a fresh random one before writing the sample file.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Database: store.Config{
			Type:   store.DatabaseTypeSQLite,
			SQLite: store.SQLiteConfig{Path: "sharesync.db"},
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
		},
	}
	cfg.Session.Secret = auth.PlaceholderSecret
	cfg.Policy.AllowAnonymousUploads = true

	ApplyDefaults(cfg)
	return cfg
}
