package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
)

// InitConfig writes a sample configuration file to the default location.
// Returns the path written. Fails if the file exists unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a sample configuration file to the given path.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
	}

	cfg := GetDefaultConfig()

	// A fresh random secret so a generated config is usable as-is.
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("failed to generate session secret: %w", err)
	}
	cfg.Session.Secret = base64.RawStdEncoding.EncodeToString(secret)

	return SaveConfig(cfg, path)
}
