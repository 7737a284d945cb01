package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for correctness.
//
// Structural constraints (required fields, ranges, enums) are enforced
// through the validate struct tags; semantic constraints are delegated
// to each component's own Validate method.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			e := errs[0]
			return fmt.Errorf("invalid value for %s (%s)", e.Namespace(), e.Tag())
		}
		return err
	}

	switch cfg.Storage.Type {
	case StorageTypeS3:
		if err := v.Struct(cfg.Storage.S3); err != nil {
			if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
				e := errs[0]
				return fmt.Errorf("storage.s3: invalid value for %s (%s)", e.Namespace(), e.Tag())
			}
			return err
		}
	case StorageTypeMemory:
	default:
		return fmt.Errorf("storage: unsupported type %q", cfg.Storage.Type)
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := cfg.Policy.Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if err := cfg.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	if err := cfg.Signaling.Validate(); err != nil {
		return fmt.Errorf("signaling: %w", err)
	}
	if err := cfg.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}
