// loader.go implements the configuration loading lifecycle for the LetterDrop
// service.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Populate BuildInfo from linker-injected variables.
//  5. Validate the struct using go-playground/validator, plus cross-field
//     rules that tags cannot express.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid debugging.
// It wraps a ConfigErrorType and an underlying error message.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadConfig loads and validates the LetterDrop configuration.
//
// godotenv.Load() silently succeeds if no .env file exists in the working
// directory and never overrides variables already set in the OS environment,
// which preserves the Env > Dotenv priority order.
func LoadConfig() (*Config, error) {
	// Step 1: Enforce UTC timezone to prevent drift bugs. Every timestamp
	// the service writes or compares is UTC.
	time.Local = time.UTC

	// Step 2: Load .env file (non-fatal if absent).
	_ = godotenv.Load()

	// Step 3: Process envconfig tags to populate the Config struct.
	// The empty prefix "" means envconfig will use the exact tag values
	// (e.g., envconfig:"APP_ENV" reads APP_ENV directly).
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	// Step 4: Populate build metadata from linker-injected variables.
	cfg.Build = NewBuildInfo()

	// Step 5: Validate the populated struct.
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	if err := validateCrossField(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateCrossField enforces rules that span multiple fields and cannot be
// expressed as struct tags.
func validateCrossField(cfg *Config) error {
	if cfg.Email.Provider == "sendgrid" && cfg.Email.SendGridAPIKey.Unmask() == "" {
		return &ConfigError{
			Type:    ErrMissingEnv,
			Message: "SENDGRID_API_KEY is required when EMAIL_PROVIDER=sendgrid",
		}
	}
	if cfg.Email.Provider == "stub" && cfg.Environment == "prod" {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "EMAIL_PROVIDER=stub is not allowed in prod",
		}
	}
	if cfg.Dispatch.BaseDelay <= 0 || cfg.Dispatch.MaxDelay < cfg.Dispatch.BaseDelay {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "DISPATCH_MAX_DELAY must be >= DISPATCH_BASE_DELAY and both positive",
		}
	}
	if cfg.Database.MinConns > cfg.Database.MaxConns {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "DB_MIN_CONNS must not exceed DB_MAX_CONNS",
		}
	}
	return nil
}
