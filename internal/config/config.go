// Package config defines the global configuration structure for the LetterDrop
// service. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup.
package config

import (
	"time"

	"letterdrop/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the LetterDrop service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"letterdrop"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	Email    EmailConfig
	Dispatch DispatchConfig
	Archive  ArchiveConfig
	Metrics  MetricsConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public base URL used to build confirmation links (no trailing slash),
	// e.g. https://newsletter.example.com
	BaseURL         string        `envconfig:"BASE_URL" validate:"required,url"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`     // Fail fast when pool exhausted
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"` // Detect dead connections during failover
}

// EmailConfig holds email delivery provider credentials and sender identity.
type EmailConfig struct {
	// Provider selects the outbound delivery backend. "stub" logs instead
	// of sending and is only valid outside prod.
	Provider       string        `envconfig:"EMAIL_PROVIDER" default:"ses" validate:"oneof=ses sendgrid stub"`
	FromAddress    string        `envconfig:"EMAIL_FROM_ADDRESS" validate:"required,email"`
	FromName       string        `envconfig:"EMAIL_FROM_NAME" default:"LetterDrop"`
	SendGridAPIKey SecretString  `envconfig:"SENDGRID_API_KEY"`
	SESConfigSet   string        `envconfig:"SES_CONFIGURATION_SET"`
	AWSRegion      string        `envconfig:"AWS_REGION" default:"us-east-1"`
	SendTimeout    time.Duration `envconfig:"EMAIL_SEND_TIMEOUT" default:"10s"`
}

// DispatchConfig holds outbox dispatch worker tuning parameters.
type DispatchConfig struct {
	PollInterval time.Duration `envconfig:"DISPATCH_POLL_INTERVAL" default:"1s"`
	BatchSize    int           `envconfig:"DISPATCH_BATCH_SIZE" default:"50" validate:"min=1,max=500"`
	Concurrency  int           `envconfig:"DISPATCH_CONCURRENCY" default:"8" validate:"min=1,max=64"`
	MaxAttempts  int           `envconfig:"DISPATCH_MAX_ATTEMPTS" default:"5" validate:"min=1"`
	BaseDelay    time.Duration `envconfig:"DISPATCH_BASE_DELAY" default:"1s"`
	MaxDelay     time.Duration `envconfig:"DISPATCH_MAX_DELAY" default:"2m"`
	LeaseTimeout time.Duration `envconfig:"DISPATCH_LEASE_TIMEOUT" default:"5m"`
	ReapInterval time.Duration `envconfig:"DISPATCH_REAP_INTERVAL" default:"1m"`
}

// ArchiveConfig holds retention archiver settings.
type ArchiveConfig struct {
	Dir           string `envconfig:"ARCHIVE_DIR" default:"/var/lib/letterdrop/archive"`
	RetentionDays int    `envconfig:"ARCHIVE_RETENTION_DAYS" default:"90" validate:"min=1"`
	BatchSize     int    `envconfig:"ARCHIVE_BATCH_SIZE" default:"1000" validate:"min=1"`
}

// MetricsConfig holds telemetry settings.
type MetricsConfig struct {
	Namespace string `envconfig:"METRIC_NAMESPACE" default:"LetterDrop"`
	Enabled   bool   `envconfig:"METRICS_ENABLED" default:"false"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
