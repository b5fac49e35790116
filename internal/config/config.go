// Package config holds the process configuration for the Hearth back-office.
//
// Configuration is read once at startup from the environment (a local .env
// file is loaded first for development) and is immutable afterwards.
// Secrets may be supplied indirectly through <NAME>_SSM_PARAM pointers,
// resolved from AWS SSM Parameter Store outside of local environments.
package config

import (
	"time"

	"hearth/internal/types"
)

// SecretString is re-exported so config structs read naturally.
type SecretString = types.SecretString

// Config is the top-level configuration struct.
// Components receive only the sub-config they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	AWS           AWSConfig
	Email         EmailConfig
	Webhook       WebhookConfig
	Admin         AdminConfig
	RateLimit     RateLimitConfig
	Analytics     AnalyticsConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds HTTP server settings and the public site URL.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// SiteBaseURL is the absolute base used in unsubscribe links (no trailing slash).
	SiteBaseURL     string        `envconfig:"SITE_BASE_URL" validate:"required,url"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"5m"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds the Postgres DSN and pool tuning.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// RedisConfig is only consulted when the rate limit backend is "redis".
type RedisConfig struct {
	URL SecretString `envconfig:"REDIS_URL"`
}

// AWSConfig holds regional settings shared by SES, CloudWatch and SSM.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`
	// LocalStack support. Empty in production.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// Email provider identifiers.
const (
	EmailProviderResend = "resend"
	EmailProviderSES    = "ses"
	// EmailProviderLog writes messages to the log instead of sending them.
	EmailProviderLog = "log"
)

// EmailConfig holds transactional email settings.
//
// Credentials are optional at load time. The blast operation checks them
// and fails with a configuration error, so the rest of the site keeps
// serving when email is not set up yet.
type EmailConfig struct {
	Provider      string       `envconfig:"EMAIL_PROVIDER" default:"resend" validate:"oneof=resend ses log"`
	ResendAPIKey  SecretString `envconfig:"RESEND_API_KEY"`
	ResendBaseURL string       `envconfig:"RESEND_BASE_URL" default:"https://api.resend.com" validate:"url"`
	FromAddress   string       `envconfig:"EMAIL_FROM_ADDRESS"`
	ReplyTo       string       `envconfig:"EMAIL_REPLY_TO"`
	// SkipSuppressed excludes suppressed clients from blasts. Off by default:
	// eligibility is decided by the unsubscribed flag alone.
	SkipSuppressed      bool   `envconfig:"EMAIL_SKIP_SUPPRESSED" default:"false"`
	SESConfigurationSet string `envconfig:"SES_CONFIGURATION_SET"`
	// MirrorSuppressions copies webhook suppressions into the SES account
	// suppression list. Only meaningful when Provider is "ses".
	MirrorSuppressions bool          `envconfig:"SES_MIRROR_SUPPRESSIONS" default:"false"`
	SendTimeout        time.Duration `envconfig:"EMAIL_SEND_TIMEOUT" default:"15s"`
}

// WebhookConfig holds the delivery webhook signing secret.
type WebhookConfig struct {
	SigningSecret SecretString  `envconfig:"RESEND_WEBHOOK_SECRET"`
	Tolerance     time.Duration `envconfig:"WEBHOOK_TOLERANCE" default:"5m"`
}

// AdminConfig holds the shared admin credential.
type AdminConfig struct {
	Token        SecretString  `envconfig:"ADMIN_TOKEN" validate:"required,min=24"`
	PasswordHash SecretString  `envconfig:"ADMIN_PASSWORD_HASH"`
	CookieName   string        `envconfig:"ADMIN_COOKIE_NAME" default:"hearth_admin"`
	CookieMaxAge time.Duration `envconfig:"ADMIN_COOKIE_MAX_AGE" default:"168h"`
}

// Rate limit backends.
const (
	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
)

// RateLimitConfig selects where sliding-window state lives.
type RateLimitConfig struct {
	Backend string `envconfig:"RATE_LIMIT_BACKEND" default:"memory" validate:"oneof=memory redis"`
}

// AnalyticsConfig holds the pixel settings.
type AnalyticsConfig struct {
	Salt       SecretString `envconfig:"ANALYTICS_SALT" validate:"required,min=16"`
	CookieName string       `envconfig:"VISITOR_COOKIE_NAME" default:"hearth_vid"`
}

// SecurityConfig holds CORS settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds CloudWatch metric settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Hearth"`
	EnableMetrics   bool   `envconfig:"METRICS_ENABLED" default:"false"`
}

// MaintenanceConfig is the configuration of cmd/maintenance. It needs the
// database and retention windows but none of the HTTP surface.
type MaintenanceConfig struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Database  DatabaseConfig
	Retention RetentionConfig
}

// RetentionConfig bounds how long append-only tables keep rows.
type RetentionConfig struct {
	PageViews      time.Duration `envconfig:"RETENTION_PAGE_VIEWS" default:"4320h" validate:"min=24h"`
	SecurityEvents time.Duration `envconfig:"RETENTION_SECURITY_EVENTS" default:"720h" validate:"min=1h"`
	EmailEvents    time.Duration `envconfig:"RETENTION_EMAIL_EVENTS" default:"8760h" validate:"min=24h"`
	JobHistory     time.Duration `envconfig:"RETENTION_JOB_HISTORY" default:"2160h" validate:"min=24h"`
}

// BuildInfo holds build-time metadata.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
