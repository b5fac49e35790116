package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is returned by LoadConfig.
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

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

const (
	ssmParamSuffix = "_SSM_PARAM"
	localEnv       = "local"
)

// env abstracts the process environment so tests do not mutate globals.
type env struct {
	lookup  func(string) (string, bool)
	set     func(string, string) error
	environ func() []string
}

func osEnv() env {
	return env{lookup: os.LookupEnv, set: os.Setenv, environ: os.Environ}
}

// LoadConfig reads, resolves and validates the configuration.
//
// Order: .env file (never overrides the real environment), SSM pointers
// (skipped when APP_ENV=local), envconfig, build info, validation. The
// provider may be nil when no *_SSM_PARAM variables are present.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return load(provider, osEnv())
}

func load(provider SecretProvider, e env) (*Config, error) {
	var cfg Config
	if err := populate(provider, e, &cfg); err != nil {
		return nil, err
	}
	cfg.Build = NewBuildInfo()
	cfg.Server.SiteBaseURL = strings.TrimRight(cfg.Server.SiteBaseURL, "/")

	if cfg.RateLimit.Backend == RateLimitRedis && !cfg.Redis.URL.IsSet() {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "REDIS_URL is required when RATE_LIMIT_BACKEND=redis",
		}
	}

	return &cfg, nil
}

// LoadMaintenanceConfig loads the reduced configuration of the scheduled
// maintenance function through the same pipeline as LoadConfig.
func LoadMaintenanceConfig(provider SecretProvider) (*MaintenanceConfig, error) {
	var cfg MaintenanceConfig
	if err := populate(provider, osEnv(), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// populate runs .env loading, SSM pointer resolution, envconfig and
// validation into target.
func populate(provider SecretProvider, e env, target any) error {
	time.Local = time.UTC
	_ = godotenv.Load()

	appEnv, ok := e.lookup("APP_ENV")
	if !ok || appEnv == "" {
		return &ConfigError{Type: ErrMissingEnv, Message: "APP_ENV is not set"}
	}

	if appEnv != localEnv {
		if err := resolvePointers(provider, e); err != nil {
			return err
		}
	}

	if err := envconfig.Process("", target); err != nil {
		return &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	if err := validator.New().Struct(target); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	return nil
}

// resolvePointers replaces every FOO_SSM_PARAM=/path pointer with FOO=<value>
// unless FOO is already set.
func resolvePointers(provider SecretProvider, e env) error {
	targets := make(map[string]string) // ssm path -> env var
	for _, kv := range e.environ() {
		key, path, found := strings.Cut(kv, "=")
		if !found || !strings.HasSuffix(key, ssmParamSuffix) || path == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := e.lookup(target); set {
			continue
		}
		targets[path] = target
	}
	if len(targets) == 0 {
		return nil
	}

	paths := make([]string, 0, len(targets))
	for p := range targets {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	if provider == nil {
		names := make([]string, 0, len(paths))
		for _, p := range paths {
			names = append(names, targets[p])
		}
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "a secret provider is required to resolve " + strings.Join(names, ", "),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	values, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, p := range paths {
		v, ok := values[p]
		if !ok {
			missing = append(missing, targets[p])
			continue
		}
		if err := e.set(targets[p], v); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: "failed to set " + targets[p],
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "SSM parameters not found for: " + strings.Join(missing, ", "),
		}
	}
	return nil
}
