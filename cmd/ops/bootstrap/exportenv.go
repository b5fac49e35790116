package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
)

// localDefaults are written alongside the exported secrets so the file is
// usable as-is with `go run ./cmd/api`.
var localDefaults = map[string]string{
	"APP_ENV":            "local",
	"LOG_LEVEL":          "debug",
	"SITE_BASE_URL":      "http://localhost:8080",
	"RATE_LIMIT_BACKEND": "memory",
}

// ExportConfig configures ExportEnvFile.
type ExportConfig struct {
	Path      string
	Store     *ParameterStore
	Inventory []Step
	Stderr    io.Writer
}

// ExportEnvFile reads every inventory parameter back from SSM and writes a
// dotenv file readable by the API's config loader. Parameters that do not
// exist are left out. The file is created with owner-only permissions.
func ExportEnvFile(ctx context.Context, cfg ExportConfig) error {
	env := make(map[string]string, len(cfg.Inventory)+len(localDefaults))
	for k, v := range localDefaults {
		env[k] = v
	}

	for _, step := range cfg.Inventory {
		path := cfg.Store.Path(step.Key)
		value, ok, err := cfg.Store.Get(ctx, path)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(cfg.Stderr, "  %s not set, leaving it out\n", step.EnvVar)
			continue
		}
		env[step.EnvVar] = value
	}

	content, err := godotenv.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding .env: %w", err)
	}
	if err := os.WriteFile(cfg.Path, []byte(content+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", cfg.Path, err)
	}
	fmt.Fprintf(cfg.Stderr, "  Wrote %d variables to %s\n", len(env), cfg.Path)
	return nil
}
