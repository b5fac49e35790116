package main

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"hearth/internal/external"
)

// ValidationResult is the outcome of checking one operator input.
type ValidationResult struct {
	Valid   bool
	Message string
}

func valid(format string, args ...any) ValidationResult {
	return ValidationResult{Valid: true, Message: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...any) ValidationResult {
	return ValidationResult{Message: fmt.Sprintf(format, args...)}
}

// Pinger opens a connection to dsn and closes it again.
type Pinger interface {
	Ping(ctx context.Context, dsn string) error
}

type pgxPinger struct{}

func (pgxPinger) Ping(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	return conn.Close(ctx)
}

type redisPinger struct{}

func (redisPinger) Ping(ctx context.Context, dsn string) error {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return err
	}
	client := redis.NewClient(opts)
	defer client.Close()
	return client.Ping(ctx).Err()
}

// Validator checks operator input before it is written anywhere. Connection
// checks are skipped when the corresponding Pinger is nil.
type Validator struct {
	db    Pinger
	redis Pinger
}

func NewValidator() *Validator {
	return &Validator{db: pgxPinger{}, redis: redisPinger{}}
}

func NewValidatorWithDeps(db, redis Pinger) *Validator {
	return &Validator{db: db, redis: redis}
}

const validateTimeout = 15 * time.Second

const minAdminPasswordLength = 12

var resendKeyRegex = regexp.MustCompile(`^re_[0-9A-Za-z_]{16,}$`)

// ValidateDatabaseURL requires a postgres:// DSN that pgx can parse and,
// when a pinger is configured, connect to.
func (v *Validator) ValidateDatabaseURL(ctx context.Context, raw string) ValidationResult {
	u, err := url.Parse(raw)
	if err != nil {
		return invalid("invalid URL: %v", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return invalid("expected postgres:// or postgresql:// scheme, got %q", u.Scheme)
	}
	if _, err := pgx.ParseConfig(raw); err != nil {
		return invalid("unparseable connection string: %v", err)
	}
	if v.db == nil {
		return valid("database URL accepted (host=%s)", u.Hostname())
	}

	pingCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	if err := v.db.Ping(pingCtx, raw); err != nil {
		return invalid("connection failed: %v", err)
	}
	return valid("database connection verified (host=%s)", u.Hostname())
}

func (v *Validator) ValidateRedisURL(ctx context.Context, raw string) ValidationResult {
	if _, err := redis.ParseURL(raw); err != nil {
		return invalid("invalid redis URL: %v", err)
	}
	if v.redis == nil {
		return valid("redis URL accepted")
	}

	pingCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	if err := v.redis.Ping(pingCtx, raw); err != nil {
		return invalid("redis ping failed: %v", err)
	}
	return valid("redis connection verified")
}

func (v *Validator) ValidateResendKey(_ context.Context, key string) ValidationResult {
	if !resendKeyRegex.MatchString(key) {
		return invalid("expected a Resend API key (re_...)")
	}
	return valid("Resend API key format accepted")
}

// ValidateWebhookSecret accepts only secrets the webhook verifier can load.
func (v *Validator) ValidateWebhookSecret(_ context.Context, secret string) ValidationResult {
	if !strings.HasPrefix(secret, "whsec_") {
		return invalid("expected a signing secret starting with whsec_")
	}
	if _, err := external.NewSvixVerifier(secret, 0, nil); err != nil {
		return invalid("%v", err)
	}
	return valid("webhook signing secret accepted")
}

func (v *Validator) ValidateAdminPassword(_ context.Context, password string) ValidationResult {
	if len(password) < minAdminPasswordLength {
		return invalid("password must be at least %d characters", minAdminPasswordLength)
	}
	return valid("password accepted")
}
