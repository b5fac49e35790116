package auth

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"hearth/internal/types"
)

// bcryptCost is the bcrypt cost factor used by HashPassword.
const bcryptCost = 12

// PasswordHasher abstracts bcrypt operations for testability.
type PasswordHasher interface {
	CompareHashAndPassword(hashedPassword, password string) error
	GenerateFromPassword(password string) (string, error)
}

type bcryptHasher struct{}

func (bcryptHasher) CompareHashAndPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

func (bcryptHasher) GenerateFromPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// HashPassword returns the bcrypt hash to store in ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	return bcryptHasher{}.GenerateFromPassword(password)
}

// AttemptRecorder is the part of SecurityService the login flow writes to.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, ip string, success bool, reason string) error
}

// LoginServiceConfig holds the dependencies of a LoginService.
type LoginServiceConfig struct {
	PasswordHash types.SecretString
	AdminToken   types.SecretString
	Security     AttemptRecorder
	Hasher       PasswordHasher
	Logger       *slog.Logger
}

// LoginService exchanges the admin password for the admin session
// credential.
type LoginService struct {
	passwordHash types.SecretString
	adminToken   types.SecretString
	security     AttemptRecorder
	hasher       PasswordHasher
	logger       *slog.Logger
}

// NewLoginService creates a LoginService. A nil Hasher uses bcrypt.
func NewLoginService(cfg LoginServiceConfig) *LoginService {
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = bcryptHasher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginService{
		passwordHash: cfg.PasswordHash,
		adminToken:   cfg.AdminToken,
		security:     cfg.Security,
		hasher:       hasher,
		logger:       logger,
	}
}

// Login verifies password and returns the credential to set in the admin
// cookie. Every attempt is recorded; recording failures never block a
// login decision.
//
// Returns config_admin_credential_missing when no password hash is
// configured and auth_invalid_credentials on a mismatch.
func (s *LoginService) Login(ctx context.Context, password, ip string) (string, error) {
	if !s.passwordHash.IsSet() || !s.adminToken.IsSet() {
		return "", types.NewAppError(types.ErrCodeConfigAdminCredential, "admin login is not configured", nil)
	}

	if password == "" {
		s.record(ctx, ip, false, "empty_password")
		return "", types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid password", nil)
	}

	if err := s.hasher.CompareHashAndPassword(s.passwordHash.Unmask(), password); err != nil {
		reason := "invalid_creds"
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			// Malformed hash in configuration.
			s.logger.Error("admin password hash rejected", "error", err)
			reason = "hash_error"
		}
		s.record(ctx, ip, false, reason)
		return "", types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid password", nil)
	}

	s.record(ctx, ip, true, "")
	s.logger.Info("admin logged in", "ip", ip)
	return s.adminToken.Unmask(), nil
}

func (s *LoginService) record(ctx context.Context, ip string, success bool, reason string) {
	if s.security == nil {
		return
	}
	_ = s.security.RecordAttempt(ctx, ip, success, reason)
}
