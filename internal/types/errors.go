package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
// The prefix decides the HTTP status; see HTTPStatus.
type ErrorCode string

// Handlers and services use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField  ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidEmail  ErrorCode = "validation_invalid_email"
	ErrCodeValidationInvalidBody   ErrorCode = "validation_invalid_body"
	ErrCodeValidationInvalidToken  ErrorCode = "validation_invalid_token"
	ErrCodeValidationInvalidField  ErrorCode = "validation_invalid_field"
	ErrCodeValidationWebhookShape  ErrorCode = "validation_webhook_payload"
	ErrCodeValidationSettingsKind  ErrorCode = "validation_unknown_settings_kind"
	ErrCodeValidationSettingsValue ErrorCode = "validation_invalid_settings"

	// Auth (401)
	ErrCodeAuthTokenMissing          ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid          ErrorCode = "auth_token_invalid"
	ErrCodeAuthInvalidCreds          ErrorCode = "auth_invalid_credentials"
	ErrCodeAuthWebhookHeadersMissing ErrorCode = "auth_webhook_headers_missing"
	ErrCodeAuthWebhookSignature      ErrorCode = "auth_webhook_signature_invalid"

	// Forbidden (403)
	ErrCodeForbiddenIPBlocked ErrorCode = "forbidden_ip_blocked"

	// Rate limiting (429)
	ErrCodeRateLimit ErrorCode = "rate_limit_exceeded"

	// Not Found (404)
	ErrCodeNotFoundClient   ErrorCode = "not_found_client"
	ErrCodeNotFoundToken    ErrorCode = "not_found_unsubscribe_token"
	ErrCodeNotFoundLead     ErrorCode = "not_found_lead"
	ErrCodeNotFoundSettings ErrorCode = "not_found_settings"
	ErrCodeNotFoundRoute    ErrorCode = "not_found_route"

	// Conflict (409)
	ErrCodeConflictEmail ErrorCode = "conflict_email_exists"

	// Configuration (500). Messages stay generic; the log carries the detail.
	ErrCodeConfigEmailAPIKey     ErrorCode = "config_email_api_key_missing"
	ErrCodeConfigEmailFrom       ErrorCode = "config_email_from_invalid"
	ErrCodeConfigEmailReplyTo    ErrorCode = "config_email_reply_to_invalid"
	ErrCodeConfigWebhookSecret   ErrorCode = "config_webhook_secret_missing"
	ErrCodeConfigSiteBaseURL     ErrorCode = "config_site_base_url_invalid"
	ErrCodeConfigAdminCredential ErrorCode = "config_admin_credential_missing"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB            ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected    ErrorCode = "internal_unexpected_error"
	ErrCodeInternalTokenGen      ErrorCode = "internal_token_generation_failed"
	ErrCodeUpstreamEmailProvider ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited   ErrorCode = "upstream_rate_limited"
	ErrCodeEmailBlocked          ErrorCode = "email_blocked"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case strings.HasPrefix(s, "forbidden_"), s == string(ErrCodeEmailBlocked):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case strings.HasPrefix(s, "rate_limit_"):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "config_"), strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// IsConfiguration reports whether the code describes a server-side
// misconfiguration rather than a caller mistake.
func (c ErrorCode) IsConfiguration() bool {
	return strings.HasPrefix(string(c), "config_")
}

// AppError is the standard application error type.
// Domain and handler errors are expressed as AppError so the HTTP layer can
// format them consistently and map them to a status code.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
