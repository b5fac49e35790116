package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"hearth/internal/types"
)

const resendAPIBase = "https://api.resend.com"

// ResendClientConfig holds the configuration for creating a ResendClient.
type ResendClientConfig struct {
	APIKey  string
	BaseURL string // defaults to resendAPIBase
	Logger  *slog.Logger
}

// ResendClient implements EmailProvider against the Resend REST API.
// Requests go through BaseClient so 429 and 5xx responses are retried.
type ResendClient struct {
	base    *BaseClient
	apiKey  string
	baseURL string
	logger  *slog.Logger
}

// NewResendClient creates a ResendClient. The http client should carry a
// per-request timeout.
func NewResendClient(httpClient *http.Client, cfg ResendClientConfig, opts ...BaseClientOption) *ResendClient {
	base := NewBaseClient(httpClient, "resend", DefaultRetryPolicy(), "Hearth/1.0", opts...)
	return NewResendClientWithBase(base, cfg)
}

// NewResendClientWithBase creates a ResendClient on an existing BaseClient.
func NewResendClientWithBase(base *BaseClient, cfg ResendClientConfig) *ResendClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = resendAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ResendClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

type resendEmailRequest struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html,omitempty"`
	Text    string            `json:"text,omitempty"`
	ReplyTo string            `json:"reply_to,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Tags    []resendTag       `json:"tags,omitempty"`
}

type resendTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type resendEmailResponse struct {
	ID string `json:"id"`
}

type resendErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Name       string `json:"name"`
}

// Send posts msg to /emails and returns the Resend message id.
//
// Error mapping:
//   - 403 -> types.ErrCodeEmailBlocked
//   - 429 and 5xx -> retried by BaseClient, then upstream_rate_limited / upstream_unavailable
//   - other 4xx -> types.ErrCodeUpstreamEmailProvider
//
// The provider's own message is kept in the AppError message so callers
// can show it to the operator after sanitizing.
func (c *ResendClient) Send(ctx context.Context, msg Message) (string, error) {
	body, err := json.Marshal(buildResendRequest(msg))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal Resend payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create Resend request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.base.Do(req)
	if err != nil {
		return "", wrapResendError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out resendEmailResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			// Accepted but unreadable: the send happened, so do not fail it.
			c.logger.Warn("resend: undecodable success body", "status", resp.StatusCode, "error", err)
			return "", nil
		}
		return out.ID, nil
	}

	return "", c.handleErrorResponse(resp)
}

func buildResendRequest(msg Message) resendEmailRequest {
	req := resendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		ReplyTo: msg.ReplyTo,
	}
	if len(msg.Headers) > 0 {
		req.Headers = msg.Headers
	}
	if len(msg.Tags) > 0 {
		names := make([]string, 0, len(msg.Tags))
		for k := range msg.Tags {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			req.Tags = append(req.Tags, resendTag{Name: k, Value: msg.Tags[k]})
		}
	}
	return req
}

func (c *ResendClient) handleErrorResponse(resp *http.Response) error {
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("Resend returned status %d and the body was unreadable", resp.StatusCode),
			readErr,
		)
	}

	message := strings.TrimSpace(string(raw))
	var rErr resendErrorResponse
	if err := json.Unmarshal(raw, &rErr); err == nil && rErr.Message != "" {
		message = rErr.Message
		if rErr.Name != "" {
			message = fmt.Sprintf("%s (%s)", rErr.Message, rErr.Name)
		}
	}
	return mapResendError(resp.StatusCode, message)
}

func mapResendError(status int, message string) error {
	switch {
	case status == http.StatusForbidden:
		return types.NewAppError(types.ErrCodeEmailBlocked, "Resend refused the message: "+message, nil)
	case status == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "Resend rate limit exceeded", nil)
	case status >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "Resend server error: "+message, nil)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("Resend error (%d): %s", status, message),
			nil,
		)
	}
}

func wrapResendError(err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(types.ErrCodeUpstreamEmailProvider, fmt.Sprintf("Resend request failed: %v", err), err)
}

var _ EmailProvider = (*ResendClient)(nil)
