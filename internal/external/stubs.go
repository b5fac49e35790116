package external

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// StubEmailProvider logs messages instead of sending them. It backs
// EMAIL_PROVIDER=log for local development.
type StubEmailProvider struct {
	logger *slog.Logger
	redact func(string) string
}

// NewStubEmailProvider creates a StubEmailProvider. redact masks recipient
// addresses in the log and may be nil.
func NewStubEmailProvider(logger *slog.Logger, redact func(string) string) *StubEmailProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if redact == nil {
		redact = func(s string) string { return s }
	}
	return &StubEmailProvider{logger: logger, redact: redact}
}

// Send logs msg and returns a synthetic message id.
func (s *StubEmailProvider) Send(ctx context.Context, msg Message) (string, error) {
	id := "stub_" + uuid.NewString()
	s.logger.InfoContext(ctx, "stub: email not sent",
		"message_id", id,
		"to", s.redact(msg.To),
		"subject", msg.Subject,
		"text_bytes", len(msg.Text),
		"html_bytes", len(msg.HTML),
	)
	return id, nil
}

var _ EmailProvider = (*StubEmailProvider)(nil)
