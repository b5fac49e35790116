package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"hearth/internal/external"
	"hearth/internal/types"
)

const (
	// ChunkSize caps in-flight provider requests during a blast. Each chunk
	// completes before the next one starts.
	ChunkSize = 3

	// MaxReportedFailures bounds the failures returned to the caller.
	// FailedCount still counts all of them.
	MaxReportedFailures = 5
)

// BlastMode selects between a full blast and a single test send.
type BlastMode string

const (
	BlastModeBlast BlastMode = "blast"
	BlastModeTest  BlastMode = "test"
)

// BlastRequest is one operator-triggered send.
type BlastRequest struct {
	Subject       string
	Body          string
	Mode          BlastMode
	TestRecipient string
}

// BlastFailure records one recipient that was not sent to.
type BlastFailure struct {
	Email        string `json:"email"`
	ErrorMessage string `json:"errorMessage"`
}

// BlastResult aggregates a send. Failures holds at most MaxReportedFailures
// entries in recipient order.
type BlastResult struct {
	SentCount   int            `json:"sentCount"`
	FailedCount int            `json:"failedCount"`
	Failures    []BlastFailure `json:"failures"`
	Hint        string         `json:"hint,omitempty"`
}

// RecipientSource lists the clients eligible for a blast.
type RecipientSource interface {
	ListBlastRecipients(ctx context.Context, f types.RecipientFilter) ([]types.BlastRecipient, error)
}

// BlastMetrics receives one data point per finished blast.
type BlastMetrics interface {
	RecordBlast(ctx context.Context, mode string, sent, failed int)
}

// SenderSettings is the configured sender. ProviderReady is false when the
// provider credentials are missing.
type SenderSettings struct {
	From          string
	ReplyTo       string
	ProviderReady bool
}

// BlasterConfig holds the dependencies for creating a Blaster.
type BlasterConfig struct {
	Recipients     RecipientSource
	Tokens         *TokenService
	Renderer       *Renderer
	Provider       external.EmailProvider
	Sender         SenderSettings
	SkipSuppressed bool
	Metrics        BlastMetrics
	Validate       *validator.Validate
	Clock          types.Clock
	Logger         types.Logger
}

// Blaster sends one subject and body to every eligible client.
type Blaster struct {
	recipients     RecipientSource
	tokens         *TokenService
	renderer       *Renderer
	provider       external.EmailProvider
	sender         SenderSettings
	skipSuppressed bool
	metrics        BlastMetrics
	validate       *validator.Validate
	clock          types.Clock
	logger         types.Logger
}

// NewBlaster creates a Blaster.
func NewBlaster(cfg BlasterConfig) *Blaster {
	b := &Blaster{
		recipients:     cfg.Recipients,
		tokens:         cfg.Tokens,
		renderer:       cfg.Renderer,
		provider:       cfg.Provider,
		sender:         cfg.Sender,
		skipSuppressed: cfg.SkipSuppressed,
		metrics:        cfg.Metrics,
		validate:       cfg.Validate,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
	}
	if b.metrics == nil {
		b.metrics = NoopMetrics{}
	}
	if b.validate == nil {
		b.validate = validator.New()
	}
	if b.clock == nil {
		b.clock = types.RealClock{}
	}
	return b
}

// Send runs req. Validation and configuration problems are returned as
// errors before anything is sent. Per-recipient problems never are: they
// end up in the result and the remaining recipients are still attempted.
func (b *Blaster) Send(ctx context.Context, req BlastRequest) (*BlastResult, error) {
	subject := strings.TrimSpace(req.Subject)
	body := strings.TrimSpace(req.Body)
	if subject == "" {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField, "subject is required", nil,
			map[string]any{"field": "subject"})
	}
	if body == "" {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField, "body is required", nil,
			map[string]any{"field": "body"})
	}

	if !b.sender.ProviderReady {
		return nil, types.NewAppError(types.ErrCodeConfigEmailAPIKey, "email provider is not configured", nil)
	}
	sender, err := external.ParseSender(b.sender.From, b.sender.ReplyTo)
	if err != nil {
		return nil, err
	}

	compiled := b.renderer.Compile(subject, body)

	if req.Mode == BlastModeTest {
		return b.sendTest(ctx, compiled, sender, req.TestRecipient)
	}
	return b.sendBlast(ctx, compiled, sender)
}

func (b *Blaster) sendTest(ctx context.Context, c *CompiledBlast, sender external.SenderIdentity, to string) (*BlastResult, error) {
	to = types.NormalizeEmail(to)
	if err := b.validate.Var(to, "required,email"); err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidEmail, "test recipient is not a valid email address", nil,
			map[string]any{"field": "testTo"})
	}

	result := &BlastResult{Failures: []BlastFailure{}}
	err := b.deliver(ctx, c, sender, types.BlastRecipient{Email: to}, false)
	if err != nil {
		result.FailedCount = 1
		result.Failures = append(result.Failures, BlastFailure{Email: to, ErrorMessage: Sanitize(err)})
		result.Hint = Hint([]string{result.Failures[0].ErrorMessage})
	} else {
		result.SentCount = 1
	}

	b.logger.Info("test email processed", "to", RedactEmail(to), "sent", result.SentCount == 1)
	b.metrics.RecordBlast(ctx, string(BlastModeTest), result.SentCount, result.FailedCount)
	return result, nil
}

func (b *Blaster) sendBlast(ctx context.Context, c *CompiledBlast, sender external.SenderIdentity) (*BlastResult, error) {
	recipients, err := b.recipients.ListBlastRecipients(ctx, types.RecipientFilter{SkipSuppressed: b.skipSuppressed})
	if err != nil {
		return nil, err
	}

	result := &BlastResult{Failures: []BlastFailure{}}
	if len(recipients) == 0 {
		b.logger.Info("blast skipped, no eligible recipients")
		b.metrics.RecordBlast(ctx, string(BlastModeBlast), 0, 0)
		return result, nil
	}

	start := b.clock.Now()
	b.logger.Info("blast started", "recipients", len(recipients), "chunk_size", ChunkSize)

	outcomes := make([]error, len(recipients))
	for lo := 0; lo < len(recipients); lo += ChunkSize {
		hi := min(lo+ChunkSize, len(recipients))

		var g errgroup.Group
		for i := lo; i < hi; i++ {
			g.Go(func() error {
				outcomes[i] = b.deliver(ctx, c, sender, recipients[i], true)
				return nil
			})
		}
		_ = g.Wait()
	}

	var messages []string
	for i, err := range outcomes {
		if err == nil {
			result.SentCount++
			continue
		}
		result.FailedCount++
		msg := Sanitize(err)
		messages = append(messages, msg)
		if len(result.Failures) < MaxReportedFailures {
			result.Failures = append(result.Failures, BlastFailure{Email: recipients[i].Email, ErrorMessage: msg})
		}
	}
	result.Hint = Hint(messages)

	b.logger.Info("blast finished",
		"sent", result.SentCount,
		"failed", result.FailedCount,
		"duration_ms", b.clock.Now().Sub(start).Milliseconds(),
	)
	b.metrics.RecordBlast(ctx, string(BlastModeBlast), result.SentCount, result.FailedCount)
	return result, nil
}

// deliver sends to one recipient. Panics are converted to errors so one
// bad recipient cannot take down the chunk.
func (b *Blaster) deliver(ctx context.Context, c *CompiledBlast, sender external.SenderIdentity, rc types.BlastRecipient, withUnsubscribe bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected failure while sending: %v", r)
			b.logger.Error("panic during blast send", "to", RedactEmail(rc.Email), "panic", fmt.Sprintf("%v", r))
		}
	}()

	var unsubscribeURL string
	if withUnsubscribe {
		token, err := b.tokens.Ensure(ctx, rc)
		if err != nil {
			b.logger.Warn("unsubscribe token unavailable, recipient skipped",
				"client_id", rc.ID, "to", RedactEmail(rc.Email), "error", err.Error())
			return types.NewAppError(types.ErrCodeInternalTokenGen, "could not issue an unsubscribe link", err)
		}
		unsubscribeURL = b.tokens.UnsubscribeURL(token)
	}

	rendered, err := c.Render(Personalization{Name: rc.Name, Email: rc.Email}, unsubscribeURL)
	if err != nil {
		return err
	}

	msg := external.Message{
		From:    sender.From,
		To:      rc.Email,
		ReplyTo: sender.ReplyTo,
		Subject: rendered.Subject,
		Text:    rendered.Text,
		HTML:    rendered.HTML,
		Tags:    map[string]string{"category": "blast"},
	}
	if unsubscribeURL != "" {
		msg.Headers = map[string]string{
			"List-Unsubscribe":      "<" + unsubscribeURL + ">",
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		}
		msg.Tags["client_id"] = rc.ID
	} else {
		msg.Tags["category"] = "blast_test"
	}

	if _, err := b.provider.Send(ctx, msg); err != nil {
		b.logger.Warn("blast send failed", "to", RedactEmail(rc.Email), "error", err.Error())
		return err
	}
	return nil
}

// NoopMetrics discards blast and suppression metrics.
type NoopMetrics struct{}

func (NoopMetrics) RecordBlast(context.Context, string, int, int)  {}
func (NoopMetrics) RecordSuppression(context.Context, string, int) {}
