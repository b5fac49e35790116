package external

import (
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"

	"hearth/internal/config"
	"hearth/internal/types"
)

// EmailClients is what the rest of the application sees of the email
// provider. Mirror is nil unless suppressions are copied to SES.
type EmailClients struct {
	Provider EmailProvider
	Mirror   SuppressionMirror
	// Name is the configured provider identifier, for logs.
	Name string
	// Ready reports whether credentials for Provider are present.
	Ready bool
}

// NewEmailClients builds the provider selected by cfg.Provider. Missing
// Resend credentials do not fail here: the blast path checks Ready and
// reports a configuration error, so the rest of the site keeps running.
// redact masks addresses in the log provider's output.
func NewEmailClients(cfg config.EmailConfig, awsCfg aws.Config, logger *slog.Logger, redact func(string) string) *EmailClients {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Provider {
	case config.EmailProviderSES:
		ses := NewSESClient(awsCfg, SESClientConfig{
			ConfigSetName: cfg.SESConfigurationSet,
			Logger:        logger.With("client", "ses"),
		})
		clients := &EmailClients{Provider: ses, Name: cfg.Provider, Ready: true}
		if cfg.MirrorSuppressions {
			clients.Mirror = ses
		}
		logger.Info("email provider initialized", "provider", cfg.Provider, "mirror_suppressions", cfg.MirrorSuppressions)
		return clients

	case config.EmailProviderLog:
		logger.Info("email provider initialized in STUB mode", "provider", cfg.Provider)
		return &EmailClients{
			Provider: NewStubEmailProvider(logger.With("mode", "stub"), redact),
			Name:     cfg.Provider,
			Ready:    true,
		}

	default:
		httpClient := &http.Client{Timeout: cfg.SendTimeout}
		resend := NewResendClient(httpClient, ResendClientConfig{
			APIKey:  cfg.ResendAPIKey.Unmask(),
			BaseURL: cfg.ResendBaseURL,
			Logger:  logger.With("client", "resend"),
		}, WithLogger(types.NewSlogAdapter(logger.With("client", "resend"))))
		ready := cfg.ResendAPIKey.IsSet()
		if !ready {
			logger.Warn("RESEND_API_KEY is not set; blasts will fail until it is configured")
		}
		logger.Info("email provider initialized", "provider", config.EmailProviderResend)
		return &EmailClients{Provider: resend, Name: config.EmailProviderResend, Ready: ready}
	}
}
