// Package main is the entry point for the Hearth API server.
//
// It loads configuration (resolving SSM secret pointers outside local
// environments), opens the Postgres pool and applies migrations, builds the
// email, suppression, analytics and admin services, mounts them on the core
// chassis and serves HTTP until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hearth/internal/analytics"
	"hearth/internal/api/handlers"
	"hearth/internal/auth"
	"hearth/internal/config"
	"hearth/internal/core"
	"hearth/internal/db"
	"hearth/internal/external"
	"hearth/internal/notifications/email"
	"hearth/internal/ratelimit"
	"hearth/internal/settings"
	"hearth/internal/telemetry"
	"hearth/internal/types"
)

// sweepInterval is how often idle in-memory rate limit keys are evicted.
const sweepInterval = 5 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(ssmRegion()))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("hearth API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := buildServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return serve(ctx, srv, cfg, logger)
}

// buildServer wires every dependency onto a core.Server and mounts routes.
// Resources opened here are released by srv.Shutdown.
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	domainLog := types.NewSlogAdapter(logger)
	clock := types.RealClock{}

	// Release whatever was opened if wiring fails part way.
	wired := false
	defer func() {
		if !wired {
			_ = srv.Shutdown(context.Background())
		}
	}()

	// Storage.
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	srv.OnShutdown = append(srv.OnShutdown, func(context.Context) error {
		pool.Close()
		return nil
	})
	if err := db.Migrate(ctx, pool); err != nil {
		return nil, fmt.Errorf("applying migrations: %w", err)
	}
	srv.HealthProbes = append(srv.HealthProbes, core.NewPingProbe("postgres", poolProber{pool}))

	clients := db.NewClientRepository(pool)
	leads := db.NewLeadRepository(pool)
	events := db.NewEmailEventRepository(pool)
	pageViews := db.NewPageViewRepository(pool)
	securityRepo := db.NewSecurityRepository(pool)
	settingsRepo := db.NewSettingsRepository(pool)

	// Rate limiting.
	if err := wireRateLimiter(ctx, srv, cfg, clock, logger); err != nil {
		return nil, err
	}

	// AWS-backed collaborators.
	awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	metrics := newMetrics(cfg, awsCfg, domainLog)
	srv.Metrics = metrics

	// Settings drive the site name in emails and the staff recipients.
	settingsSvc := settings.NewService(settingsRepo, srv.Validator.Engine(), domainLog.With("component", "settings"))
	siteName := "Hearth"
	if site, err := settingsSvc.Site(ctx); err != nil {
		logger.Warn("site settings unavailable at startup; using default name", "error", err.Error())
	} else if site.Name != "" {
		siteName = site.Name
	}

	// Email.
	mail := external.NewEmailClients(cfg.Email, awsCfg, logger, email.RedactEmail)
	renderer, err := email.NewRenderer(siteName, domainLog.With("component", "renderer"))
	if err != nil {
		return nil, fmt.Errorf("building email renderer: %w", err)
	}
	tokens, err := email.NewTokenService(clients, cfg.Server.SiteBaseURL)
	if err != nil {
		return nil, fmt.Errorf("building token service: %w", err)
	}
	sender := email.SenderSettings{
		From:          cfg.Email.FromAddress,
		ReplyTo:       cfg.Email.ReplyTo,
		ProviderReady: mail.Ready,
	}
	blaster := email.NewBlaster(email.BlasterConfig{
		Recipients:     clients,
		Tokens:         tokens,
		Renderer:       renderer,
		Provider:       mail.Provider,
		Sender:         sender,
		SkipSuppressed: cfg.Email.SkipSuppressed,
		Metrics:        metrics,
		Validate:       srv.Validator.Engine(),
		Clock:          clock,
		Logger:         domainLog.With("component", "blast"),
	})
	notifier := email.NewStaffNotifier(email.StaffNotifierConfig{
		Directory: settingsSvc,
		Renderer:  renderer,
		Provider:  mail.Provider,
		Sender:    sender,
		Logger:    domainLog.With("component", "staff_notifier"),
	})
	unsubscriber := email.NewUnsubscriber(clients, clock, domainLog.With("component", "unsubscribe"))

	// Delivery webhook.
	verifier, err := external.NewSvixVerifier(cfg.Webhook.SigningSecret.Unmask(), cfg.Webhook.Tolerance, clock)
	if err != nil {
		return nil, fmt.Errorf("building webhook verifier: %w", err)
	}
	if !verifier.Configured() {
		logger.Warn("RESEND_WEBHOOK_SECRET is not set; delivery webhooks will be refused")
	}
	ingestor := email.NewSuppressionIngestor(email.IngestorConfig{
		Store:   clients,
		Audit:   events,
		Mirror:  mail.Mirror,
		Metrics: metrics,
		Clock:   clock,
		Logger:  domainLog.With("component", "suppression"),
	})

	// Admin authentication.
	security := auth.NewSecurityService(securityRepo, auth.DefaultSecurityConfig(), clock, logger)
	srv.SecurityService = security
	login := auth.NewLoginService(auth.LoginServiceConfig{
		PasswordHash: cfg.Admin.PasswordHash,
		AdminToken:   cfg.Admin.Token,
		Security:     security,
		Logger:       logger,
	})
	if !cfg.Admin.PasswordHash.IsSet() {
		logger.Warn("ADMIN_PASSWORD_HASH is not set; password login is disabled")
	}

	// Analytics.
	recorder := analytics.NewRecorder(pageViews, cfg.Analytics.Salt.Unmask(), clock, domainLog.With("component", "analytics"))

	// Handlers.
	secureCookies := cfg.Environment != "local"
	guards := handlers.GuardsFrom(srv)

	authH := handlers.NewAuthHandler(login, handlers.CookieConfig{
		Name:   cfg.Admin.CookieName,
		Secure: secureCookies,
		MaxAge: cfg.Admin.CookieMaxAge,
	}, logger, srv.Validator)
	blastH := handlers.NewBlastHandler(blaster, clients, cfg.Email.SkipSuppressed, logger, srv.Validator)
	unsubH := handlers.NewUnsubscribeHandler(unsubscriber, settingsSvc, cfg.Server.SiteBaseURL, logger)
	webhookH := handlers.NewResendWebhookHandler(verifier, ingestor, logger)
	clientsH := handlers.NewClientsHandler(clients, clock, logger, srv.Validator)
	newsletterH := handlers.NewNewsletterHandler(clients, logger, srv.Validator)
	leadsH := handlers.NewLeadsHandler(leads, notifier, clock, logger, srv.Validator)
	settingsH := handlers.NewSettingsHandler(settingsSvc, settingsSvc, logger)
	analyticsH := handlers.NewAnalyticsHandler(recorder, recorder, handlers.AnalyticsConfig{
		CookieName: cfg.Analytics.CookieName,
		SiteHost:   siteHost(cfg.Server.SiteBaseURL),
		Secure:     secureCookies,
	}, logger)

	srv.PublicRoutes = append(srv.PublicRoutes,
		func(r chi.Router) { authH.RegisterRoutes(r, guards) },
		func(r chi.Router) { unsubH.RegisterRoutes(r, guards) },
		func(r chi.Router) { newsletterH.RegisterRoutes(r, guards) },
		func(r chi.Router) { leadsH.RegisterRoutes(r, guards) },
		func(r chi.Router) { analyticsH.RegisterRoutes(r, guards) },
		webhookH.RegisterRoutes,
		settingsH.RegisterRoutes,
	)
	srv.AdminRoutes = append(srv.AdminRoutes,
		authH.RegisterAdminRoutes,
		blastH.RegisterRoutes,
		clientsH.RegisterRoutes,
		leadsH.RegisterAdminRoutes,
		settingsH.RegisterAdminRoutes,
		analyticsH.RegisterAdminRoutes,
	)

	srv.MountRoutes()
	wired = true
	logger.Info("dependencies wired",
		"email_provider", mail.Name,
		"email_ready", mail.Ready,
		"rate_limit_backend", cfg.RateLimit.Backend,
		"metrics_enabled", cfg.Observability.EnableMetrics,
	)
	return srv, nil
}

// wireRateLimiter installs the configured store. The memory store is swept
// periodically until ctx ends; the Redis store is health-probed and closed
// on shutdown.
func wireRateLimiter(ctx context.Context, srv *core.Server, cfg *config.Config, clock types.Clock, logger *slog.Logger) error {
	if cfg.RateLimit.Backend == config.RateLimitRedis {
		store, err := ratelimit.NewRedisStoreFromURL(ctx, cfg.Redis.URL.Unmask())
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		srv.Limiter = ratelimit.New(store, clock)
		srv.HealthProbes = append(srv.HealthProbes, core.NewPingProbe("redis", store))
		srv.OnShutdown = append(srv.OnShutdown, func(context.Context) error { return store.Close() })
		return nil
	}

	store := ratelimit.NewMemoryStore()
	srv.Limiter = ratelimit.New(store, clock)
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := store.Sweep(clock.Now(), ratelimit.DefaultWindow); n > 0 {
					logger.Debug("rate limit keys swept", "evicted", n)
				}
			}
		}
	}()
	return nil
}

// loadAWSConfig resolves credentials for SES and CloudWatch. A custom
// endpoint (LocalStack) overrides the regional one.
func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}
	return awsCfg, nil
}

func newMetrics(cfg *config.Config, awsCfg aws.Config, logger types.Logger) telemetry.Collector {
	if !cfg.Observability.EnableMetrics {
		return telemetry.Noop{}
	}
	return telemetry.NewCloudWatchCollector(
		cloudwatch.NewFromConfig(awsCfg),
		cfg.Observability.MetricNamespace,
		logger.With("component", "telemetry"),
	)
}

// poolProber adapts *pgxpool.Pool to types.HealthProber.
type poolProber struct{ pool *pgxpool.Pool }

func (p poolProber) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// siteHost extracts the host of the public site for same-site referrer
// filtering.
func siteHost(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// serve runs the HTTP server until ctx is cancelled or the listener fails,
// then shuts down gracefully.
func serve(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// ssmRegion is read before configuration is loaded, so it cannot use
// cfg.AWS.Region.
func ssmRegion() string {
	if r := os.Getenv("AWS_REGION"); r != "" {
		return r
	}
	return "us-east-1"
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
