package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/drphyllis/internal"
	"github.com/DukeRupert/drphyllis/internal/ai"
	"github.com/DukeRupert/drphyllis/internal/ai/anthropic"
	aimock "github.com/DukeRupert/drphyllis/internal/ai/mock"
	"github.com/DukeRupert/drphyllis/internal/ai/openai"
	"github.com/DukeRupert/drphyllis/internal/auth"
	"github.com/DukeRupert/drphyllis/internal/billing"
	"github.com/DukeRupert/drphyllis/internal/domain"
	"github.com/DukeRupert/drphyllis/internal/handler"
	"github.com/DukeRupert/drphyllis/internal/metrics"
	"github.com/DukeRupert/drphyllis/internal/middleware"
	"github.com/DukeRupert/drphyllis/internal/payment"
	paymock "github.com/DukeRupert/drphyllis/internal/payment/mock"
	"github.com/DukeRupert/drphyllis/internal/payment/toss"
	"github.com/DukeRupert/drphyllis/internal/rubric"
	"github.com/DukeRupert/drphyllis/internal/service"
	"github.com/DukeRupert/drphyllis/internal/storage"
	"github.com/DukeRupert/drphyllis/internal/store"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize entitlement store
	st, healthCheck, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Rubric catalog
	catalog, err := rubric.Default()
	if err != nil {
		return fmt.Errorf("rubric catalog failed to load: %w", err)
	}
	logger.Info("Rubric catalog loaded", "universities", catalog.Len())

	// External collaborators
	grader, err := newGrader(cfg, logger)
	if err != nil {
		return fmt.Errorf("grader initialization failed: %w", err)
	}
	gateway, provider, err := newGateway(cfg, logger)
	if err != nil {
		return fmt.Errorf("payment gateway initialization failed: %w", err)
	}
	archive, err := newArchiveStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	var billingService billing.Service
	if cfg.StripeSecretKey != "" {
		billingService = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
		logger.Info("Stripe checkout enabled")
	}

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Secret:   cfg.AuthJWTSecret,
		Issuer:   cfg.AuthJWTIssuer,
		Audience: cfg.AuthJWTAudience,
	})
	if err != nil {
		return fmt.Errorf("identity verifier initialization failed: %w", err)
	}

	limiter, closeLimiter, err := newGradeLimiter(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}
	defer closeLimiter()

	// Initialize services
	policy := domain.QuotaPolicy{
		FreeLimit:         cfg.FreeTrialLimit,
		TrialWindowDays:   cfg.TrialWindowDays,
		ClearPaidOnExpiry: cfg.PaidTicketsExpireWithWindow,
	}
	entitlementService := service.NewEntitlementService(st, policy, logger)
	gradingService := service.NewGradingService(
		entitlementService,
		grader,
		catalog,
		st,
		service.NewArchiver(archive, logger),
		service.GradingConfig{Provider: cfg.AIProvider, Timeout: cfg.AIRequestTimeout * time.Duration(max(cfg.AIMaxRetries, 1))},
		logger,
	)
	paymentService := service.NewPaymentService(
		entitlementService,
		gateway,
		billingService,
		service.PaymentConfig{Provider: provider, BaseURL: cfg.BaseURL},
		logger,
	)

	// Initialize middleware
	isSecure := cfg.IsProduction()
	identityMw := middleware.NewIdentityMiddleware(verifier, logger)
	rateLimitMw := middleware.NewRateLimitMiddleware(limiter, logger)
	metricsMw := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	if cfg.MetricsUsername == "" && cfg.MetricsPassword == "" {
		logger.Warn("Metrics endpoint is unprotected; set METRICS_USERNAME and METRICS_PASSWORD")
	}

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	requireIdentity := middleware.Stack(identityMw.WithIdentity, identityMw.RequireIdentity)

	handler.NewHealthHandler(healthCheck, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", metricsMw.MetricsHandler())
	handler.NewUsageHandler(entitlementService, logger).RegisterRoutes(mux, requireIdentity)
	handler.NewGradingHandler(gradingService, logger).RegisterRoutes(mux, requireIdentity, rateLimitMw.Limit)
	handler.NewPaymentHandler(paymentService, logger).RegisterRoutes(mux, requireIdentity)
	handler.NewWebhookHandler(paymentService, logger).RegisterRoutes(mux)

	root := middleware.Stack(
		middleware.NewSecurityHeadersMiddleware(isSecure).Handler,
		metrics.Middleware,
		middleware.NewRequestLoggingMiddleware(logger).Handler,
		middleware.NewCSRFMiddleware(isSecure, logger).Protect,
	)(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env, "ai_provider", cfg.AIProvider, "payment_provider", provider)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

// openStore connects the configured entitlement store. The returned check
// backs GET /health and is nil for the in-memory store.
func openStore(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (store.Store, func(context.Context) error, func(), error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("Using in-memory entitlement store; usage is lost on restart")
		return store.NewMemory(), nil, func() {}, nil
	}

	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	return store.NewPostgres(db), db.PingContext, func() { db.Close() }, nil
}

func newGrader(cfg *internal.Config, logger *slog.Logger) (ai.Grader, error) {
	providerCfg := ai.ProviderConfig{
		MaxRetries:     cfg.AIMaxRetries,
		RetryBaseDelay: cfg.AIRetryBaseDelay,
		RequestTimeout: cfg.AIRequestTimeout,
	}

	switch cfg.AIProvider {
	case "openai":
		return openai.New(openai.Config{
			APIKey:         cfg.OpenAIAPIKey,
			Model:          cfg.OpenAIModel,
			APIURL:         cfg.OpenAIAPIURL,
			ProviderConfig: providerCfg,
		}, logger)
	case "anthropic":
		return anthropic.New(anthropic.Config{
			APIKey:         cfg.AnthropicAPIKey,
			Model:          cfg.AnthropicModel,
			ProviderConfig: providerCfg,
		}, logger)
	default:
		logger.Warn("Using mock grader; gradings are canned")
		return aimock.New(logger), nil
	}
}

func newGateway(cfg *internal.Config, logger *slog.Logger) (payment.Gateway, domain.PaymentProvider, error) {
	if cfg.PaymentProvider == "toss" {
		client, err := toss.New(toss.Config{
			SecretKey: cfg.TossSecretKey,
			BaseURL:   cfg.TossAPIURL,
		}, logger)
		return client, domain.ProviderToss, err
	}
	logger.Warn("Using mock payment gateway; every confirmation is approved")
	return paymock.New(), domain.ProviderMock, nil
}

func newArchiveStorage(cfg *internal.Config, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.StorageProvider {
	case storage.ProviderR2:
		r2, err := storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			Endpoint:        cfg.R2Endpoint,
		}, logger)
		if err != nil {
			return nil, err
		}
		return r2, nil
	case storage.ProviderLocal:
		local, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: cfg.LocalStoragePath}, logger)
		if err != nil {
			return nil, err
		}
		return local, nil
	default:
		logger.Info("Grading archive disabled")
		return nil, nil
	}
}

func newGradeLimiter(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (middleware.Limiter, func(), error) {
	if cfg.RedisURL == "" {
		rl := middleware.NewRateLimiter(cfg.GradeRateLimit, cfg.GradeRateWindow)
		return rl, rl.Close, nil
	}

	rl, err := middleware.NewRedisRateLimiter(cfg.RedisURL, cfg.GradeRateLimit, cfg.GradeRateWindow)
	if err != nil {
		return nil, nil, err
	}
	if err := rl.Ping(ctx); err != nil {
		// Requests are still admitted while Redis is down.
		logger.Warn("Redis unreachable at startup", "error", err)
	}
	logger.Info("Using Redis rate limiter")
	return rl, func() { closeQuietly(rl) }, nil
}

func closeQuietly(c io.Closer) {
	_ = c.Close()
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
