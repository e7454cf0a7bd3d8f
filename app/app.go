package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"
	"github.com/lmittmann/tint"

	"github.com/Highrates/vspomni-sub000/internal/commerce"
	"github.com/Highrates/vspomni-sub000/internal/config"
	"github.com/Highrates/vspomni-sub000/internal/email"
	"github.com/Highrates/vspomni-sub000/internal/handlers"
	"github.com/Highrates/vspomni-sub000/internal/logging"
	"github.com/Highrates/vspomni-sub000/internal/observability"
	"github.com/Highrates/vspomni-sub000/internal/payment"
	"github.com/Highrates/vspomni-sub000/internal/pricing"
	"github.com/Highrates/vspomni-sub000/internal/services"
	"github.com/Highrates/vspomni-sub000/internal/session"
	"github.com/Highrates/vspomni-sub000/internal/storage"
)

type App struct {
	Config          *config.Config
	Logger          *slog.Logger
	StorageProvider storage.Provider
	SessionManager  *session.Manager
	Handlers        *handlers.Handlers
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 1.0,
			EnableLogs:       true,
		}); err != nil {
			return nil, fmt.Errorf("failed to initialize sentry: %w", err)
		}
	}

	logger := newLogger(cfg)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	storageProvider, err := storage.NewProvider(storage.Config{
		Provider:              cfg.StorageProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage provider: %w", err)
	}

	sessionStore, err := session.NewStore(startupCtx, session.Config{
		Provider:              cfg.SessionStoreProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		closeStorageProvider(logger, storageProvider)
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	sessionManager := session.NewManager(sessionStore, handlers.SecureCookiesFromConfig(cfg))

	httpClient := observability.NewHTTPClient(30*time.Second, commerceHost(cfg))
	backend := commerce.NewClient(
		cfg.CommerceAPIURL,
		cfg.CommerceDirectURL,
		cfg.CommerceAPIToken,
		httpClient,
		logger.With("component", "commerce_client"),
	)

	gateway := payment.NewClient(cfg.PaymentSecretKey)

	var signer *payment.TokenSigner
	if cfg.PaymentWidgetSigningKey != "" {
		signer, err = payment.NewTokenSigner(cfg.PaymentWidgetSigningKey)
		if err != nil {
			closeSessionManager(logger, sessionManager)
			closeStorageProvider(logger, storageProvider)
			return nil, fmt.Errorf("failed to initialize widget token signer: %w", err)
		}
	}

	emailProvider, err := email.NewProvider(email.Config{
		Provider: cfg.EmailProvider,
		APIKey:   cfg.ResendAPIKey,
		From:     cfg.EmailFrom,
	})
	if err != nil {
		closeSessionManager(logger, sessionManager)
		closeStorageProvider(logger, storageProvider)
		return nil, fmt.Errorf("failed to initialize email provider: %w", err)
	}
	mailer, err := email.NewConfirmationSender(emailProvider, cfg.Storefront.ShopName, cfg.Storefront.ShopURL, cfg.Currency)
	if err != nil {
		closeSessionManager(logger, sessionManager)
		closeStorageProvider(logger, storageProvider)
		return nil, fmt.Errorf("failed to initialize confirmation sender: %w", err)
	}

	pricingEngine := pricing.NewEngine()
	promoService := services.NewPromoService(backend, logger.With("component", "promo_service"))
	checkoutService := services.NewCheckoutService(
		backend,
		gateway,
		signer,
		promoService,
		storageProvider,
		mailer,
		services.CheckoutConfig{
			Currency:           cfg.Currency,
			ReturnURL:          cfg.ReturnURL(),
			PlaceholderAddress: placeholderAddress(cfg),
			GraceWindow:        cfg.Storefront.GraceWindow.Std(),
		},
		logger.With("component", "checkout_service"),
	)
	recoveryService := services.NewRecoveryService(checkoutService, storageProvider, logger.With("component", "recovery_service"))
	paymentRouter := handlers.NewPaymentEventRouter(checkoutService, storageProvider, pricingEngine, logger.With("component", "payment_router"))

	h, err := handlers.New(handlers.Dependencies{
		Config:          cfg,
		StorageProvider: storageProvider,
		PricingEngine:   pricingEngine,
		PromoService:    promoService,
		CheckoutService: checkoutService,
		RecoveryService: recoveryService,
		PaymentRouter:   paymentRouter,
		SessionManager:  sessionManager,
		Logger:          logger,
	})
	if err != nil {
		closeSessionManager(logger, sessionManager)
		closeStorageProvider(logger, storageProvider)
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	return &App{
		Config:          cfg,
		Logger:          logger,
		StorageProvider: storageProvider,
		SessionManager:  sessionManager,
		Handlers:        h,
	}, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.SessionManager != nil {
		closeSessionManager(a.Logger, a.SessionManager)
	}
	if a.StorageProvider != nil {
		closeStorageProvider(a.Logger, a.StorageProvider)
	}
	sentry.Flush(2 * time.Second)
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var base slog.Handler
	format := strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	switch format {
	case "json":
		base = slog.NewJSONHandler(os.Stdout, opts)
	default:
		base = tint.NewHandler(os.Stdout, &tint.Options{
			Level: cfg.LogLevel,
		})
	}

	if cfg.SentryDSN == "" {
		return slog.New(base)
	}

	sentryHandler := sentryslog.Option{
		EventLevel: []slog.Level{slog.LevelError},
		LogLevel:   []slog.Level{slog.LevelWarn, slog.LevelError},
	}.NewSentryHandler(context.Background())

	return slog.New(logging.MultiHandler(base, sentryHandler))
}

func commerceHost(cfg *config.Config) string {
	for _, raw := range []string{cfg.CommerceAPIURL, cfg.CommerceDirectURL} {
		if host := hostOf(raw); host != "" {
			return host
		}
	}
	return ""
}

func hostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if idx := strings.Index(raw, "://"); idx >= 0 {
		raw = raw[idx+3:]
	}
	if idx := strings.IndexAny(raw, "/:"); idx >= 0 {
		raw = raw[:idx]
	}
	return raw
}

func placeholderAddress(cfg *config.Config) commerce.Address {
	addr := cfg.Storefront.PlaceholderAddress
	return commerce.Address{
		FirstName:  addr.FirstName,
		LastName:   addr.LastName,
		Street:     addr.Street,
		City:       addr.City,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

func closeSessionManager(logger *slog.Logger, manager *session.Manager) {
	if manager == nil {
		return
	}
	if err := manager.Close(); err != nil && logger != nil {
		logger.Warn("failed to close session manager", "error", err)
	}
}

func closeStorageProvider(logger *slog.Logger, provider storage.Provider) {
	if provider == nil {
		return
	}
	if err := provider.Close(); err != nil && logger != nil {
		logger.Warn("failed to close storage provider", "error", err)
	}
}
