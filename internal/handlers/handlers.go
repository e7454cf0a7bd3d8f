package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/Highrates/vspomni-sub000/internal/config"
	"github.com/Highrates/vspomni-sub000/internal/logging"
	"github.com/Highrates/vspomni-sub000/internal/pricing"
	"github.com/Highrates/vspomni-sub000/internal/services"
	"github.com/Highrates/vspomni-sub000/internal/session"
	"github.com/Highrates/vspomni-sub000/internal/storage"
)

const maxWebhookBodyBytes = 1 << 20 // 1 MB

const maxAPIBodyBytes = 64 << 10

// Handlers provides HTTP request handlers for the storefront API.
type Handlers struct {
	config          *config.Config
	storageProvider storage.Provider
	pricingEngine   *pricing.Engine
	promoService    *services.PromoService
	checkoutService *services.CheckoutService
	recoveryService *services.RecoveryService
	paymentRouter   *PaymentEventRouter
	sessionManager  *session.Manager
	logger          *slog.Logger
}

type Dependencies struct {
	Config          *config.Config
	StorageProvider storage.Provider
	PricingEngine   *pricing.Engine
	PromoService    *services.PromoService
	CheckoutService *services.CheckoutService
	RecoveryService *services.RecoveryService
	PaymentRouter   *PaymentEventRouter
	SessionManager  *session.Manager
	Logger          *slog.Logger
}

func New(deps Dependencies) (*Handlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if deps.Config == nil {
		return nil, fmt.Errorf("handlers dependencies: config is required")
	}
	if deps.StorageProvider == nil {
		return nil, fmt.Errorf("handlers dependencies: storageProvider is required")
	}
	if deps.PricingEngine == nil {
		return nil, fmt.Errorf("handlers dependencies: pricingEngine is required")
	}
	if deps.PromoService == nil {
		return nil, fmt.Errorf("handlers dependencies: promoService is required")
	}
	if deps.CheckoutService == nil {
		return nil, fmt.Errorf("handlers dependencies: checkoutService is required")
	}
	if deps.RecoveryService == nil {
		return nil, fmt.Errorf("handlers dependencies: recoveryService is required")
	}
	if deps.PaymentRouter == nil {
		return nil, fmt.Errorf("handlers dependencies: paymentRouter is required")
	}
	if deps.SessionManager == nil {
		return nil, fmt.Errorf("handlers dependencies: sessionManager is required")
	}

	return &Handlers{
		config:          deps.Config,
		storageProvider: deps.StorageProvider,
		pricingEngine:   deps.PricingEngine,
		promoService:    deps.PromoService,
		checkoutService: deps.CheckoutService,
		recoveryService: deps.RecoveryService,
		paymentRouter:   deps.PaymentRouter,
		sessionManager:  deps.SessionManager,
		logger:          logger.With("component", "handlers"),
	}, nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	if _, err := h.storageProvider.Get(ctx, "health:probe"); err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Error("storage health check failed", "error", err)
		http.Error(w, "Storage unhealthy", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	}); err != nil {
		logger.Error("failed to encode health response", "error", err)
	}
}

// SessionMiddleware guarantees a session with a client ID on the request
func (h *Handlers) SessionMiddleware(next http.Handler) http.Handler {
	return h.sessionManager.EnsureSession(next)
}

func (h *Handlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}

func SecureCookiesFromConfig(cfg *config.Config) bool {
	if cfg == nil {
		return false
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL != "" {
		if parsed, err := url.Parse(baseURL); err == nil {
			return strings.EqualFold(parsed.Scheme, "https")
		}
	}

	return cfg.Port == "443" || cfg.Port == "8443"
}
