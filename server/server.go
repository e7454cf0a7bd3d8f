package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Highrates/vspomni-sub000/internal/config"
	"github.com/Highrates/vspomni-sub000/internal/handlers"
)

type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	handlers   *handlers.Handlers
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger, h *handlers.Handlers) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if h == nil {
		return nil, fmt.Errorf("handlers are required")
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		handlers: h,
	}

	router := s.buildRouter()
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

func (s *Server) Run() error {
	s.logger.Info("server starting", "port", s.cfg.Port)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) buildRouter() *mux.Router {
	h := s.handlers

	r := mux.NewRouter()
	r.Use(h.RequestLogger)
	r.Use(h.MetricsContext)
	r.Use(h.SecurityHeaders)
	r.HandleFunc("/health", h.Health).Methods("GET").Name("health")

	// Gateway webhooks authenticate by signature, not session.
	r.HandleFunc("/webhooks/payment", h.PaymentWebhook).Methods("POST").Name("webhooks.payment")

	// 404 handler - must be last
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		if err := json.NewEncoder(w).Encode(map[string]string{"error": "not found"}); err != nil {
			http.Error(w, "Not Found", http.StatusNotFound)
		}
	})

	// Storefront API - every route runs under an established session.
	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.SessionMiddleware)
	api.Use(h.RequireSameOrigin)
	api.HandleFunc("/cart", h.GetCart).Methods("GET").Name("api.cart")
	api.HandleFunc("/cart", h.ClearCart).Methods("DELETE").Name("api.cart.clear")
	api.HandleFunc("/cart/items", h.AddCartLine).Methods("POST").Name("api.cart.items.add")
	api.HandleFunc("/cart/items/{lineID}/increment", h.IncrementCartLine).Methods("POST").Name("api.cart.items.increment")
	api.HandleFunc("/cart/items/{lineID}/decrement", h.DecrementCartLine).Methods("POST").Name("api.cart.items.decrement")
	api.HandleFunc("/cart/items/{lineID}", h.RemoveCartLine).Methods("DELETE").Name("api.cart.items.remove")
	api.HandleFunc("/cart/promo", h.ApplyPromo).Methods("POST").Name("api.cart.promo.apply")
	api.HandleFunc("/cart/promo", h.RemovePromo).Methods("DELETE").Name("api.cart.promo.remove")
	api.HandleFunc("/checkout", h.BeginCheckout).Methods("POST").Name("api.checkout.begin")
	api.HandleFunc("/checkout/confirmation", h.CheckoutConfirmation).Methods("GET").Name("api.checkout.confirmation")

	return r
}
