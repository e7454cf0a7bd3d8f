package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	stripeapi "github.com/stripe/stripe-go/v84"

	"github.com/Highrates/vspomni-sub000/internal/cart"
	"github.com/Highrates/vspomni-sub000/internal/logging"
	"github.com/Highrates/vspomni-sub000/internal/observability"
	"github.com/Highrates/vspomni-sub000/internal/pricing"
	"github.com/Highrates/vspomni-sub000/internal/services"
	"github.com/Highrates/vspomni-sub000/internal/storage"
)

// PaymentEventRouter dispatches gateway webhook events into the checkout
// flow. The intent's metadata ties each event back to a storefront client.
type PaymentEventRouter struct {
	checkout *services.CheckoutService
	provider storage.Provider
	engine   *pricing.Engine
	logger   *slog.Logger
}

func NewPaymentEventRouter(checkout *services.CheckoutService, provider storage.Provider, engine *pricing.Engine, logger *slog.Logger) *PaymentEventRouter {
	return &PaymentEventRouter{
		checkout: checkout,
		provider: provider,
		engine:   engine,
		logger:   logger,
	}
}

func (r *PaymentEventRouter) Handle(ctx context.Context, event *stripeapi.Event) error {
	span := sentry.StartSpan(
		ctx,
		"handler.payment_router.handle",
		sentry.WithOpName("handler.payment_router"),
		sentry.WithDescription("PaymentEventRouter.Handle"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(attribute.String("webhook.provider", "stripe"))
	meter.Count("webhook.router.received", 1)
	recordFailed := func(reason string) {
		meter.Count("webhook.router.failed", 1, sentry.WithAttributes(attribute.String("reason", reason)))
	}

	if event == nil {
		recordFailed("missing_event")
		return fmt.Errorf("missing gateway event")
	}
	if event.Data == nil {
		recordFailed("missing_event_data")
		return fmt.Errorf("missing gateway event data")
	}
	meter.SetAttributes(attribute.String("webhook.event_type", string(event.Type)))

	logger := logging.FromContext(ctx, r.logger)

	switch event.Type {
	case "payment_intent.succeeded":
		if err := r.handleIntentResult(ctx, event.Data.Raw, true); err != nil {
			recordFailed("payment_intent_succeeded_failed")
			return err
		}
		meter.Count("webhook.router.processed", 1)
		span.Status = sentry.SpanStatusOK
		return nil
	case "payment_intent.payment_failed":
		if err := r.handleIntentResult(ctx, event.Data.Raw, false); err != nil {
			recordFailed("payment_intent_failed_handler_failed")
			return err
		}
		meter.Count("webhook.router.processed", 1)
		span.Status = sentry.SpanStatusOK
		return nil
	default:
		logger.Info("unhandled gateway event type", "type", event.Type)
		meter.Count("webhook.router.unhandled", 1)
		span.Status = sentry.SpanStatusOK
		return nil
	}
}

func (r *PaymentEventRouter) handleIntentResult(ctx context.Context, payload json.RawMessage, succeeded bool) error {
	logger := logging.FromContext(ctx, r.logger)

	var intent stripeapi.PaymentIntent
	if err := json.Unmarshal(payload, &intent); err != nil {
		return fmt.Errorf("failed to decode payment intent payload: %w", err)
	}

	clientID := intent.Metadata["client_id"]
	if clientID == "" {
		// Not one of ours; another integration shares the gateway account.
		logger.Info("gateway event without client metadata, ignoring", "payment_id", intent.ID)
		return nil
	}

	result := services.GatewayResult{
		ClientID:   clientID,
		CheckoutID: intent.Metadata["checkout_id"],
		PaymentID:  intent.ID,
		Amount:     intent.Amount,
		Succeeded:  succeeded,
	}
	if intent.LastPaymentError != nil {
		result.FailureMessage = intent.LastPaymentError.Msg
	}

	cartStore, err := cart.Load(ctx, clientID, r.provider, r.engine, logger)
	if err != nil {
		logger.Warn("failed to load cart for gateway event, finalizing without it", "client_id", clientID, "error", err)
		cartStore = nil
	}

	_, err = r.checkout.HandleGatewayResult(ctx, cartStore, result)
	return err
}
