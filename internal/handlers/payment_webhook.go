package handlers

import (
	"net/http"
	"time"

	"github.com/Highrates/vspomni-sub000/internal/payment"
	"github.com/Highrates/vspomni-sub000/internal/storage"
)

// paymentWebhookIdempotencyTTL is how long webhook event IDs are kept for deduplication
const paymentWebhookIdempotencyTTL = 24 * time.Hour

func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)

	event, err := payment.ReadWebhookEvent(r, h.config.PaymentWebhookSecret)
	if err != nil {
		logger.Error("failed to read gateway webhook payload", "error", err)
		http.Error(w, "Invalid webhook", http.StatusBadRequest)
		return
	}

	if event == nil || event.ID == "" {
		logger.Error("missing gateway event ID")
		http.Error(w, "Missing event ID", http.StatusBadRequest)
		return
	}

	storageKey := storage.WebhookKey("stripe", event.ID)
	_, err = h.storageProvider.Get(ctx, storageKey)
	if err == nil {
		logger.Info("webhook already processed", "event_id", event.ID)
		w.WriteHeader(http.StatusOK)
		return
	}

	if h.paymentRouter == nil {
		logger.Error("payment event router not configured")
		http.Error(w, "Webhook handler not configured", http.StatusInternalServerError)
		return
	}

	processErr := h.paymentRouter.Handle(ctx, event)
	if processErr == nil {
		if err := h.storageProvider.Set(ctx, storageKey, "processed", paymentWebhookIdempotencyTTL); err != nil {
			logger.Error("failed to mark webhook as processed", "error", err)
		}
	}
	if processErr != nil {
		logger.Error("failed to process gateway webhook", "error", processErr, "type", event.Type)
		http.Error(w, "Processing failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
