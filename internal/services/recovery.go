package services

import (
	"context"
	"log/slog"

	"github.com/getsentry/sentry-go"

	"github.com/Highrates/vspomni-sub000/internal/cart"
	"github.com/Highrates/vspomni-sub000/internal/commerce"
	"github.com/Highrates/vspomni-sub000/internal/logging"
	"github.com/Highrates/vspomni-sub000/internal/observability"
	"github.com/Highrates/vspomni-sub000/internal/storage"
)

// RecoveryService re-enters a finalization that lost its in-process context,
// typically because the hosted payment widget navigated the shopper away
// before the gateway callback landed. It is driven from the confirmation
// page and works entirely off the persisted hand-off record.
type RecoveryService struct {
	finalizer finalizer
	provider  storage.Provider
	logger    *slog.Logger
}

type finalizer interface {
	Finalize(ctx context.Context, cartStore *cart.Store, input FinalizeInput) (*commerce.Order, error)
}

func NewRecoveryService(fin finalizer, provider storage.Provider, logger *slog.Logger) *RecoveryService {
	return &RecoveryService{
		finalizer: fin,
		provider:  provider,
		logger:    logger,
	}
}

// ResumeStatus describes the outcome of a recovery attempt.
type ResumeStatus string

const (
	ResumeNothingPending ResumeStatus = "nothing_pending"
	ResumeCompleted      ResumeStatus = "completed"
	ResumeFailed         ResumeStatus = "failed"
)

// Resumption is the confirmation page's answer: whether there was anything
// to finish, and how it went.
type Resumption struct {
	Status  ResumeStatus    `json:"status"`
	Order   *commerce.Order `json:"order,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Resume finishes an interrupted checkout for the given customer. A missing
// hand-off record is not an error: either nothing was pending or a previous
// resume already completed it. A failed resume leaves the record in place so
// a reload can try again.
func (s *RecoveryService) Resume(ctx context.Context, cartStore *cart.Store, customer Customer) (*Resumption, error) {
	span := sentry.StartSpan(
		ctx,
		"service.recovery.resume",
		sentry.WithOpName("service.recovery"),
		sentry.WithDescription("Resume"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := logging.FromContext(ctx, s.logger)
	meter := observability.MeterFromContext(ctx)

	record, err := LoadPendingCheckout(ctx, s.provider, customer.ClientID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		meter.Count("recovery.nothing_pending", 1)
		return &Resumption{Status: ResumeNothingPending}, nil
	}

	logger.Info("resuming interrupted checkout", "client_id", customer.ClientID, "checkout_id", record.CheckoutID, "payment_id", record.PaymentID)

	order, err := s.finalizer.Finalize(ctx, cartStore, FinalizeInput{
		ClientID:   customer.ClientID,
		CheckoutID: record.CheckoutID,
		PaymentID:  record.PaymentID,
		Amount:     record.Amount,
		Email:      customer.Email,
	})
	if err != nil {
		meter.Count("recovery.failed", 1)
		logger.Error("checkout recovery failed", "client_id", customer.ClientID, "checkout_id", record.CheckoutID, "error", err)
		return &Resumption{
			Status:  ResumeFailed,
			Message: UserMessage(err),
		}, nil
	}

	meter.Count("recovery.completed", 1)
	return &Resumption{Status: ResumeCompleted, Order: order}, nil
}
