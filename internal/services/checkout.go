package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/Highrates/vspomni-sub000/internal/cart"
	"github.com/Highrates/vspomni-sub000/internal/commerce"
	"github.com/Highrates/vspomni-sub000/internal/logging"
	"github.com/Highrates/vspomni-sub000/internal/observability"
	"github.com/Highrates/vspomni-sub000/internal/payment"
	"github.com/Highrates/vspomni-sub000/internal/storage"
)

// CheckoutService drives the saga that turns a cart into a paid, confirmed
// order: create remote checkout, sync the promo, collect payment through the
// gateway, then finalize. Between CreatingPayment and Finalizing the only
// durable state is the PendingCheckout record; the Recovery flow re-enters
// Finalize from it when the gateway callback never arrives in-process.
type CheckoutService struct {
	backend     checkoutBackend
	gateway     paymentGateway
	signer      widgetSigner
	promos      promoAttacher
	provider    storage.Provider
	mailer      ConfirmationMailer
	currency    string
	returnURL   string
	placeholder commerce.Address
	graceWindow time.Duration
	logger      *slog.Logger
}

type checkoutBackend interface {
	productLookup
	CreateCheckoutDirect(ctx context.Context, lines []commerce.CheckoutLine, email string) (*commerce.Checkout, error)
	CreateCheckoutStandard(ctx context.Context, lines []commerce.CheckoutLine, email string) (*commerce.Checkout, error)
	GetCheckout(ctx context.Context, checkoutID string) (*commerce.Checkout, error)
	RecordTransaction(ctx context.Context, checkoutID, paymentID string, amount int64) error
	AttachEmail(ctx context.Context, checkoutID, email string) error
	SetBillingAddress(ctx context.Context, checkoutID string, address commerce.Address) error
	GetDefaultAddress(ctx context.Context, email string) (*commerce.Address, error)
	CompleteDirect(ctx context.Context, checkoutID string) (*commerce.Order, error)
	CompleteStandard(ctx context.Context, checkoutID string) (*commerce.Order, error)
}

type paymentGateway interface {
	CreateIntent(ctx context.Context, params payment.IntentParams) (*payment.Intent, error)
}

type widgetSigner interface {
	Sign(intent *payment.Intent, returnURL string) (string, error)
}

type promoAttacher interface {
	AttachToRemoteCheckout(ctx context.Context, code, checkoutID string) (int64, error)
}

// ConfirmationMailer sends the post-finalize confirmation email. Advisory:
// failures are logged, never surfaced.
type ConfirmationMailer interface {
	SendOrderConfirmation(ctx context.Context, to string, order *commerce.Order, amount int64) error
}

type noopConfirmationMailer struct{}

func (noopConfirmationMailer) SendOrderConfirmation(context.Context, string, *commerce.Order, int64) error {
	return nil
}

// CheckoutConfig carries the storefront-level knobs of the saga.
type CheckoutConfig struct {
	Currency           string
	ReturnURL          string
	PlaceholderAddress commerce.Address
	GraceWindow        time.Duration
}

func NewCheckoutService(backend checkoutBackend, gateway paymentGateway, signer widgetSigner, promos promoAttacher, provider storage.Provider, mailer ConfirmationMailer, cfg CheckoutConfig, logger *slog.Logger) *CheckoutService {
	if mailer == nil {
		mailer = noopConfirmationMailer{}
	}
	if cfg.Currency == "" {
		cfg.Currency = "rub"
	}

	return &CheckoutService{
		backend:     backend,
		gateway:     gateway,
		signer:      signer,
		promos:      promos,
		provider:    provider,
		mailer:      mailer,
		currency:    cfg.Currency,
		returnURL:   cfg.ReturnURL,
		placeholder: cfg.PlaceholderAddress,
		graceWindow: cfg.GraceWindow,
		logger:      logger,
	}
}

func (s *CheckoutService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// Customer identifies the purchaser for a saga run. Email is optional for
// guest checkouts.
type Customer struct {
	ClientID string
	Email    string
}

// Handoff is what the shopper's browser needs to open the hosted payment
// widget. Returning it is the AwaitingGatewayResult boundary: the saga
// resumes only from a gateway callback or the recovery flow.
type Handoff struct {
	CheckoutID   string `json:"checkout_id"`
	PaymentID    string `json:"payment_id"`
	ClientSecret string `json:"client_secret"`
	WidgetToken  string `json:"widget_token,omitempty"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// Begin runs the saga up to the gateway hand-off.
func (s *CheckoutService) Begin(ctx context.Context, cartStore *cart.Store, customer Customer) (*Handoff, error) {
	span := sentry.StartSpan(
		ctx,
		"service.checkout.begin",
		sentry.WithOpName("service.checkout"),
		sentry.WithDescription("Begin"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	meter.Count("checkout.begin.received", 1)
	recordFailure := func(reason string) {
		meter.Count("checkout.begin.failed", 1, sentry.WithAttributes(
			attribute.String("reason", reason),
		))
	}

	run := newFlow()
	if err := run.to(StateCreatingCheckout); err != nil {
		return nil, err
	}

	if cartStore == nil || cartStore.IsEmpty() {
		recordFailure("empty_cart")
		return nil, run.fail(&UserError{Message: "Your cart is empty."})
	}

	lines, err := s.resolveCartLines(ctx, cartStore)
	if err != nil {
		recordFailure("variant_resolution_failed")
		return nil, run.fail(err)
	}

	checkout, err := s.createRemoteCheckout(ctx, lines, customer.Email)
	if err != nil {
		recordFailure("checkout_create_failed")
		return nil, run.fail(err)
	}
	logger.Info("remote checkout created", "checkout_id", checkout.ID, "remote_total", checkout.TotalAmount)

	if err := run.to(StateSyncingPromo); err != nil {
		return nil, err
	}
	amount := s.syncPromo(ctx, cartStore, checkout)

	if err := run.to(StateCreatingPayment); err != nil {
		return nil, err
	}

	// The hand-off record goes down before the gateway is ever invoked;
	// it is the durable anchor a page navigation recovers from.
	if err := savePendingCheckout(ctx, s.provider, customer.ClientID, PendingCheckout{
		CheckoutID: checkout.ID,
		Amount:     amount,
	}); err != nil {
		recordFailure("pending_record_failed")
		return nil, run.fail(fmt.Errorf("failed to persist checkout hand-off record: %w", err))
	}

	intent, err := s.gateway.CreateIntent(ctx, payment.IntentParams{
		Amount:      amount,
		Currency:    s.currency,
		Description: fmt.Sprintf("Vspomni order, %d item(s)", cartStore.TotalItems()),
		ReturnURL:   s.returnURL,
		Metadata: map[string]string{
			"client_id":   customer.ClientID,
			"checkout_id": checkout.ID,
		},
	})
	if err != nil {
		recordFailure("payment_intent_failed")
		// The gateway was never engaged, so no payment can complete
		// asynchronously; the record has nothing to recover.
		if clearErr := clearPendingCheckout(ctx, s.provider, customer.ClientID); clearErr != nil {
			logger.Warn("failed to clear hand-off record after intent failure", "error", clearErr)
		}
		if commerce.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
			return nil, run.fail(userErrorf(err, "The payment service is taking too long to respond. Please try again in a moment."))
		}
		return nil, run.fail(userErrorf(err, "We couldn't start the payment. Please try again."))
	}

	if err := savePendingCheckout(ctx, s.provider, customer.ClientID, PendingCheckout{
		CheckoutID: checkout.ID,
		PaymentID:  intent.ID,
		Amount:     intent.Amount,
	}); err != nil {
		recordFailure("pending_update_failed")
		return nil, run.fail(fmt.Errorf("failed to update checkout hand-off record: %w", err))
	}

	handoff := &Handoff{
		CheckoutID:   checkout.ID,
		PaymentID:    intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     s.currency,
	}
	if s.signer != nil {
		token, signErr := s.signer.Sign(intent, s.returnURL)
		switch {
		case signErr == nil:
			handoff.WidgetToken = token
		case errors.Is(signErr, payment.ErrNoSigningKey):
			// Widget tokens are optional; deployments without a key skip them.
		default:
			logger.Warn("failed to sign widget token", "error", signErr, "payment_id", intent.ID)
		}
	}

	if err := run.to(StateAwaitingGateway); err != nil {
		return nil, err
	}
	meter.Count("checkout.handoff.created", 1)
	logger.Info("payment hand-off created", "checkout_id", checkout.ID, "payment_id", intent.ID, "amount", intent.Amount)

	return handoff, nil
}

func (s *CheckoutService) resolveCartLines(ctx context.Context, cartStore *cart.Store) ([]commerce.CheckoutLine, error) {
	logger := s.loggerFromContext(ctx)

	cartLines := cartStore.Lines()
	lines := make([]commerce.CheckoutLine, 0, len(cartLines))
	for _, line := range cartLines {
		variantID, err := resolveLineVariant(ctx, s.backend, line)
		if err != nil {
			return nil, err
		}
		if line.VariantID == "" {
			if cacheErr := cartStore.SetLineVariant(ctx, line.LineID, variantID); cacheErr != nil {
				logger.Warn("failed to cache resolved variant on cart line", "line_id", line.LineID, "error", cacheErr)
			}
		}
		lines = append(lines, commerce.CheckoutLine{VariantID: variantID, Quantity: line.Quantity})
	}
	return lines, nil
}

// createRemoteCheckout tries the stock-bypassing direct endpoint first and
// falls back to the standard mutation only when the direct path is
// fundamentally unavailable. Transient direct failures never fall back: the
// standard path can fail on stock, and stock-unsafe fallback is reserved for
// non-transient breakage.
func (s *CheckoutService) createRemoteCheckout(ctx context.Context, lines []commerce.CheckoutLine, email string) (*commerce.Checkout, error) {
	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)

	checkout, directErr := s.backend.CreateCheckoutDirect(ctx, lines, email)
	if directErr == nil {
		meter.Count("checkout.create.succeeded", 1, sentry.WithAttributes(
			attribute.String("path", "direct"),
		))
		return checkout, nil
	}

	if commerce.IsTransient(directErr) {
		meter.Count("checkout.create.failed", 1, sentry.WithAttributes(
			attribute.String("path", "direct"),
			attribute.String("reason", "transient"),
		))
		return nil, userErrorf(directErr, "The shop is taking too long to respond. Please try again in a moment.")
	}

	logger.Warn("direct checkout creation unavailable, falling back to standard path", "error", directErr)
	checkout, standardErr := s.backend.CreateCheckoutStandard(ctx, lines, email)
	if standardErr == nil {
		meter.Count("checkout.create.succeeded", 1, sentry.WithAttributes(
			attribute.String("path", "standard"),
		))
		return checkout, nil
	}

	meter.Count("checkout.create.failed", 1, sentry.WithAttributes(
		attribute.String("path", "standard"),
	))
	if commerce.IsStock(standardErr) {
		return nil, stockUserError(standardErr)
	}
	if commerce.IsTransient(standardErr) {
		return nil, userErrorf(standardErr, "The shop is taking too long to respond. Please try again in a moment.")
	}
	return nil, userErrorf(standardErr, "We couldn't start your checkout. Please try again.")
}

// syncPromo re-applies the active promo on the remote checkout and returns
// the amount to charge: the remote authoritative total when available, else
// the locally computed one. Discount sync is best-effort; payment is never
// blocked by it.
func (s *CheckoutService) syncPromo(ctx context.Context, cartStore *cart.Store, checkout *commerce.Checkout) int64 {
	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)

	remoteTotal := checkout.TotalAmount
	if promo := cartStore.Promo(); promo != nil && s.promos != nil {
		total, err := s.promos.AttachToRemoteCheckout(ctx, promo.Code, checkout.ID)
		if err != nil {
			meter.Count("checkout.promo_sync.failed", 1)
			logger.Warn("promo sync failed, proceeding without discount", "checkout_id", checkout.ID, "code", promo.Code, "error", err)
		} else {
			meter.Count("checkout.promo_sync.succeeded", 1)
			remoteTotal = total
		}
	}

	if remoteTotal > 0 {
		return remoteTotal
	}
	return cartStore.TotalPrice()
}

// GatewayResult is the gateway's callback payload, delivered by webhook.
type GatewayResult struct {
	ClientID       string
	CheckoutID     string
	PaymentID      string
	Amount         int64
	Succeeded      bool
	FailureMessage string
}

// HandleGatewayResult consumes a gateway callback. Failures leave the
// hand-off record in place: the shopper can retry inside the widget and the
// payment may still succeed asynchronously.
func (s *CheckoutService) HandleGatewayResult(ctx context.Context, cartStore *cart.Store, result GatewayResult) (*commerce.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.checkout.gateway_result",
		sentry.WithOpName("service.checkout"),
		sentry.WithDescription("HandleGatewayResult"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)

	if !result.Succeeded {
		meter.Count("checkout.gateway.failed", 1)
		logger.Warn("payment gateway reported failure", "client_id", result.ClientID, "payment_id", result.PaymentID, "message", result.FailureMessage)
		return nil, nil
	}
	meter.Count("checkout.gateway.succeeded", 1)

	input := FinalizeInput{
		ClientID:   result.ClientID,
		CheckoutID: result.CheckoutID,
		PaymentID:  result.PaymentID,
		Amount:     result.Amount,
	}

	// Persisted values win over webhook metadata when both exist.
	if record, err := LoadPendingCheckout(ctx, s.provider, result.ClientID); err != nil {
		logger.Warn("failed to read hand-off record for gateway result", "client_id", result.ClientID, "error", err)
	} else if record != nil {
		input.CheckoutID = record.CheckoutID
		if record.PaymentID != "" {
			input.PaymentID = record.PaymentID
		}
		if record.Amount > 0 {
			input.Amount = record.Amount
		}
	}

	if input.CheckoutID == "" {
		logger.Warn("gateway success with no pending checkout to finalize", "client_id", result.ClientID, "payment_id", result.PaymentID)
		return nil, nil
	}

	return s.Finalize(ctx, cartStore, input)
}

// FinalizeInput identifies the paid checkout to mark complete. It is built
// either from the in-process gateway callback or from the persisted
// PendingCheckout record on the confirmation page.
type FinalizeInput struct {
	ClientID   string
	CheckoutID string
	PaymentID  string
	Amount     int64
	Email      string
}

// Finalize records the charge, attaches purchaser metadata and completes the
// order. Payment has already succeeded when this runs, so its advisory steps
// never abort and a stock failure on the last-resort standard completion is
// the only surfaced completion error.
func (s *CheckoutService) Finalize(ctx context.Context, cartStore *cart.Store, input FinalizeInput) (*commerce.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.checkout.finalize",
		sentry.WithOpName("service.checkout"),
		sentry.WithDescription("Finalize"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	meter.Count("checkout.finalize.received", 1)

	run := flowAt(StateAwaitingGateway)
	if err := run.to(StateFinalizing); err != nil {
		return nil, err
	}

	amount := input.Amount
	if remote, err := s.backend.GetCheckout(ctx, input.CheckoutID); err != nil {
		logger.Warn("failed to fetch remote checkout before finalize", "checkout_id", input.CheckoutID, "error", err)
	} else if remote.TotalAmount > 0 && remote.TotalAmount != amount {
		logger.Warn("amount discrepancy at finalize, preferring remote authoritative total",
			"checkout_id", input.CheckoutID,
			"local_amount", amount,
			"remote_amount", remote.TotalAmount)
		amount = remote.TotalAmount
	}

	s.runAdvisorySteps(ctx, input, amount)

	// The backend auto-finalizes on full payment; give it a moment before
	// forcing completion.
	if s.graceWindow > 0 {
		select {
		case <-time.After(s.graceWindow):
		case <-ctx.Done():
			return nil, run.fail(ctx.Err())
		}
	}

	order, err := s.completeOrder(ctx, input)
	if err != nil {
		meter.Count("checkout.finalize.failed", 1)
		// The hand-off record stays put so the confirmation page can retry.
		return nil, run.fail(err)
	}

	if err := run.to(StateCompleted); err != nil {
		return nil, err
	}
	meter.Count("checkout.finalize.succeeded", 1)
	logger.Info("order finalized", "checkout_id", input.CheckoutID, "order_id", order.ID, "order_number", order.Number, "amount", amount)

	if err := clearPendingCheckout(ctx, s.provider, input.ClientID); err != nil {
		logger.Warn("failed to clear hand-off record after completion", "client_id", input.ClientID, "error", err)
	}
	if cartStore != nil {
		if err := cartStore.Clear(ctx); err != nil {
			logger.Warn("failed to clear cart after completion", "client_id", input.ClientID, "error", err)
		}
	}

	if input.Email != "" {
		if mailErr := s.mailer.SendOrderConfirmation(ctx, input.Email, order, amount); mailErr != nil {
			logger.Warn("failed to send order confirmation email", "order_id", order.ID, "error", mailErr)
		}
	}

	return order, nil
}

type advisoryStep struct {
	name string
	run  func(ctx context.Context) error
}

// runAdvisorySteps executes the best-effort metadata steps. Each failure is
// logged and counted; none short-circuits the saga.
func (s *CheckoutService) runAdvisorySteps(ctx context.Context, input FinalizeInput, amount int64) {
	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)

	steps := []advisoryStep{
		{
			name: "record_transaction",
			run: func(ctx context.Context) error {
				return s.backend.RecordTransaction(ctx, input.CheckoutID, input.PaymentID, amount)
			},
		},
		{
			name: "attach_email",
			run: func(ctx context.Context) error {
				if input.Email == "" {
					return nil
				}
				return s.backend.AttachEmail(ctx, input.CheckoutID, input.Email)
			},
		},
		{
			name: "set_billing_address",
			run: func(ctx context.Context) error {
				return s.attachBillingAddress(ctx, input)
			},
		},
	}

	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			meter.Count("checkout.advisory.failed", 1, sentry.WithAttributes(
				attribute.String("step", step.name),
			))
			logger.Warn("advisory finalize step failed", "step", step.name, "checkout_id", input.CheckoutID, "error", err)
		}
	}
}

// attachBillingAddress prefers the purchaser's default saved address and
// degrades to the configured placeholder; the backend needs some address to
// finalize.
func (s *CheckoutService) attachBillingAddress(ctx context.Context, input FinalizeInput) error {
	address := s.placeholder
	if address.IsZero() {
		address = commerce.Address{FirstName: "Guest", City: "-", Street: "-", PostalCode: "000000", Country: "RU"}
	}

	if input.Email != "" {
		saved, err := s.backend.GetDefaultAddress(ctx, input.Email)
		if err != nil {
			s.loggerFromContext(ctx).Warn("failed to fetch default address, using placeholder", "error", err)
		} else if saved != nil && !saved.IsZero() {
			address = *saved
		}
	}

	return s.backend.SetBillingAddress(ctx, input.CheckoutID, address)
}

// completeOrder calls the stock-bypassing completion first; the standard
// call is the fallback for non-stock failures. Payment already succeeded, so
// stock is deliberately not allowed to block the primary path.
func (s *CheckoutService) completeOrder(ctx context.Context, input FinalizeInput) (*commerce.Order, error) {
	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)

	order, directErr := s.backend.CompleteDirect(ctx, input.CheckoutID)
	if directErr == nil {
		meter.Count("checkout.complete.succeeded", 1, sentry.WithAttributes(
			attribute.String("path", "direct"),
		))
		return order, nil
	}
	if errors.Is(directErr, commerce.ErrCheckoutCompleted) {
		return &commerce.Order{Status: "COMPLETED"}, nil
	}
	if commerce.IsStock(directErr) {
		meter.Count("checkout.complete.failed", 1, sentry.WithAttributes(
			attribute.String("path", "direct"),
			attribute.String("reason", "stock"),
		))
		return nil, stockUserError(directErr)
	}

	logger.Warn("direct completion unavailable, falling back to standard path", "checkout_id", input.CheckoutID, "error", directErr)
	order, standardErr := s.backend.CompleteStandard(ctx, input.CheckoutID)
	if standardErr == nil {
		meter.Count("checkout.complete.succeeded", 1, sentry.WithAttributes(
			attribute.String("path", "standard"),
		))
		return order, nil
	}
	if errors.Is(standardErr, commerce.ErrCheckoutCompleted) {
		return &commerce.Order{Status: "COMPLETED"}, nil
	}

	meter.Count("checkout.complete.failed", 1, sentry.WithAttributes(
		attribute.String("path", "standard"),
	))
	if commerce.IsStock(standardErr) {
		return nil, stockUserError(standardErr)
	}
	return nil, userErrorf(standardErr, "Your payment was received but we couldn't confirm the order yet. Please contact support with your payment reference.")
}

// stockUserError translates a stock fault into an actionable message naming
// the offending product, never the raw backend code.
func stockUserError(err error) *UserError {
	var fault *commerce.Fault
	if errors.As(err, &fault) && fault.ProductName != "" {
		if fault.Size != "" {
			return userErrorf(err, "%q (%s) is out of stock. Remove it from your cart to continue.", fault.ProductName, fault.Size)
		}
		return userErrorf(err, "%q is out of stock. Remove it from your cart to continue.", fault.ProductName)
	}
	return userErrorf(err, "An item in your cart is out of stock. Remove it to continue.")
}
