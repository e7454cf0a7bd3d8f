package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/Highrates/vspomni-sub000/internal/cart"
	"github.com/Highrates/vspomni-sub000/internal/commerce"
	"github.com/Highrates/vspomni-sub000/internal/logging"
	"github.com/Highrates/vspomni-sub000/internal/observability"
)

// PromoService validates promo codes against the cart and re-applies them on
// the authoritative remote checkout.
type PromoService struct {
	backend voucherBackend
	logger  *slog.Logger
}

type voucherBackend interface {
	productLookup
	ValidateVoucher(ctx context.Context, code string, variantIDs []string) (*commerce.Voucher, error)
	AttachVoucher(ctx context.Context, checkoutID, code string) (*commerce.Checkout, error)
}

func NewPromoService(backend voucherBackend, logger *slog.Logger) *PromoService {
	return &PromoService{
		backend: backend,
		logger:  logger,
	}
}

func (s *PromoService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// Validate checks a promo code against the current cart contents and returns
// the normalized discount descriptor. It does not mutate the cart; the
// caller applies the descriptor.
func (s *PromoService) Validate(ctx context.Context, code string, lines []cart.Line) (*cart.Promo, error) {
	span := sentry.StartSpan(
		ctx,
		"service.promo.validate",
		sentry.WithOpName("service.promo"),
		sentry.WithDescription("Validate"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	meter := observability.MeterFromContext(ctx)
	meter.Count("promo.validate.received", 1)
	recordFailure := func(reason string) {
		meter.Count("promo.validate.failed", 1, sentry.WithAttributes(
			attribute.String("reason", reason),
		))
	}

	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		recordFailure("empty_code")
		return nil, &UserError{Message: "Enter a promo code."}
	}
	if len(lines) == 0 {
		recordFailure("empty_cart")
		return nil, &UserError{Message: "Add at least one item to your cart before applying a promo code."}
	}

	variantIDs := make([]string, 0, len(lines))
	for _, line := range lines {
		variantID, err := resolveLineVariant(ctx, s.backend, line)
		if err != nil {
			s.loggerFromContext(ctx).Warn("skipping unresolvable line during promo validation", "line_id", line.LineID, "error", err)
			continue
		}
		variantIDs = append(variantIDs, variantID)
	}
	if len(variantIDs) == 0 {
		recordFailure("no_resolvable_lines")
		return nil, &UserError{Message: "None of the items in your cart could be verified. Remove them and add them again."}
	}

	voucher, err := s.backend.ValidateVoucher(ctx, code, variantIDs)
	if err != nil {
		if errors.Is(err, commerce.ErrVoucherInvalid) {
			recordFailure("voucher_rejected")
			return nil, userErrorf(err, "Promo code %s is not valid for this cart.", code)
		}
		recordFailure("backend_error")
		return nil, fmt.Errorf("failed to validate promo code: %w", err)
	}

	meter.Count("promo.validate.succeeded", 1)
	return &cart.Promo{
		Code:    voucher.Code,
		Type:    voucher.Type,
		Percent: voucher.Percent,
		Amount:  voucher.Amount,
	}, nil
}

// AttachToRemoteCheckout re-applies the code on the remote checkout and
// returns its authoritative post-discount total, which is what funds the
// payment amount.
func (s *PromoService) AttachToRemoteCheckout(ctx context.Context, code, checkoutID string) (int64, error) {
	span := sentry.StartSpan(
		ctx,
		"service.promo.attach",
		sentry.WithOpName("service.promo"),
		sentry.WithDescription("AttachToRemoteCheckout"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	checkout, err := s.backend.AttachVoucher(ctx, checkoutID, code)
	if err != nil {
		observability.MeterFromContext(ctx).Count("promo.attach.failed", 1)
		return 0, fmt.Errorf("failed to attach promo code to checkout %s: %w", checkoutID, err)
	}

	observability.MeterFromContext(ctx).Count("promo.attach.succeeded", 1)
	return checkout.TotalAmount, nil
}
