package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Highrates/vspomni-sub000/internal/storage"
)

// pendingTTL bounds how long an abandoned hand-off record lingers. Within it
// the record is removed only on confirmed completion.
const pendingTTL = 7 * 24 * time.Hour

// PendingCheckout is the recovery record written immediately before the
// payment gateway is invoked. It is the only state that survives a full page
// navigation, so its fields live under independent storage keys.
type PendingCheckout struct {
	CheckoutID string
	PaymentID  string
	Amount     int64
}

// LoadPendingCheckout reads the persisted hand-off record. A missing record
// yields (nil, nil).
func LoadPendingCheckout(ctx context.Context, provider storage.Provider, clientID string) (*PendingCheckout, error) {
	checkoutID, err := provider.Get(ctx, storage.PendingCheckoutKey(clientID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pending checkout: %w", err)
	}
	if checkoutID == "" {
		return nil, nil
	}

	record := &PendingCheckout{CheckoutID: checkoutID}

	if paymentID, err := provider.Get(ctx, storage.PendingPaymentKey(clientID)); err == nil {
		record.PaymentID = paymentID
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to read pending payment: %w", err)
	}

	if rawAmount, err := provider.Get(ctx, storage.PendingAmountKey(clientID)); err == nil {
		amount, parseErr := strconv.ParseInt(rawAmount, 10, 64)
		if parseErr != nil {
			return nil, fmt.Errorf("corrupt pending amount %q: %w", rawAmount, parseErr)
		}
		record.Amount = amount
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to read pending amount: %w", err)
	}

	return record, nil
}

func savePendingCheckout(ctx context.Context, provider storage.Provider, clientID string, record PendingCheckout) error {
	if err := provider.Set(ctx, storage.PendingCheckoutKey(clientID), record.CheckoutID, pendingTTL); err != nil {
		return fmt.Errorf("failed to persist pending checkout: %w", err)
	}
	if err := provider.Set(ctx, storage.PendingPaymentKey(clientID), record.PaymentID, pendingTTL); err != nil {
		return fmt.Errorf("failed to persist pending payment: %w", err)
	}
	if err := provider.Set(ctx, storage.PendingAmountKey(clientID), strconv.FormatInt(record.Amount, 10), pendingTTL); err != nil {
		return fmt.Errorf("failed to persist pending amount: %w", err)
	}
	return nil
}

// clearPendingCheckout removes all record keys together. Called only once
// the order is confirmed finalized.
func clearPendingCheckout(ctx context.Context, provider storage.Provider, clientID string) error {
	var clearErr error
	for _, key := range []string{
		storage.PendingCheckoutKey(clientID),
		storage.PendingPaymentKey(clientID),
		storage.PendingAmountKey(clientID),
	} {
		if err := provider.Delete(ctx, key); err != nil {
			clearErr = errors.Join(clearErr, err)
		}
	}
	return clearErr
}
