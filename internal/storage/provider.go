package storage

// Package storage persists client-scoped storefront state: the cart
// snapshot, the applied promo code, the in-flight checkout hand-off record,
// and webhook idempotency markers.

import (
	"context"
	"fmt"
	"time"
)

// Provider is the injected persistence capability. Values are opaque strings
// (JSON where structured) under fixed key names per client.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type Config struct {
	Provider              string
	RedisConnectionString string
}

func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "memory", "":
		return NewMemoryProvider()
	case "redis":
		return NewRedisProvider(cfg.RedisConnectionString)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}

// CartLinesKey holds the JSON list of cart lines for a client.
func CartLinesKey(clientID string) string {
	return fmt.Sprintf("cart:lines:%s", clientID)
}

// CartPromoKey holds the JSON promo descriptor applied to a client's cart.
func CartPromoKey(clientID string) string {
	return fmt.Sprintf("cart:promo:%s", clientID)
}

// PendingCheckoutKey holds the remote checkout ID written before the payment
// gateway is invoked. It is the recovery anchor and is removed only once the
// order is confirmed finalized.
func PendingCheckoutKey(clientID string) string {
	return fmt.Sprintf("pending:checkout:%s", clientID)
}

// PendingPaymentKey holds the gateway payment ID for the in-flight checkout.
func PendingPaymentKey(clientID string) string {
	return fmt.Sprintf("pending:payment:%s", clientID)
}

// PendingAmountKey holds the amount the in-flight payment was created for.
func PendingAmountKey(clientID string) string {
	return fmt.Sprintf("pending:amount:%s", clientID)
}

func WebhookKey(source, eventID string) string {
	return fmt.Sprintf("webhook:%s:%s", source, eventID)
}
