// Package payment wraps the hosted payment gateway: payment intent
// creation, signed widget session tokens, and webhook validation.
package payment

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v84"
)

// Intent is the local view of a gateway payment intent.
type Intent struct {
	ID           string
	ClientSecret string
	Amount       int64
	Currency     string
}

// IntentParams describes the charge handed to the gateway. Metadata travels
// back on webhook events and is how gateway callbacks are tied to a client.
type IntentParams struct {
	Amount      int64
	Currency    string
	Description string
	ReturnURL   string
	Metadata    map[string]string
}

// Client is the gateway API client.
type Client struct {
	client *stripe.Client
}

func NewClient(secretKey string) *Client {
	return &Client{
		client: stripe.NewClient(secretKey),
	}
}

// CreateIntent requests a payment intent for the given amount. The hosted
// widget collects the actual payment against the returned client secret.
func (c *Client) CreateIntent(ctx context.Context, params IntentParams) (*Intent, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if params.Amount <= 0 {
		return nil, fmt.Errorf("payment amount must be positive, got %d", params.Amount)
	}
	if params.Currency == "" {
		return nil, fmt.Errorf("currency is required")
	}

	metadata := make(map[string]string, len(params.Metadata)+1)
	for k, v := range params.Metadata {
		metadata[k] = v
	}
	if params.ReturnURL != "" {
		metadata["return_url"] = params.ReturnURL
	}

	intent, err := c.client.V1PaymentIntents.Create(ctx, &stripe.PaymentIntentCreateParams{
		Amount:      stripe.Int64(params.Amount),
		Currency:    stripe.String(params.Currency),
		Description: stripe.String(params.Description),
		Metadata:    metadata,
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	return &Intent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     string(intent.Currency),
	}, nil
}
