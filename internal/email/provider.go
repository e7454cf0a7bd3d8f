// Package email provides email provider interface.
package email

import (
	"context"
	"fmt"
)

type Provider interface {
	SendEmail(ctx context.Context, email *Email) error
	ValidateAPIKey(ctx context.Context) error
}

type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

type Config struct {
	Provider string
	APIKey   string
	From     string
}

func NewProvider(config Config) (Provider, error) {
	switch config.Provider {
	case "resend":
		return NewResendProvider(config.APIKey, config.From), nil
	case "", "noop":
		return NoopProvider{}, nil
	default:
		return nil, fmt.Errorf("EMAIL_PROVIDER must be either 'resend' or 'noop'")
	}
}

// NoopProvider discards every email. It backs storefronts that have no
// email credentials configured.
type NoopProvider struct{}

func (NoopProvider) SendEmail(context.Context, *Email) error { return nil }
func (NoopProvider) ValidateAPIKey(context.Context) error    { return nil }
