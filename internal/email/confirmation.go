// Package email provides email templates.
package email

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/Highrates/vspomni-sub000/internal/commerce"
)

// ConfirmationInfo carries the fields the order confirmation templates need.
type ConfirmationInfo struct {
	OrderNumber string
	Total       string
	ShopName    string
	ShopURL     string
}

const confirmationSubject = "Order Confirmed - %s - %s"

const confirmationText = `Thank you for your order!

Order {{.OrderNumber}} is confirmed and being prepared.
Total: {{.Total}}

We'll be in touch when it ships.

{{.ShopName}}
{{.ShopURL}}
`

const confirmationHTML = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1a1a1a; max-width: 540px; margin: 0 auto; padding: 24px;">
  <h2 style="font-weight: 500;">Thank you for your order!</h2>
  <p>Order <strong>{{.OrderNumber}}</strong> is confirmed and being prepared.</p>
  <p>Total: <strong>{{.Total}}</strong></p>
  <p>We'll be in touch when it ships.</p>
  <p style="color: #777; font-size: 13px;"><a href="{{.ShopURL}}" style="color: #777;">{{.ShopName}}</a></p>
</body>
</html>
`

// ConfirmationSender renders and sends the order confirmation email through
// a Provider. It satisfies the checkout service's mailer interface.
type ConfirmationSender struct {
	provider Provider
	shopName string
	shopURL  string
	currency string
	textTmpl *template.Template
	htmlTmpl *template.Template
}

func NewConfirmationSender(provider Provider, shopName, shopURL, currency string) (*ConfirmationSender, error) {
	textTmpl, err := template.New("confirmation_text").Parse(confirmationText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse text template: %w", err)
	}
	htmlTmpl, err := template.New("confirmation_html").Parse(confirmationHTML)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML template: %w", err)
	}

	return &ConfirmationSender{
		provider: provider,
		shopName: shopName,
		shopURL:  shopURL,
		currency: currency,
		textTmpl: textTmpl,
		htmlTmpl: htmlTmpl,
	}, nil
}

func (s *ConfirmationSender) SendOrderConfirmation(ctx context.Context, to string, order *commerce.Order, amount int64) error {
	if to == "" {
		return fmt.Errorf("recipient is required")
	}

	number := order.Number
	if number == "" {
		number = order.ID
	}
	info := ConfirmationInfo{
		OrderNumber: number,
		Total:       FormatAmount(amount, s.currency),
		ShopName:    s.shopName,
		ShopURL:     s.shopURL,
	}

	var textBuf, htmlBuf bytes.Buffer
	if err := s.textTmpl.Execute(&textBuf, info); err != nil {
		return fmt.Errorf("failed to render text template: %w", err)
	}
	if err := s.htmlTmpl.Execute(&htmlBuf, info); err != nil {
		return fmt.Errorf("failed to render HTML template: %w", err)
	}

	return s.provider.SendEmail(ctx, &Email{
		To:      to,
		Subject: fmt.Sprintf(confirmationSubject, info.OrderNumber, s.shopName),
		Text:    textBuf.String(),
		HTML:    htmlBuf.String(),
	})
}

// FormatAmount renders an integer currency amount for human eyes, e.g.
// "12 990 RUB". Amounts are whole currency units throughout the storefront.
func FormatAmount(amount int64, currency string) string {
	digits := fmt.Sprintf("%d", amount)
	if amount < 0 {
		digits = digits[1:]
	}

	var grouped bytes.Buffer
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			grouped.WriteByte(' ')
		}
		grouped.WriteRune(r)
	}

	out := grouped.String()
	if amount < 0 {
		out = "-" + out
	}
	if currency == "" {
		return out
	}
	return fmt.Sprintf("%s %s", out, strings.ToUpper(currency))
}
