package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// widgetTokenTTL bounds how long a widget hand-off stays valid.
const widgetTokenTTL = 30 * time.Minute

// ErrNoSigningKey means widget tokens are disabled for this deployment.
var ErrNoSigningKey = errors.New("widget signing key not configured")

// WidgetClaims are the signed claims the hosted widget is initialized with.
type WidgetClaims struct {
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	ReturnURL string `json:"return_url"`
	jwt.RegisteredClaims
}

// TokenSigner issues and verifies widget session tokens.
type TokenSigner struct {
	key []byte
}

func NewTokenSigner(signingKey string) (*TokenSigner, error) {
	if len(signingKey) < 32 {
		return nil, fmt.Errorf("widget signing key must be at least 32 bytes")
	}
	return &TokenSigner{key: []byte(signingKey)}, nil
}

// Sign issues a widget session token for the given intent.
func (s *TokenSigner) Sign(intent *Intent, returnURL string) (string, error) {
	if s == nil {
		return "", ErrNoSigningKey
	}
	if intent == nil || intent.ID == "" {
		return "", fmt.Errorf("payment intent is required")
	}

	now := time.Now()
	claims := WidgetClaims{
		PaymentID: intent.ID,
		Amount:    intent.Amount,
		Currency:  intent.Currency,
		ReturnURL: returnURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   intent.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(widgetTokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign widget token: %w", err)
	}
	return signed, nil
}

// Verify parses a widget session token and returns its claims.
func (s *TokenSigner) Verify(tokenString string) (*WidgetClaims, error) {
	var claims WidgetClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid widget token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid widget token")
	}
	return &claims, nil
}
