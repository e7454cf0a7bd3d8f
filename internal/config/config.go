package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	CommerceAPIURL    string `env:"COMMERCE_API_URL,required" validate:"required,url"`
	CommerceDirectURL string `env:"COMMERCE_DIRECT_URL" validate:"omitempty,url"`
	CommerceAPIToken  string `env:"COMMERCE_API_TOKEN"`

	PaymentSecretKey        string `env:"PAYMENT_SECRET_KEY,required" validate:"required"`
	PaymentWebhookSecret    string `env:"PAYMENT_WEBHOOK_SECRET,required" validate:"required"`
	PaymentWidgetSigningKey string `env:"PAYMENT_WIDGET_SIGNING_KEY" validate:"omitempty,min=32"`

	BaseURL  string `env:"BASE_URL" validate:"omitempty,url"`
	Currency string `env:"CURRENCY" envDefault:"rub" validate:"required,len=3"`

	StorageProvider       string `env:"STORAGE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	SessionStoreProvider  string `env:"SESSION_STORE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	RedisConnectionString string `env:"REDIS_CONNECTION_STRING" envDefault:"redis://localhost:6379/0" validate:"required_if=StorageProvider redis,required_if=SessionStoreProvider redis"`

	EmailProvider string `env:"EMAIL_PROVIDER" envDefault:"noop" validate:"omitempty,oneof=noop resend"`
	ResendAPIKey  string `env:"RESEND_API_KEY"`
	EmailFrom     string `env:"EMAIL_FROM" validate:"omitempty,email"`

	SentryDSN string `env:"SENTRY_DSN"`

	StorefrontFile string `env:"STOREFRONT_FILE"`

	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`
	Port      string     `env:"PORT" envDefault:"8080"`

	Storefront Storefront `env:"-"`
}

// Storefront holds shop-level settings that are awkward as flat environment
// variables: display identity and the billing address attached to orders
// when the shopper has no saved one.
type Storefront struct {
	ShopName           string             `yaml:"shop_name"`
	ShopURL            string             `yaml:"shop_url"`
	GraceWindow        Duration           `yaml:"grace_window"`
	PlaceholderAddress PlaceholderAddress `yaml:"placeholder_address"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "2s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type PlaceholderAddress struct {
	FirstName  string `yaml:"first_name"`
	LastName   string `yaml:"last_name"`
	Street     string `yaml:"street"`
	City       string `yaml:"city"`
	PostalCode string `yaml:"postal_code"`
	Country    string `yaml:"country"`
	Phone      string `yaml:"phone"`
}

var configValidator = validator.New()

func Load() (*Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.StorefrontFile != "" {
		storefront, err := loadStorefront(cfg.StorefrontFile)
		if err != nil {
			return nil, err
		}
		cfg.Storefront = *storefront
	}
	if cfg.Storefront.ShopName == "" {
		cfg.Storefront.ShopName = "Vspomni"
	}
	if cfg.Storefront.GraceWindow == 0 {
		cfg.Storefront.GraceWindow = Duration(2 * time.Second)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadStorefront(path string) (*Storefront, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read storefront file: %w", err)
	}

	var storefront Storefront
	if err := yaml.Unmarshal(raw, &storefront); err != nil {
		return nil, fmt.Errorf("failed to parse storefront file: %w", err)
	}

	return &storefront, nil
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	if c.EmailProvider == "resend" {
		if strings.TrimSpace(c.ResendAPIKey) == "" || strings.TrimSpace(c.EmailFrom) == "" {
			return fmt.Errorf("RESEND_API_KEY and EMAIL_FROM are required when EMAIL_PROVIDER is resend")
		}
	}

	baseURL := strings.TrimSpace(c.BaseURL)
	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil || parsed.Hostname() == "" {
			return fmt.Errorf("BASE_URL must be a valid absolute URL")
		}
		if !isLocalHost(parsed.Hostname()) && !strings.EqualFold(parsed.Scheme, "https") {
			return fmt.Errorf("BASE_URL must use https outside local development")
		}
	}

	return nil
}

// ReturnURL is where the payment widget sends the shopper after the
// gateway finishes; the confirmation page resumes any interrupted
// finalization from there.
func (c *Config) ReturnURL() string {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return ""
	}
	return base + "/checkout/confirmation"
}

func isLocalHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
