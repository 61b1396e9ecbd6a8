package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"golang.org/x/text/currency"
)

// Config is the process configuration, read from the environment.
type Config struct {
	AppPort string

	DatabaseDriver string
	DatabaseDSN    string

	RabbitMQURL      string
	RabbitMQExchange string

	RedisAddr     string
	StatsCacheTTL time.Duration

	PaymentGatewayURL     string
	PaymentGatewayKey     string
	PaymentGatewayTimeout time.Duration

	Currency           string
	TaxRate            decimal.Decimal
	DefaultDeliveryFee decimal.Decimal
	PriceTolerance     decimal.Decimal

	JWTSecret           string
	RefundRetryInterval time.Duration
	// RefundLease is how long a claimed refund may stay unsettled before the
	// retry job takes it over. It must outlast a gateway call.
	RefundLease time.Duration

	LogLevel  string
	LogFormat string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", ":8080")
	v.SetDefault("DATABASE_DRIVER", "sqlite")
	v.SetDefault("DATABASE_DSN", "file:orders.db?cache=shared")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("RABBITMQ_EXCHANGE", "order_events")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("STATS_CACHE_TTL", "5m")
	v.SetDefault("PAYMENT_GATEWAY_URL", "")
	v.SetDefault("PAYMENT_GATEWAY_KEY", "")
	v.SetDefault("PAYMENT_GATEWAY_TIMEOUT", "10s")
	v.SetDefault("CURRENCY", "USD")
	v.SetDefault("TAX_RATE", "0.10")
	v.SetDefault("DEFAULT_DELIVERY_FEE", "2.99")
	v.SetDefault("PRICE_TOLERANCE", "1.00")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("REFUND_RETRY_INTERVAL", "1m")
	v.SetDefault("REFUND_LEASE", "5m")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		AppPort:               v.GetString("APP_PORT"),
		DatabaseDriver:        strings.ToLower(v.GetString("DATABASE_DRIVER")),
		DatabaseDSN:           v.GetString("DATABASE_DSN"),
		RabbitMQURL:           v.GetString("RABBITMQ_URL"),
		RabbitMQExchange:      v.GetString("RABBITMQ_EXCHANGE"),
		RedisAddr:             v.GetString("REDIS_ADDR"),
		StatsCacheTTL:         v.GetDuration("STATS_CACHE_TTL"),
		PaymentGatewayURL:     v.GetString("PAYMENT_GATEWAY_URL"),
		PaymentGatewayKey:     v.GetString("PAYMENT_GATEWAY_KEY"),
		PaymentGatewayTimeout: v.GetDuration("PAYMENT_GATEWAY_TIMEOUT"),
		JWTSecret:             v.GetString("JWT_SECRET"),
		RefundRetryInterval:   v.GetDuration("REFUND_RETRY_INTERVAL"),
		RefundLease:           v.GetDuration("REFUND_LEASE"),
		LogLevel:              v.GetString("LOG_LEVEL"),
		LogFormat:             v.GetString("LOG_FORMAT"),
	}

	unit, err := currency.ParseISO(v.GetString("CURRENCY"))
	if err != nil {
		return nil, fmt.Errorf("invalid CURRENCY: %w", err)
	}
	cfg.Currency = unit.String()

	for key, dst := range map[string]*decimal.Decimal{
		"TAX_RATE":             &cfg.TaxRate,
		"DEFAULT_DELIVERY_FEE": &cfg.DefaultDeliveryFee,
		"PRICE_TOLERANCE":      &cfg.PriceTolerance,
	} {
		d, err := decimal.NewFromString(v.GetString(key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		if d.IsNegative() {
			return nil, fmt.Errorf("invalid %s: must not be negative", key)
		}
		*dst = d
	}

	if cfg.DatabaseDriver != "postgres" && cfg.DatabaseDriver != "sqlite" {
		return nil, fmt.Errorf("invalid DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.RefundRetryInterval <= 0 {
		return nil, fmt.Errorf("invalid REFUND_RETRY_INTERVAL %s", cfg.RefundRetryInterval)
	}
	if cfg.RefundLease <= cfg.PaymentGatewayTimeout {
		return nil, fmt.Errorf("invalid REFUND_LEASE %s: must exceed PAYMENT_GATEWAY_TIMEOUT %s", cfg.RefundLease, cfg.PaymentGatewayTimeout)
	}
	return cfg, nil
}
