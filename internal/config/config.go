// Package config loads per-binary settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Telemetry struct {
	ServiceVersion string  `env:"OTEL_SERVICE_VERSION" envDefault:"0.1.0"`
	TracingEnabled bool    `env:"OTEL_TRACING_ENABLED" envDefault:"true"`
	OTLPEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	SampleRatio    float64 `env:"OTEL_TRACES_SAMPLE_RATIO" envDefault:"1"`
}

func (t Telemetry) validate() error {
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLE_RATIO must be within [0, 1], got %v", t.SampleRatio)
	}
	return nil
}

type Kafka struct {
	Brokers          string `env:"KAFKA_BROKERS"`
	OrderEventsTopic string `env:"ORDER_EVENTS_TOPIC" envDefault:"order.events"`
	ConsumerGroupID  string `env:"KAFKA_CONSUMER_GROUP" envDefault:"settlement-worker"`
}

// BrokerList splits KAFKA_BROKERS; nil means Kafka is disabled.
func (k Kafka) BrokerList() []string {
	if k.Brokers == "" {
		return nil
	}
	return strings.Split(k.Brokers, ",")
}

type Marketplace struct {
	Port                  string        `env:"PORT" envDefault:"8081"`
	PostgresURL           string        `env:"POSTGRES_URL,required,notEmpty"`
	JWTSecret             string        `env:"JWT_SECRET,required,notEmpty"`
	WebhookSecret         string        `env:"PAYMENT_WEBHOOK_SECRET,required,notEmpty"`
	PaymentGatewayURL     string        `env:"PAYMENT_GATEWAY_URL"`
	ReturnWindow          time.Duration `env:"RETURN_WINDOW" envDefault:"168h"`
	CoolingOffPeriod      time.Duration `env:"COOLING_OFF_PERIOD" envDefault:"168h"`
	ReleaseBatchSize      int           `env:"RELEASE_BATCH_SIZE" envDefault:"500"`
	PriceTolerancePercent float64       `env:"PRICE_TOLERANCE_PERCENT" envDefault:"0"`
	BonusPointsPercent    int64         `env:"BONUS_POINTS_PERCENT" envDefault:"5"`
	CheckoutRatePerMinute int           `env:"CHECKOUT_RATE_PER_MINUTE" envDefault:"30"`
	Kafka                 Kafka
	Telemetry             Telemetry
}

type Settlement struct {
	MetricsPort       string        `env:"METRICS_PORT" envDefault:"9091"`
	PostgresURL       string        `env:"POSTGRES_URL,required,notEmpty"`
	CoolingOffPeriod  time.Duration `env:"COOLING_OFF_PERIOD" envDefault:"168h"`
	ReleaseInterval   time.Duration `env:"RELEASE_INTERVAL" envDefault:"1h"`
	ReleaseBatchSize  int           `env:"RELEASE_BATCH_SIZE" envDefault:"500"`
	RedisAddr         string        `env:"REDIS_ADDR"`
	RedisPassword     string        `env:"REDIS_PASSWORD"`
	LoyaltyServiceURL string        `env:"LOYALTY_SERVICE_URL"`
	EmailServiceURL   string        `env:"EMAIL_SERVICE_URL"`
	Kafka             Kafka
	Telemetry         Telemetry
}

func LoadMarketplace() (*Marketplace, error) {
	cfg := &Marketplace{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse marketplace config: %w", err)
	}
	if cfg.PriceTolerancePercent < 0 || cfg.PriceTolerancePercent > 100 {
		return nil, fmt.Errorf("PRICE_TOLERANCE_PERCENT must be within [0, 100], got %v", cfg.PriceTolerancePercent)
	}
	if cfg.ReleaseBatchSize <= 0 {
		return nil, fmt.Errorf("RELEASE_BATCH_SIZE must be positive, got %d", cfg.ReleaseBatchSize)
	}
	if err := cfg.Telemetry.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadSettlement() (*Settlement, error) {
	cfg := &Settlement{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse settlement config: %w", err)
	}
	if cfg.ReleaseInterval <= 0 {
		return nil, fmt.Errorf("RELEASE_INTERVAL must be positive, got %s", cfg.ReleaseInterval)
	}
	if cfg.ReleaseBatchSize <= 0 {
		return nil, fmt.Errorf("RELEASE_BATCH_SIZE must be positive, got %d", cfg.ReleaseBatchSize)
	}
	if err := cfg.Telemetry.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
