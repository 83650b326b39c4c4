package config

import (
	"os"

	// this will automatically load your .env file:
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	DB       PostgresConfig
	Stripe   StripeConfig
	Line     LineConfig
	QueueURL string
}

type PostgresConfig struct {
	Username string
	Password string
	URL      string
	Port     string
	Name     string
}

type StripeConfig struct {
	SecretKey             string
	WebhookSecret         string
	PriceIDPremiumMonthly string
	PriceIDSingleLike     string
	FrontendURL           string
}

type LineConfig struct {
	// ChannelID is the audience LINE mints ID tokens for.
	ChannelID string
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		QueueURL: os.Getenv("QUEUE_URL"),
		DB: PostgresConfig{
			Username: os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PWD"),
			URL:      os.Getenv("POSTGRES_URL"),
			Port:     os.Getenv("POSTGRES_PORT"),
			Name:     os.Getenv("POSTGRES_DB"),
		},
		Stripe: StripeConfig{
			SecretKey:             os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret:         os.Getenv("STRIPE_WEBHOOK_SECRET"),
			PriceIDPremiumMonthly: os.Getenv("STRIPE_PRICE_ID_PREMIUM_MONTHLY"),
			PriceIDSingleLike:     os.Getenv("STRIPE_PRICE_ID_SINGLE_LIKE"),
			FrontendURL:           os.Getenv("FRONTEND_URL"),
		},
		Line: LineConfig{
			ChannelID: os.Getenv("LINE_CHANNEL_ID"),
		},
	}

	return cfg, nil
}
