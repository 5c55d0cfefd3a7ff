package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds every setting the API server and its background jobs need.
// It is loaded once in main and passed to constructors explicitly.
type Config struct {
	Env          string `env:"ENV" envDefault:"development"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	HTTP         HTTP
	Database     Database
	Auth         Auth
	Broker       Broker
	FCM          FCM
	Subscription Subscription
	Jobs         Jobs
}

type HTTP struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	PublicBaseURL   string        `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"5s"`
	RateLimit       bool          `env:"HTTP_RATE_LIMIT" envDefault:"true"`
}

type Database struct {
	Path string `env:"DB_PATH" envDefault:"brokerlink.db"`
}

type Auth struct {
	JWTSecret      string        `env:"JWT_SECRET"`
	TokenTTL       time.Duration `env:"JWT_TTL" envDefault:"24h"`
	InternalAPIKey string        `env:"INTERNAL_API_KEY"`
}

// Broker holds the Kite Connect app credentials shared by every linked user.
type Broker struct {
	APIKey    string        `env:"KITE_API_KEY"`
	APISecret string        `env:"KITE_API_SECRET"`
	BaseURL   string        `env:"KITE_API_URL" envDefault:"https://api.kite.trade"`
	LoginURL  string        `env:"KITE_LOGIN_URL" envDefault:"https://kite.zerodha.com/connect/login"`
	BasketURL string        `env:"KITE_BASKET_URL" envDefault:"https://kite.zerodha.com/connect/basket"`
	Exchange  string        `env:"KITE_QUOTE_EXCHANGE" envDefault:"NSE"`
	Timeout   time.Duration `env:"KITE_TIMEOUT" envDefault:"10s"`
	Debug     bool          `env:"KITE_DEBUG" envDefault:"false"`
}

type FCM struct {
	URL       string        `env:"FCM_URL" envDefault:"https://fcm.googleapis.com/fcm/send"`
	ServerKey string        `env:"FCM_SERVER_KEY" envDefault:""`
	Timeout   time.Duration `env:"FCM_TIMEOUT" envDefault:"5s"`
}

type Subscription struct {
	YearlyPrice float64 `env:"SUBSCRIPTION_YEARLY_PRICE" envDefault:"999"`
}

type Jobs struct {
	PortfolioInterval         time.Duration `env:"PORTFOLIO_JOB_INTERVAL" envDefault:"24h"`
	SubscriptionSweepInterval time.Duration `env:"SUBSCRIPTION_SWEEP_INTERVAL" envDefault:"1h"`
	QuoteRefreshInterval      time.Duration `env:"QUOTE_REFRESH_INTERVAL" envDefault:"15m"`
}

// MustLoad reads an optional .env file and then the process environment.
// Fields without a default are required.
func MustLoad() *Config {
	_ = godotenv.Load(".env")

	cfg := &Config{}

	opts := env.Options{RequiredIfNoDef: true}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		log.Fatal().Err(err).Msg("parse config error")
	}

	return cfg
}
