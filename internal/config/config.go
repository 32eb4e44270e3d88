package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/simple5k.db"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	RedisURL string     `env:"REDIS_URL"`

	AdminEmail    string `env:"ADMIN_EMAIL" envDefault:"admin@simple5k.local"`
	AdminPassword string `env:"ADMIN_PASSWORD" envDefault:"changeme"`

	TimingRateLimit float64 `env:"TIMING_RATE_LIMIT" envDefault:"50"`
	TimingRateBurst int     `env:"TIMING_RATE_BURST" envDefault:"100"`

	NotifyInterval            time.Duration `env:"NOTIFY_INTERVAL" envDefault:"5m"`
	NotifyPerMinute           int           `env:"NOTIFY_PER_MINUTE" envDefault:"30"`
	EmailJobInterval          time.Duration `env:"EMAIL_JOB_INTERVAL" envDefault:"5s"`
	SignupConfirmationTimeout time.Duration `env:"SIGNUP_CONFIRMATION_TIMEOUT" envDefault:"30m"`
	SiteBaseURL               string        `env:"SITE_BASE_URL" envDefault:"http://localhost:8080"`
	// PaymentURL is linked from unpaid reminders; {race} and {runner}
	// are replaced with ids. Empty links to the race page.
	PaymentURL string `env:"PAYMENT_URL"`

	// SPADir holds the built results board; empty serves the API only.
	SPADir string `env:"SPA_DIR"`
}

// Load reads an optional .env file from the working directory and then
// parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}
