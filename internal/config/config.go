package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	FeedDriverHub      = "hub"
	FeedDriverPostgres = "postgres"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	ServerPort  string `env:"SERVER_PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	FeedDriver  string `env:"FEED_DRIVER" envDefault:"hub"`
	FeedBuffer  int    `env:"FEED_BUFFER" envDefault:"256"`

	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"vetchat"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"vetchat_dev_password"`
	DBName     string `env:"DB_NAME" envDefault:"vetchat"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	DBMaxConns int32  `env:"DB_MAX_CONNS" envDefault:"20"`

	SendRPS   float64 `env:"SEND_RPS" envDefault:"5"`
	SendBurst int     `env:"SEND_BURST" envDefault:"10"`

	JWTSecret string        `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
}

// Load reads configuration from the environment. Outside production a .env
// file is loaded first when present.
func Load() (*Config, error) {
	if !isProduction(os.Getenv("ENV")) {
		if err := godotenv.Load(); err != nil {
			slog.Debug("no .env file found, using environment only")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return isProduction(c.Environment)
}

// DatabaseURL builds the postgres connection string.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.FeedDriver {
	case FeedDriverHub, FeedDriverPostgres:
	default:
		return fmt.Errorf("invalid FEED_DRIVER %q", c.FeedDriver)
	}
	if c.FeedDriver == FeedDriverPostgres && c.StoreDriver != StoreDriverPostgres {
		return fmt.Errorf("FEED_DRIVER=postgres requires STORE_DRIVER=postgres")
	}
	if c.FeedBuffer <= 0 {
		return fmt.Errorf("FEED_BUFFER must be positive")
	}
	if c.SendRPS <= 0 || c.SendBurst <= 0 {
		return fmt.Errorf("SEND_RPS and SEND_BURST must be positive")
	}
	if c.IsProduction() && c.JWTSecret == "dev-secret-change-me" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}

func isProduction(env string) bool {
	return strings.EqualFold(env, "production")
}
