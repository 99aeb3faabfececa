package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator"
	_ "github.com/joho/godotenv/autoload"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/env"
)

// DefaultAPIURL is the production Saferpay endpoint. Override via
// GATEWAY_SAFERPAY__API_URL to point at the test environment
// (https://test.saferpay.com/api).
const DefaultAPIURL = "https://www.saferpay.com/api"

type Config struct {
	Primary  Primary        `koanf:"primary"`
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Saferpay SaferpayConfig `koanf:"saferpay"`
	Checkout CheckoutConfig `koanf:"checkout"`
	Retry    RetryConfig    `koanf:"retry"`
	Logger   LoggerConfig   `koanf:"logger"`
	Worker   WorkerConfig   `koanf:"worker"`
}

type Primary struct {
	Env string `koanf:"env" validate:"required"`
}

type ServerConfig struct {
	Port         string        `koanf:"port" validate:"required"`
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"required"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"required"`
	IdleTimeout  time.Duration `koanf:"idle_timeout" validate:"required"`
}

type DatabaseConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"required"`
	User            string        `koanf:"user" validate:"required"`
	Password        string        `koanf:"password" validate:"required"`
	Name            string        `koanf:"name" validate:"required"`
	SSLMode         string        `koanf:"ssl_mode" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"required"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"required"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" validate:"required"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time" validate:"required"`
}

// SaferpayConfig holds the API credentials. Loaded once at startup and shared
// read-only; every field except APIURL is required.
type SaferpayConfig struct {
	APIURL      string        `koanf:"api_url"`
	APIUsername string        `koanf:"api_username" validate:"required"`
	APIPassword string        `koanf:"api_password" validate:"required"`
	CustomerID  string        `koanf:"customer_id" validate:"required"`
	TerminalID  string        `koanf:"terminal_id" validate:"required"`
	ConnTimeout time.Duration `koanf:"conn_timeout"`
}

// CheckoutConfig carries the externally reachable URLs handed to Saferpay on
// Initialize. Success, fail and abort receive the payer's browser; notify
// receives the server-to-server completion callback.
type CheckoutConfig struct {
	SuccessURL string `koanf:"success_url" validate:"required,url"`
	FailURL    string `koanf:"fail_url" validate:"required,url"`
	AbortURL   string `koanf:"abort_url" validate:"required,url"`
	NotifyURL  string `koanf:"notify_url" validate:"required,url"`
}

type RetryConfig struct {
	BaseDelay  time.Duration `koanf:"base_delay"`
	MaxRetries int           `koanf:"max_retries"`
}

type LoggerConfig struct {
	Level string `koanf:"level"`
}

type WorkerConfig struct {
	Interval  time.Duration `koanf:"interval" validate:"required"`
	BatchSize int           `koanf:"batch_size" validate:"required"`
	StuckAge  time.Duration `koanf:"stuck_age"`
}

func LoadConfig() (*Config, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	k := koanf.New(".")

	err := k.Load(env.Provider("GATEWAY_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "GATEWAY_")),
			"__",
			".",
		)
	}), nil)
	if err != nil {
		logger.Error("failed to load environment variables", "error", err)
		return nil, err
	}

	cfg := &Config{}

	err = k.Unmarshal("", cfg)
	if err != nil {
		logger.Error("could not unmarshal main config", "error", err)
		return nil, err
	}

	cfg.applyDefaults()

	validate := validator.New()

	err = validate.Struct(cfg)
	if err != nil {
		logger.Error("config validation failed", "error", err)
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Saferpay.APIURL == "" {
		c.Saferpay.APIURL = DefaultAPIURL
	}
	if c.Saferpay.ConnTimeout == 0 {
		c.Saferpay.ConnTimeout = 10 * time.Second
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = 1 * time.Second
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Worker.StuckAge == 0 {
		c.Worker.StuckAge = 2 * time.Minute
	}
}
