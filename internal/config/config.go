/*
Package config loads the chat binaries' settings from environment variables.

A .env file in the working directory is read first when present. Every value
has a default and the resulting struct is validated before use.
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/omochice/lanchat/internal/netutil"
)

// Config holds the settings shared by the server and client commands.
type Config struct {
	// General
	Environment string `validate:"oneof=development production"`

	// Server
	Port int `validate:"min=1,max=65535"`

	// Client
	ServerAddress     string        `validate:"omitempty,lan_addr"`
	Username          string        `validate:"max=32"`
	AvatarColor       string        `validate:"hexcolor"`
	DialTimeout       time.Duration `validate:"gt=0"`
	ReconnectDelay    time.Duration `validate:"gt=0"`
	ReconnectAttempts int           `validate:"min=1"`
	TypingInterval    time.Duration `validate:"gte=0"`
}

// IsDevelopment reports whether logging should use the development format.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

var validate = newValidator()

// newValidator registers lan_addr, which accepts the same "ip:port" form the
// client command dials.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("lan_addr", func(fl validator.FieldLevel) bool {
		return netutil.ValidateAddress(fl.Field().String()) == nil
	})
	return v
}

// Load reads the configuration, applying defaults for unset variables.
func Load() (*Config, error) {
	// a missing .env is normal outside development checkouts
	_ = godotenv.Load()

	cfg := &Config{
		Environment:   envString("ENVIRONMENT", "development"),
		ServerAddress: os.Getenv("LANCHAT_SERVER"),
		Username:      os.Getenv("LANCHAT_USERNAME"),
		AvatarColor:   envString("LANCHAT_COLOR", "#2196F3"),
	}

	var err error
	if cfg.Port, err = envInt("LANCHAT_PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.ReconnectAttempts, err = envInt("LANCHAT_RECONNECT_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.DialTimeout, err = envDuration("LANCHAT_DIAL_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ReconnectDelay, err = envDuration("LANCHAT_RECONNECT_DELAY", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.TypingInterval, err = envDuration("LANCHAT_TYPING_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return d, nil
}
