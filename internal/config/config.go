package config

import (
	"encoding/base64"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	ServerAddr     string   `env:"SERVER_ADDR" envDefault:":8000"`
	DatabaseDSN    string   `env:"DATABASE_DSN"`
	SigningSecret  string   `env:"SIGNING_SECRET"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:3000"`
	SigningKey     []byte   `env:"-"`
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// NewConfig reads configuration from the environment, loading a .env file
// first when one is present.
func NewConfig() (*Config, error) {
	// a missing .env file is fine, the environment may be set directly
	godotenv.Load(".env")

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	return validate(&cfg)
}

func validate(cfg *Config) (*Config, error) {
	if cfg.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if cfg.DatabaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if cfg.SigningSecret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(cfg.SigningSecret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	cfg.SigningKey = signingKey
	return cfg, nil
}
