// Package config loads runtime configuration for the XL4Net binaries from
// environment variables (with an optional local .env file for developer
// convenience), grounded on adred-codev-ws_poc/ws/config.go's
// caarlos0/env/v11 + joho/godotenv pattern: struct tags define the env var
// name and default, godotenv.Load seeds the process environment first and
// is never fatal if no .env file exists, then env.Parse validates types.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// GameServerConfig configures the UDP game server binary.
type GameServerConfig struct {
	ListenAddr        string        `env:"XL4_LISTEN_ADDR" envDefault:":7777"`
	MaxConnections    int           `env:"XL4_MAX_CONNECTIONS" envDefault:"100"`
	InboundQueueSize  int           `env:"XL4_INBOUND_QUEUE_SIZE" envDefault:"1024"`
	ProcessBatchSize  int           `env:"XL4_PROCESS_BATCH_SIZE" envDefault:"100"`
	HeartbeatInterval time.Duration `env:"XL4_HEARTBEAT_INTERVAL" envDefault:"1s"`
	HeartbeatTimeout  time.Duration `env:"XL4_HEARTBEAT_TIMEOUT" envDefault:"5s"`
	TickRate          float64       `env:"XL4_TICK_RATE" envDefault:"30"`

	AuthGatewayAddr string `env:"XL4_AUTH_GATEWAY_ADDR" envDefault:"localhost:8080"`
	TokenSigningKey string `env:"XL4_TOKEN_SIGNING_KEY,required"`

	MetricsListenAddr string `env:"XL4_METRICS_LISTEN_ADDR" envDefault:":9100"`

	LogLevel  string `env:"XL4_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"XL4_LOG_FORMAT" envDefault:"json"`
}

// AuthGatewayConfig configures the HTTP auth gateway binary.
type AuthGatewayConfig struct {
	ListenAddr      string `env:"XL4_AUTH_LISTEN_ADDR" envDefault:":8080"`
	DatabaseDSN     string `env:"XL4_AUTH_DATABASE_DSN,required"`
	TokenSigningKey string `env:"XL4_TOKEN_SIGNING_KEY,required"`

	MetricsListenAddr string `env:"XL4_AUTH_METRICS_LISTEN_ADDR" envDefault:":9101"`

	LogLevel  string `env:"XL4_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"XL4_LOG_FORMAT" envDefault:"json"`
}

// LoadGameServer reads GameServerConfig from a local .env file (if
// present) and the process environment, then validates it.
func LoadGameServer(logger *zerolog.Logger) (*GameServerConfig, error) {
	loadDotenv(logger)

	cfg := &GameServerConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse game server config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate game server config: %w", err)
	}
	return cfg, nil
}

// LoadAuthGateway reads AuthGatewayConfig from a local .env file (if
// present) and the process environment, then validates it.
func LoadAuthGateway(logger *zerolog.Logger) (*AuthGatewayConfig, error) {
	loadDotenv(logger)

	cfg := &AuthGatewayConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse auth gateway config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate auth gateway config: %w", err)
	}
	return cfg, nil
}

func loadDotenv(logger *zerolog.Logger) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using process environment only")
		}
		return
	}
	if logger != nil {
		logger.Info().Msg("loaded configuration overrides from .env file")
	}
}

// Validate checks GameServerConfig for internally-consistent values.
func (c *GameServerConfig) Validate() error {
	if c.MaxConnections < 1 {
		return fmt.Errorf("XL4_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.TickRate <= 0 {
		return fmt.Errorf("XL4_TICK_RATE must be > 0, got %f", c.TickRate)
	}
	if len(c.TokenSigningKey) < 32 {
		return fmt.Errorf("XL4_TOKEN_SIGNING_KEY must be at least 32 bytes")
	}
	if !validLogLevel(c.LogLevel) {
		return fmt.Errorf("XL4_LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	return nil
}

// Validate checks AuthGatewayConfig for internally-consistent values.
func (c *AuthGatewayConfig) Validate() error {
	if len(c.TokenSigningKey) < 32 {
		return fmt.Errorf("XL4_TOKEN_SIGNING_KEY must be at least 32 bytes")
	}
	if !validLogLevel(c.LogLevel) {
		return fmt.Errorf("XL4_LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	return nil
}

func validLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}
