// Package server provides configuration helpers that define runtime defaults,
// validation, and credential parsing for the ClipRelay service.
package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"

	"github.com/Tyrowin/cliprelay/internal/relay"
)

// Config holds every tunable read from the environment.
type Config struct {
	Port              string        `env:"PORT" default:"8080"`
	MaxBodyBytes      int64         `env:"MAX_BODY_BYTES" default:"32768"`
	MaxMessageSize    int64         `env:"MAX_MESSAGE_SIZE" default:"4096"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" default:"20s"`
	ClientTimeout     time.Duration `env:"CLIENT_TIMEOUT" default:"45s"`
	PushRateLimit     int           `env:"PUSH_RATE_LIMIT" default:"60"`
	RateSweepInterval time.Duration `env:"RATE_LIMIT_SWEEP_INTERVAL" default:"60s"`
	GlobalToken       string        `env:"RELAY_TOKEN"`
	RoomTokens        string        `env:"ROOM_TOKENS"`
	AllowAnonymous    bool          `env:"RELAY_ALLOW_ANONYMOUS" default:"false"`
	AllowedOrigins    string        `env:"ALLOWED_ORIGINS"`
	TrustProxy        bool          `env:"TRUST_PROXY" default:"false"`
	SubscribeRate     float64       `env:"SUBSCRIBE_RATE" default:"5"`
	SubscribeBurst    int           `env:"SUBSCRIBE_BURST" default:"10"`
	SendBuffer        int           `env:"SEND_BUFFER" default:"256"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
	Debug             bool          `env:"DEBUG" default:"false"`
	LogFormat         string        `env:"LOG_FORMAT" default:"json"`
}

func defaultConfig() Config {
	return Config{
		Port:              ":8080",
		MaxBodyBytes:      32 * 1024,
		MaxMessageSize:    4096,
		HeartbeatInterval: relay.DefaultHeartbeatInterval,
		ClientTimeout:     relay.DefaultClientTimeout,
		PushRateLimit:     60,
		RateSweepInterval: relay.RateWindow,
		SubscribeRate:     5,
		SubscribeBurst:    10,
		SendBuffer:        256,
		ShutdownTimeout:   10 * time.Second,
		LogFormat:         "json",
	}
}

// NewConfig creates a Config populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig reads an optional .env file, then the process environment,
// repairs out-of-range values and validates credentials.
func LoadConfig() (*Config, error) {
	// A missing .env file is the normal case in containers.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	sanitized := sanitizeConfig(cfg)
	if err := sanitized.Validate(); err != nil {
		return nil, err
	}
	return &sanitized, nil
}

func sanitizeConfig(cfg Config) Config {
	defaults := defaultConfig()

	cfg.Port = normalizePort(cfg.Port)

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.ClientTimeout <= 0 {
		cfg.ClientTimeout = defaults.ClientTimeout
	}
	if cfg.PushRateLimit <= 0 {
		cfg.PushRateLimit = defaults.PushRateLimit
	}
	if cfg.RateSweepInterval <= 0 {
		cfg.RateSweepInterval = defaults.RateSweepInterval
	}
	if cfg.SubscribeRate <= 0 {
		cfg.SubscribeRate = defaults.SubscribeRate
	}
	if cfg.SubscribeBurst <= 0 {
		cfg.SubscribeBurst = defaults.SubscribeBurst
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.LogFormat != "console" {
		cfg.LogFormat = defaults.LogFormat
	}
	return cfg
}

// normalizePort accepts "8080", ":8080" or "host:8080".
func normalizePort(port string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		return ":8080"
	}
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

// Validate checks values that cannot be repaired with a default.
func (c *Config) Validate() error {
	if _, err := relay.ParseRoomTokens(c.RoomTokens); err != nil {
		return fmt.Errorf("ROOM_TOKENS: %w", err)
	}
	return nil
}

// Credentials builds the immutable secret table from RELAY_TOKEN and
// ROOM_TOKENS.
func (c *Config) Credentials() (relay.Credentials, error) {
	rooms, err := relay.ParseRoomTokens(c.RoomTokens)
	if err != nil {
		return relay.Credentials{}, fmt.Errorf("ROOM_TOKENS: %w", err)
	}
	return relay.NewCredentials(c.GlobalToken, rooms), nil
}

// Origins returns the configured browser origin allow-list.
func (c *Config) Origins() []string {
	return parseOrigins(c.AllowedOrigins)
}

func parseOrigins(origins string) []string {
	if strings.TrimSpace(origins) == "" {
		return nil
	}
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// HubOptions maps the config onto relay.Options.
func (c *Config) HubOptions(creds relay.Credentials) relay.Options {
	return relay.Options{
		Credentials:       creds,
		AllowAnonymous:    c.AllowAnonymous,
		PublishLimit:      c.PushRateLimit,
		RateSweepInterval: c.RateSweepInterval,
		HeartbeatInterval: c.HeartbeatInterval,
		ClientTimeout:     c.ClientTimeout,
		Session: relay.SessionOptions{
			SendBuffer:     c.SendBuffer,
			MaxMessageSize: c.MaxMessageSize,
		},
	}
}
