// Package config provides environment configuration for the relay.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Bus drivers.
const (
	BusNATS  = "nats"
	BusRedis = "redis"
)

// Config holds all configuration for the application.
type Config struct {
	Env string `yaml:"env"`

	// Server settings
	ServerPort         string        `yaml:"port"`
	ServerReadTimeout  time.Duration `yaml:"server_read_timeout"`
	ServerWriteTimeout time.Duration `yaml:"server_write_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins     []string      `yaml:"allowed_origins"`

	// Connection gate
	JWTSecret       string `yaml:"jwt_secret"`
	JWTSecretBase64 bool   `yaml:"jwt_secret_base64"`
	AuthDevBypass   bool   `yaml:"auth_dev_bypass"`

	// Webhook gateway
	NotifySecret string `yaml:"notify_secret"`

	// Core API
	CoreAPIURL     string        `yaml:"core_api_url"`
	CoreAPITimeout time.Duration `yaml:"core_api_timeout"`

	// Room bus
	BusDriver     string `yaml:"bus_driver"`
	NATSURL       string `yaml:"nats_url"`
	NATSEmbedded  bool   `yaml:"nats_embedded"`
	NATSCAFile    string `yaml:"nats_ca_file"`
	NATSCertFile  string `yaml:"nats_cert_file"`
	NATSKeyFile   string `yaml:"nats_key_file"`
	NATSToken     string `yaml:"nats_token"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Presence
	TypingTimeout time.Duration `yaml:"typing_timeout"`

	// Rate limiting
	NotifyRateLimit int           `yaml:"notify_rate_limit"`
	WSRateLimit     int           `yaml:"ws_rate_limit"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Tracing
	TracingEndpoint string `yaml:"tracing_endpoint"`
	TracingEnabled  bool   `yaml:"tracing_enabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Env:                "development",
		ServerPort:         "3001",
		ServerReadTimeout:  30 * time.Second,
		ServerWriteTimeout: 30 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		AllowedOrigins:     []string{"http://localhost:3000"},

		CoreAPIURL:     "http://localhost:8080",
		CoreAPITimeout: 10 * time.Second,

		BusDriver: BusNATS,
		NATSURL:   "nats://localhost:4222",
		RedisAddr: "localhost:6379",

		TypingTimeout: 10 * time.Second,

		NotifyRateLimit: 600,
		WSRateLimit:     120,
		RateLimitWindow: time.Minute,

		LogLevel:  "info",
		LogFormat: "json",

		TracingEndpoint: "localhost:4318",
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, in that order of precedence (env wins).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Env = getEnv("ENV", c.Env)

	// Server
	c.ServerPort = getEnv("PORT", c.ServerPort)
	c.ServerReadTimeout = getDurationEnv("SERVER_READ_TIMEOUT", c.ServerReadTimeout)
	c.ServerWriteTimeout = getDurationEnv("SERVER_WRITE_TIMEOUT", c.ServerWriteTimeout)
	c.ShutdownTimeout = getDurationEnv("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.AllowedOrigins = getListEnv("ALLOWED_ORIGINS", c.AllowedOrigins)

	// Gate
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.JWTSecretBase64 = getBoolEnv("JWT_SECRET_BASE64", c.JWTSecretBase64)
	c.AuthDevBypass = getBoolEnv("AUTH_DEV_BYPASS", c.AuthDevBypass)

	// Webhooks
	c.NotifySecret = getEnv("NOTIFY_SECRET", c.NotifySecret)

	// Core API
	c.CoreAPIURL = getEnv("CORE_API_URL", c.CoreAPIURL)
	c.CoreAPITimeout = getDurationEnv("CORE_API_TIMEOUT", c.CoreAPITimeout)

	// Bus
	c.BusDriver = strings.ToLower(getEnv("BUS_DRIVER", c.BusDriver))
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.NATSEmbedded = getBoolEnv("NATS_EMBEDDED", c.NATSEmbedded)
	c.NATSCAFile = getEnv("NATS_CA_FILE", c.NATSCAFile)
	c.NATSCertFile = getEnv("NATS_CERT_FILE", c.NATSCertFile)
	c.NATSKeyFile = getEnv("NATS_KEY_FILE", c.NATSKeyFile)
	c.NATSToken = getEnv("NATS_TOKEN", c.NATSToken)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getIntEnv("REDIS_DB", c.RedisDB)

	c.TypingTimeout = getDurationEnv("TYPING_TIMEOUT", c.TypingTimeout)

	// Rate limiting
	c.NotifyRateLimit = getIntEnv("NOTIFY_RATE_LIMIT", c.NotifyRateLimit)
	c.WSRateLimit = getIntEnv("WS_RATE_LIMIT", c.WSRateLimit)
	c.RateLimitWindow = getDurationEnv("RATE_LIMIT_WINDOW", c.RateLimitWindow)

	// Logging
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	// Tracing
	c.TracingEndpoint = getEnv("TRACING_ENDPOINT", c.TracingEndpoint)
	c.TracingEnabled = getBoolEnv("TRACING_ENABLED", c.TracingEnabled)
}

// Validate rejects configurations that are unsafe or unusable.
func (c *Config) Validate() error {
	if c.AuthDevBypass && strings.EqualFold(c.Env, "production") {
		return errors.New("AUTH_DEV_BYPASS cannot be enabled when ENV=production")
	}
	if !c.AuthDevBypass && c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required unless AUTH_DEV_BYPASS is enabled")
	}
	if c.JWTSecretBase64 && c.JWTSecret != "" {
		if _, err := base64.StdEncoding.DecodeString(c.JWTSecret); err != nil {
			return fmt.Errorf("JWT_SECRET is not valid base64: %w", err)
		}
	}
	switch c.BusDriver {
	case BusNATS, BusRedis:
	default:
		return fmt.Errorf("unknown BUS_DRIVER %q", c.BusDriver)
	}
	if c.CoreAPIURL == "" {
		return errors.New("CORE_API_URL is required")
	}
	return nil
}

// SigningKey returns the key used to verify connection tokens.
func (c *Config) SigningKey() []byte {
	if c.JWTSecretBase64 {
		if b, err := base64.StdEncoding.DecodeString(c.JWTSecret); err == nil {
			return b
		}
	}
	return []byte(c.JWTSecret)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
