package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Security  SecurityConfig  `json:"security"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Cache     CacheConfig     `json:"cache"`
	Tracing   TracingConfig   `json:"tracing"`
	Refunds   RefundConfig    `json:"refunds"`
	Logging   LoggingConfig   `json:"logging"`
	Events    EventsConfig    `json:"events"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port string `json:"port"`
	Host string `json:"host"`
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes (default: 1MB)
	MaxRequestBodySize int64 `json:"max_request_body_size"`
	// Allowed CORS origins (comma-separated)
	AllowedOrigins string `json:"allowed_origins"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `json:"enabled"`
	Rate    int  `json:"rate"`
	Window  int  `json:"window"` // in seconds
}

// CacheConfig selects the purchase replay cache. An empty RedisAddr keeps
// the cache in memory.
type CacheConfig struct {
	RedisAddr      string `json:"redis_addr"`
	RedisPassword  string `json:"redis_password"`
	RedisDB        int    `json:"redis_db"`
	IdempotencyTTL int    `json:"idempotency_ttl"` // in seconds
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	ServiceName string `json:"service_name"`
	Environment string `json:"environment"`
}

// RefundConfig controls the automatic refund sweep.
type RefundConfig struct {
	SweepInterval int  `json:"sweep_interval"` // in seconds, 0 disables the schedule
	RunOnStart    bool `json:"run_on_start"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

// EventsConfig toggles in-process domain event hooks.
type EventsConfig struct {
	Enabled bool `json:"enabled"`
}

// LoadConfig loads configuration from a .env file, environment variables
// and/or a JSON config file. Environment variables take precedence over
// config file values.
func LoadConfig(configFile string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := defaults()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	overrideFromEnv(cfg)

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
		},
		Database: DatabaseConfig{
			Path: "./duo_passes.db",
		},
		Security: SecurityConfig{
			MaxRequestBodySize: 1 << 20,
			AllowedOrigins:     "*",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Rate:    100,
			Window:  60,
		},
		Cache: CacheConfig{
			IdempotencyTTL: 24 * 60 * 60,
		},
		Tracing: TracingConfig{
			ServiceName: "duo-pass-api",
			Environment: "development",
		},
		Refunds: RefundConfig{
			SweepInterval: 15 * 60,
			RunOnStart:    true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Events: EventsConfig{
			Enabled: true,
		},
	}
}

// loadFromFile loads configuration from a JSON file.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, cfg)
}

// overrideFromEnv overrides configuration with environment variables.
func overrideFromEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SERVER_PORT")
	setString(&cfg.Server.Host, "SERVER_HOST")
	setString(&cfg.Database.Path, "DATABASE_PATH")
	setInt64(&cfg.Security.MaxRequestBodySize, "MAX_REQUEST_BODY_SIZE")
	setString(&cfg.Security.AllowedOrigins, "ALLOWED_ORIGINS")
	setBool(&cfg.RateLimit.Enabled, "RATE_LIMIT_ENABLED")
	setInt(&cfg.RateLimit.Rate, "RATE_LIMIT_RATE")
	setInt(&cfg.RateLimit.Window, "RATE_LIMIT_WINDOW")
	setString(&cfg.Cache.RedisAddr, "REDIS_ADDR")
	setString(&cfg.Cache.RedisPassword, "REDIS_PASSWORD")
	setInt(&cfg.Cache.RedisDB, "REDIS_DB")
	setInt(&cfg.Cache.IdempotencyTTL, "IDEMPOTENCY_TTL")
	setBool(&cfg.Tracing.Enabled, "TRACING_ENABLED")
	setString(&cfg.Tracing.Endpoint, "TRACING_ENDPOINT")
	setString(&cfg.Tracing.ServiceName, "TRACING_SERVICE_NAME")
	setString(&cfg.Tracing.Environment, "APP_ENV")
	setInt(&cfg.Refunds.SweepInterval, "REFUND_SWEEP_INTERVAL")
	setBool(&cfg.Refunds.RunOnStart, "REFUND_RUN_ON_START")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setBool(&cfg.Logging.Pretty, "LOG_PRETTY")
	setBool(&cfg.Events.Enabled, "EVENTS_ENABLED")
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setBool(dst *bool, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = strings.ToLower(value) == "true" || value == "1"
	}
}

func setInt(dst *int, key string) {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			*dst = i
		}
	}
}

func setInt64(dst *int64, key string) {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			*dst = i
		}
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// SweepInterval returns the refund sweep period, zero when disabled.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Refunds.SweepInterval) * time.Second
}

// IdempotencyTTL returns how long purchase responses are replayable.
func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.Cache.IdempotencyTTL) * time.Second
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}
	if c.Refunds.SweepInterval < 0 {
		return fmt.Errorf("refund sweep interval must not be negative")
	}
	if c.Cache.IdempotencyTTL <= 0 {
		return fmt.Errorf("idempotency ttl must be positive")
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}
	return nil
}
