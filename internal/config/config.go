package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the folio server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Backend  BackendConfig
	Polling  PollingConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	RateLimitPerMin int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// BackendConfig points at the portfolio REST API that owns holdings and report jobs.
type BackendConfig struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables
}

type PollingConfig struct {
	MaxWait     time.Duration
	JobCacheTTL time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("FOLIO_PORT", 8080),
			Env:             envString("FOLIO_ENV", "development"),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MIN", 120),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Backend: loadBackend(),
		Polling: PollingConfig{
			MaxWait:     envDuration("POLL_MAX_WAIT", 10*time.Minute),
			JobCacheTTL: envDuration("JOB_CACHE_TTL", 30*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadClient reads only what the CLI needs: the backend and polling settings.
func LoadClient() (*Config, error) {
	cfg := &Config{
		Backend: loadBackend(),
		Polling: PollingConfig{
			MaxWait: envDuration("POLL_MAX_WAIT", 10*time.Minute),
		},
	}
	if err := cfg.Backend.validate(); err != nil {
		return nil, err
	}
	if cfg.Polling.MaxWait <= 0 {
		return nil, fmt.Errorf("POLL_MAX_WAIT must be positive, got %s", cfg.Polling.MaxWait)
	}
	return cfg, nil
}

func loadBackend() BackendConfig {
	return BackendConfig{
		BaseURL:   strings.TrimRight(os.Getenv("BACKEND_BASE_URL"), "/"),
		Token:     os.Getenv("BACKEND_TOKEN"),
		Timeout:   envDuration("BACKEND_TIMEOUT", 30*time.Second),
		RateLimit: envFloat("BACKEND_RATE_LIMIT", 10),
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if err := c.Backend.validate(); err != nil {
		return err
	}

	if c.Polling.MaxWait <= 0 {
		return fmt.Errorf("POLL_MAX_WAIT must be positive, got %s", c.Polling.MaxWait)
	}

	return nil
}

func (b BackendConfig) validate() error {
	if b.BaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL is required")
	}
	if !strings.HasPrefix(b.BaseURL, "http://") && !strings.HasPrefix(b.BaseURL, "https://") {
		return fmt.Errorf("BACKEND_BASE_URL must start with http:// or https://, got %q", b.BaseURL)
	}
	if b.RateLimit < 0 {
		return fmt.Errorf("BACKEND_RATE_LIMIT must not be negative, got %v", b.RateLimit)
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
