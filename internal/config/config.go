// Package config loads the CLI's settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Cache modes.
const (
	CacheMemory  = "memory"
	CacheBounded = "bounded"
	CacheRedis   = "redis"
)

type Config struct {
	Backend   BackendConfig
	Cache     CacheConfig
	Redis     RedisConfig
	Log       LogConfig
	RateLimit RateLimitConfig
	Trace     bool
	Metrics   MetricsConfig
}

type BackendConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type CacheConfig struct {
	Mode       string // memory, bounded or redis
	MaxEntries int64
	Prefix     string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string // json or text
}

type RateLimitConfig struct {
	// RPS of zero disables client-side rate limiting.
	RPS   float64
	Burst int
}

type MetricsConfig struct {
	Addr string
}

// Load reads the configuration. Missing .env files are ignored; values
// already present in the environment win over the files.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return nil, fmt.Errorf("config: load %s: %w", f, err)
			}
		}
	}

	cfg := &Config{
		Backend: BackendConfig{
			BaseURL: getEnv("POLICYDASH_BASE_URL", "http://localhost:8000"),
			Token:   getEnv("POLICYDASH_TOKEN", ""),
			Timeout: getDurationEnv("POLICYDASH_TIMEOUT", 30*time.Second),
		},
		Cache: CacheConfig{
			Mode:       strings.ToLower(getEnv("POLICYDASH_CACHE", CacheMemory)),
			MaxEntries: int64(getIntEnv("POLICYDASH_CACHE_MAX", 10_000)),
			Prefix:     getEnv("POLICYDASH_CACHE_PREFIX", "policydash"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		RateLimit: RateLimitConfig{
			RPS:   getFloatEnv("POLICYDASH_RPS", 0),
			Burst: getIntEnv("POLICYDASH_BURST", 5),
		},
		Trace: getBoolEnv("POLICYDASH_TRACE", false),
		Metrics: MetricsConfig{
			Addr: getEnv("POLICYDASH_METRICS_ADDR", ":9090"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Cache.Mode {
	case CacheMemory, CacheBounded, CacheRedis:
	default:
		return fmt.Errorf("config: POLICYDASH_CACHE must be memory, bounded or redis, got %q", c.Cache.Mode)
	}
	if c.Cache.Mode == CacheBounded && c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("config: POLICYDASH_CACHE_MAX must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("config: POLICYDASH_RPS must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
