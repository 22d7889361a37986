// Package config loads the service's environment-driven configuration
// into a typed Config struct, via Load()/getEnv/getEnvAsInt helpers.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full set of env-driven knobs the service reads at startup.
type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Cache       CacheConfig
	RateLimit   RateLimitConfig
	Reservation ReservationConfig
	Observability ObservabilityConfig
}

type ServerConfig struct {
	Port       int
	Host       string
	CORSOrigin string
}

type StoreConfig struct {
	Path string
}

type CacheConfig struct {
	ItemsTTL time.Duration
}

type RateLimitConfig struct {
	WindowMs    int
	MaxRequests int
}

type ReservationConfig struct {
	TimeoutMinutes int
}

type ObservabilityConfig struct {
	LogLevel       string
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string
}

// Load reads .env (if present) then the process environment, applying
// defaults for every knob. A missing .env file is not an error — it is
// expected in production, where config comes from the real environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			Port:       getEnvAsInt("PORT", 8080),
			Host:       getEnv("HOST", "0.0.0.0"),
			CORSOrigin: getEnv("CORS_ORIGIN", "*"),
		},
		Store: StoreConfig{
			Path: getEnv("DB_PATH", "./data/reservations.db"),
		},
		Cache: CacheConfig{
			ItemsTTL: getEnvAsMillisDuration("CACHE_TTL_ITEMS", 30000),
		},
		RateLimit: RateLimitConfig{
			WindowMs:    getEnvAsInt("RATE_LIMIT_WINDOW_MS", 60000),
			MaxRequests: getEnvAsInt("RATE_LIMIT_MAX_REQUESTS", 100),
		},
		Reservation: ReservationConfig{
			TimeoutMinutes: getEnvAsInt("RESERVATION_TIMEOUT_MINUTES", 10),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			ServiceName:    getEnv("SERVICE_NAME", "reservation-engine"),
			ServiceVersion: getEnv("SERVICE_VERSION", "0.1.0"),
			OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		},
	}, nil
}

// ReservationTTL converts TimeoutMinutes into a time.Duration for the engine.
func (c *Config) ReservationTTL() time.Duration {
	return time.Duration(c.Reservation.TimeoutMinutes) * time.Minute
}

// RateLimitWindow converts WindowMs into a time.Duration for the limiter.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowMs) * time.Millisecond
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvAsMillisDuration(key string, defaultMs int) time.Duration {
	ms := getEnvAsInt(key, defaultMs)
	return time.Duration(ms) * time.Millisecond
}
