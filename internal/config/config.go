package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port string
	Env  string

	// Storage
	DatabaseURL string // PostgreSQL; empty selects SQLite
	SQLitePath  string
	RedisURL    string

	// Paging
	DefaultPageSize int
	MaxPageSize     int
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		SQLitePath:      getEnv("SQLITE_PATH", "./data/tablechat.db"),
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379"),
		DefaultPageSize: getEnvInt("DEFAULT_PAGE_SIZE", 50),
		MaxPageSize:     getEnvInt("MAX_PAGE_SIZE", 200),
	}

	// In production, require database and redis URLs
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if os.Getenv("REDIS_URL") == "" {
			panic("REDIS_URL is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}
