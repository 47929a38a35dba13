// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	// HTTP
	Port      string
	ProxyPort string
	Upstream  string

	// Storage
	Store       string
	DatabaseURL string
	MirrorPath  string

	// Auth
	UsersFile string

	// Cache engine
	CacheVersion string
	StaticAssets []string

	// Real-time sync
	RetryBase   time.Duration
	RetryMax    int
	ListenLimit int

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment, after loading a .env file
// when one exists.
func Load() (*Config, error) {
	godotenv.Load()

	c := &Config{
		Port:         getEnv("THESIS_PORT", "8080"),
		ProxyPort:    getEnv("THESIS_PROXY_PORT", ""),
		Upstream:     getEnv("THESIS_UPSTREAM", ""),
		Store:        strings.ToLower(getEnv("THESIS_STORE", StoreMemory)),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		MirrorPath:   getEnv("THESIS_MIRROR_PATH", "./data/mirror.db"),
		UsersFile:    getEnv("THESIS_USERS_FILE", ""),
		CacheVersion: getEnv("THESIS_CACHE_VERSION", "v1"),
		StaticAssets: getEnvAsList("THESIS_STATIC_ASSETS", []string{"/", "/index.html", "/manifest.json"}),
		RetryBase:    time.Duration(getEnvAsInt("THESIS_RETRY_BASE_MS", 1000)) * time.Millisecond,
		RetryMax:     getEnvAsInt("THESIS_RETRY_MAX", 3),
		ListenLimit:  getEnvAsInt("THESIS_LISTEN_LIMIT", 500),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "console"),
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when THESIS_STORE=postgres")
		}
	default:
		return fmt.Errorf("THESIS_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if c.ProxyPort != "" && c.Upstream == "" {
		return fmt.Errorf("THESIS_UPSTREAM is required when THESIS_PROXY_PORT is set")
	}
	if c.CacheVersion == "" {
		return fmt.Errorf("THESIS_CACHE_VERSION must not be empty")
	}
	if c.RetryBase <= 0 {
		return fmt.Errorf("THESIS_RETRY_BASE_MS must be positive")
	}
	if c.RetryMax < 0 {
		return fmt.Errorf("THESIS_RETRY_MAX must not be negative")
	}
	if c.ListenLimit <= 0 {
		return fmt.Errorf("THESIS_LISTEN_LIMIT must be positive")
	}
	return nil
}

// ProxyEnabled reports whether the caching proxy should be served.
func (c *Config) ProxyEnabled() bool {
	return c.ProxyPort != ""
}

// Helper functions to read environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
