// Package config contains everything related to configuration
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath       string
	AccountsPath       string
	GoogleClientID     string
	GoogleClientSecret string
	Host               string
	StaticDir          string
	LogLevel           string
	CORSOrigins        []string
	QuotaPollInterval  time.Duration
	Port               int
	MaxConcurrentFetch int
	UseUTLS            bool
	DesktopNotify      bool
}

// Default values
const (
	defaultQuotaPollInterval = 120 * time.Second
	defaultPort              = 3456
)

// Load reads configuration from .env files and environment variables.
func Load() (*Config, error) {
	// Try loading .env from multiple locations
	envPaths := getEnvPaths()
	for _, path := range envPaths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			break
		}
	}

	antigravityConstants := LoadAntigravityConstants()
	var defaultClientID, defaultClientSecret string
	if antigravityConstants != nil {
		defaultClientID = antigravityConstants.ClientID
		defaultClientSecret = antigravityConstants.ClientSecret
	}

	cfg := &Config{
		DatabasePath:       getEnvString("DATABASE_PATH", getDefaultDatabasePath()),
		AccountsPath:       getEnvString("ACCOUNTS_PATH", getDefaultAccountsPath()),
		GoogleClientID:     getEnvString("GOOGLE_CLIENT_ID", defaultClientID),
		GoogleClientSecret: getEnvString("GOOGLE_CLIENT_SECRET", defaultClientSecret),
		QuotaPollInterval:  getEnvDuration("QUOTA_POLL_INTERVAL", defaultQuotaPollInterval),
		Host:               getEnvString("HOST", ""),
		Port:               getEnvInt("PORT", defaultPort),
		StaticDir:          getEnvString("STATIC_DIR", ""),
		LogLevel:           getEnvString("LOG_LEVEL", "info"),
		CORSOrigins:        getEnvList("CORS_ORIGINS"),
		MaxConcurrentFetch: getEnvInt("MAX_CONCURRENT_FETCHES", 0),
		UseUTLS:            getEnvBool("UPSTREAM_UTLS", false),
		DesktopNotify:      getEnvBool("DESKTOP_NOTIFY", false),
	}

	if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
		return nil, fmt.Errorf(
			"GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required (set via env or opencode-antigravity-auth)")
	}

	if cfg.QuotaPollInterval <= 0 {
		cfg.QuotaPollInterval = defaultQuotaPollInterval
	}

	// Ensure database directory exists
	if err := ensureDir(filepath.Dir(cfg.DatabasePath)); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ListenAddr returns the host:port pair the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getEnvPaths returns a list of paths to check for .env files.
func getEnvPaths() []string {
	var paths []string

	// Current directory
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}

	// Home directory locations
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "opencode", "antigravity-monitor", ".env"),
			filepath.Join(home, ".config", "opencode", ".env"),
			filepath.Join(home, ".antigravity", ".env"),
		)
	}

	// Parent directories (useful for development)
	if cwd, err := os.Getwd(); err == nil {
		parent := filepath.Dir(cwd)
		paths = append(paths, filepath.Join(parent, ".env"))
		grandparent := filepath.Dir(parent)
		paths = append(paths, filepath.Join(grandparent, ".env"))
	}

	return paths
}

// getDefaultDatabasePath returns the default path for the SQLite database.
func getDefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "quota.db"
	}
	return filepath.Join(home, ".config", "opencode", "antigravity-monitor", "quota.db")
}

// getDefaultAccountsPath returns the default path for the accounts JSON file.
func getDefaultAccountsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "antigravity-accounts.json"
	}
	return filepath.Join(home, ".config", "opencode", "antigravity-accounts.json")
}

// getEnvString retrieves a string environment variable or returns the default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns the default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated environment variable, dropping blanks.
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvDuration retrieves a duration environment variable or returns the default.
// Accepts values like "30s", "2m", "500ms". A bare number is milliseconds, so
// "120000" is two minutes.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		if n, err := strconv.Atoi(value); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return defaultValue
}

// ensureDir creates a directory and all parent directories if they don't exist.
func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	return os.MkdirAll(path, 0o750)
}
