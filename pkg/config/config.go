// Package config loads the scoring engine settings from the environment and
// an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"cssbattle/pkg/raster"
)

// Config holds all settings shared by the commands.
type Config struct {
	LogLevel string // debug, info, warn, error

	// Round
	RoundSeconds int           // Countdown length of a round
	Debounce     time.Duration // Quiet window before a source change is scored

	// Comparison
	Threshold      float64       // Perceptual colour tolerance in [0,1]
	IncludeAA      bool          // Count anti-aliased pixels as different
	CaptureTimeout time.Duration // Upper bound for one render+capture
	TargetFit      raster.FitMode

	// Rendering engine
	ChromeURL  string // Remote DevTools websocket URL; empty launches a local browser
	ChromePath string // Browser executable; empty lets chromedp search

	// Collaborators
	APIBaseURL  string // Base for relative target image URIs
	ListenAddr  string
	DBPath      string
	SocketURL   string
	SocketToken string
	EventID     string
	CatalogPath string
}

// Load reads configuration from environment variables and a .env file.
// Environment variables take precedence over the file.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),

		RoundSeconds: getEnvAsInt("ROUND_SECONDS", 300),
		Debounce:     time.Duration(getEnvAsInt("DEBOUNCE_MS", 150)) * time.Millisecond,

		Threshold:      getEnvAsFloat("COMPARE_THRESHOLD", 0.1),
		IncludeAA:      getEnvAsBool("COMPARE_INCLUDE_AA", false),
		CaptureTimeout: time.Duration(getEnvAsInt("CAPTURE_TIMEOUT_MS", 5000)) * time.Millisecond,

		ChromeURL:  getEnv("CHROME_URL", ""),
		ChromePath: getEnv("CHROME_PATH", ""),

		APIBaseURL:  getEnv("API_BASE_URL", ""),
		ListenAddr:  getEnv("LISTEN_ADDR", "127.0.0.1:8090"),
		DBPath:      getEnv("DB_PATH", "cssbattle.db"),
		SocketURL:   getEnv("SOCKET_URL", ""),
		SocketToken: getEnv("SOCKET_TOKEN", ""),
		EventID:     getEnv("EVENT_ID", ""),
		CatalogPath: getEnv("CATALOG_PATH", "challenges.toml"),
	}

	fit, err := raster.ParseFitMode(getEnv("TARGET_FIT", "contain"))
	if err != nil {
		return cfg, fmt.Errorf("TARGET_FIT: %w", err)
	}
	cfg.TargetFit = fit

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("COMPARE_THRESHOLD must be within [0,1], got %v", c.Threshold)
	}
	if c.RoundSeconds <= 0 {
		return fmt.Errorf("ROUND_SECONDS must be positive, got %d", c.RoundSeconds)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("DEBOUNCE_MS must not be negative")
	}
	if c.CaptureTimeout <= 0 {
		return fmt.Errorf("CAPTURE_TIMEOUT_MS must be positive")
	}
	if c.SocketURL != "" && c.EventID == "" {
		return fmt.Errorf("EVENT_ID must be set when SOCKET_URL is set")
	}
	return nil
}

// RoundDuration returns the round length as a duration.
func (c *Config) RoundDuration() time.Duration {
	return time.Duration(c.RoundSeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
