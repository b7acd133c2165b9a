// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/psilabs/psi-engine/internal/store"
)

// Config holds application configuration. All values come from environment
// variables (optionally via a .env file); the set of variables is closed.
type Config struct {
	Store StoreConfig

	MarketAPIURL string

	ChatWebhookURL string
	BotToken       string
	BotChatID      string
	BotThreadID    int
	WebhookURL     string
	WebhookURLs    []string
	WebhookSecret  string
	WebhookAuth    string

	AlertMinSeverity   domain.Severity
	AlertDedupTTLHours int
	AlertSnapshotPath  string

	SchedulerIntervalSeconds int
	LogLevel                 string
}

// StoreConfig holds columnar store connection settings.
type StoreConfig struct {
	Host           string
	Port           int
	Database       string
	User           string
	Password       string
	TimeoutSeconds int
}

// ToStoreConfig converts the env settings into a gateway config.
func (s StoreConfig) ToStoreConfig() store.Config {
	cfg := store.DefaultConfig()
	cfg.Host = s.Host
	cfg.Port = s.Port
	cfg.Database = s.Database
	cfg.Username = s.User
	cfg.Password = s.Password
	cfg.Timeout = time.Duration(s.TimeoutSeconds) * time.Second
	return cfg
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Store: StoreConfig{
			Host:           getEnv("STORE_HOST", "localhost"),
			Port:           getEnvAsInt("STORE_PORT", 9000),
			Database:       getEnv("STORE_DATABASE", "default"),
			User:           getEnv("STORE_USER", "default"),
			Password:       getEnv("STORE_PASSWORD", ""),
			TimeoutSeconds: getEnvAsInt("STORE_TIMEOUT_SECONDS", 30),
		},
		MarketAPIURL:             getEnv("MARKET_API_URL", "https://gamma-api.polymarket.com"),
		ChatWebhookURL:           getEnv("CHAT_WEBHOOK_URL", ""),
		BotToken:                 getEnv("BOT_TOKEN", ""),
		BotChatID:                getEnv("BOT_CHAT_ID", ""),
		BotThreadID:              getEnvAsInt("BOT_THREAD_ID", 0),
		WebhookURL:               getEnv("WEBHOOK_URL", ""),
		WebhookURLs:              splitList(getEnv("WEBHOOK_URLS", "")),
		WebhookSecret:            getEnv("WEBHOOK_SECRET", ""),
		WebhookAuth:              getEnv("WEBHOOK_AUTH_HEADER", ""),
		AlertMinSeverity:         domain.ParseSeverity(getEnv("ALERT_MIN_SEVERITY", "LOW")),
		AlertDedupTTLHours:       getEnvAsInt("ALERT_DEDUP_TTL_HOURS", 24),
		AlertSnapshotPath:        getEnv("ALERT_SNAPSHOT_PATH", "dedup.snapshot"),
		SchedulerIntervalSeconds: getEnvAsInt("SCHEDULER_INTERVAL_SECONDS", 300),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and in range.
// Failures here are fatal at startup (exit code 2).
func (c *Config) Validate() error {
	if c.Store.Host == "" {
		return fmt.Errorf("STORE_HOST is required")
	}
	if c.Store.Port <= 0 || c.Store.Port > 65535 {
		return fmt.Errorf("STORE_PORT %d out of range", c.Store.Port)
	}
	if c.Store.TimeoutSeconds <= 0 {
		return fmt.Errorf("STORE_TIMEOUT_SECONDS must be positive")
	}
	if c.AlertDedupTTLHours <= 0 {
		return fmt.Errorf("ALERT_DEDUP_TTL_HOURS must be positive")
	}
	if c.SchedulerIntervalSeconds < 60 {
		return fmt.Errorf("SCHEDULER_INTERVAL_SECONDS must be at least 60, got %d", c.SchedulerIntervalSeconds)
	}
	if c.MarketAPIURL == "" {
		return fmt.Errorf("MARKET_API_URL is required")
	}
	if c.BotToken != "" && c.BotChatID == "" {
		return fmt.Errorf("BOT_CHAT_ID is required when BOT_TOKEN is set")
	}
	return nil
}

// WebhookEndpoints returns the combined list of generic webhook endpoints
// from WEBHOOK_URL and WEBHOOK_URLS, deduplicated.
func (c *Config) WebhookEndpoints() []string {
	seen := map[string]bool{}
	var out []string
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	add(c.WebhookURL)
	for _, u := range c.WebhookURLs {
		add(u)
	}
	return out
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
