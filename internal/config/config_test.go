package config

import (
	"testing"

	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_HOST", "clickhouse.internal")
	t.Setenv("STORE_PASSWORD", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "clickhouse.internal", cfg.Store.Host)
	assert.Equal(t, 9000, cfg.Store.Port)
	assert.Equal(t, 30, cfg.Store.TimeoutSeconds)
	assert.Equal(t, domain.SeverityLow, cfg.AlertMinSeverity)
	assert.Equal(t, 24, cfg.AlertDedupTTLHours)
	assert.Equal(t, 300, cfg.SchedulerIntervalSeconds)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty host", func(c *Config) { c.Store.Host = "" }},
		{"port out of range", func(c *Config) { c.Store.Port = 70000 }},
		{"zero timeout", func(c *Config) { c.Store.TimeoutSeconds = 0 }},
		{"zero dedup ttl", func(c *Config) { c.AlertDedupTTLHours = 0 }},
		{"sub-minute scheduler", func(c *Config) { c.SchedulerIntervalSeconds = 5 }},
		{"empty market api url", func(c *Config) { c.MarketAPIURL = "" }},
		{"bot token without chat id", func(c *Config) { c.BotToken = "123:abc"; c.BotChatID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseSeverityFromEnv(t *testing.T) {
	t.Setenv("ALERT_MIN_SEVERITY", "HIGH")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityHigh, cfg.AlertMinSeverity)

	t.Setenv("ALERT_MIN_SEVERITY", "nonsense")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityLow, cfg.AlertMinSeverity)
}

func TestWebhookEndpointsMergesAndDedupes(t *testing.T) {
	cfg := validConfig()
	cfg.WebhookURL = "https://a.example/hook"
	cfg.WebhookURLs = []string{"https://a.example/hook", "https://b.example/hook", ""}

	assert.Equal(t, []string{"https://a.example/hook", "https://b.example/hook"}, cfg.WebhookEndpoints())
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList(" a , b ,"))
}

func validConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Host:           "localhost",
			Port:           9000,
			Database:       "default",
			User:           "default",
			TimeoutSeconds: 30,
		},
		MarketAPIURL:             "https://gamma-api.polymarket.com",
		AlertMinSeverity:         domain.SeverityLow,
		AlertDedupTTLHours:       24,
		SchedulerIntervalSeconds: 300,
		LogLevel:                 "info",
	}
}
