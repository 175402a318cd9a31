package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "LOG_LEVEL", "LLM_PROVIDER", "SESSION_TTL", "HISTORY_WINDOW", "GENERATION_TIMEOUT", "GENERATION_MAX_RETRIES", "REDIS_URL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.Server.Addr)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, ProviderArk, cfg.AI.Provider)
	assert.Equal(t, 11, cfg.Session.HistoryWindow)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 10, cfg.Session.AutoMaxMessages)
	assert.Equal(t, 30*time.Second, cfg.AI.Timeout)
	assert.Equal(t, 3, cfg.AI.MaxRetries)
	assert.Empty(t, cfg.Session.RedisURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LLM_PROVIDER", "Gemini")
	t.Setenv("GEMINI_PROJECT", "fire-sim")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("HISTORY_WINDOW", "9")
	t.Setenv("GENERATION_MAX_RETRIES", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, ProviderGemini, cfg.AI.Provider)
	assert.True(t, cfg.AI.Enabled())
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, 9, cfg.Session.HistoryWindow)
	assert.Equal(t, 1, cfg.AI.MaxRetries)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":           "80 80",
		"LOG_LEVEL":      "loud",
		"LLM_PROVIDER":   "openai",
		"SESSION_TTL":    "forever",
		"HISTORY_WINDOW": "0",
		"ARK_TOP_P":      "high",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestArkEnabledRequiresCredentials(t *testing.T) {
	cfg := AIConfig{Provider: ProviderArk, Model: "ep-123"}
	assert.False(t, cfg.Enabled())

	cfg.APIKey = "key"
	assert.True(t, cfg.Enabled())

	cfg = AIConfig{Provider: ProviderArk, Model: "ep-123", AccessKey: "ak"}
	assert.False(t, cfg.Enabled())
	cfg.SecretKey = "sk"
	assert.True(t, cfg.Enabled())
}
