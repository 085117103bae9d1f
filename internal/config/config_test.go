package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "travel-insurance-assistant", cfg.Server.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 182, cfg.TripDurationMaxDays)
	assert.Equal(t, 24*time.Hour, cfg.QuoteTTL)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.Voice.AudioMaxMB)
	assert.Equal(t, 5000, cfg.Voice.TTSMaxChars)
	assert.Equal(t, 400, cfg.RAG.ChunkTokens)
	assert.Equal(t, 50, cfg.RAG.ChunkOverlapTokens)
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("TRAVEL_LLM_API_KEY", "sk-test")
	t.Setenv("TRAVEL_INSURER_API_KEY", "ins-test")
	t.Setenv("TRAVEL_INSURER_BASE_URL", "https://insurer.example.test")
	t.Setenv("TRAVEL_PAYMENT_WEBHOOK_SECRET", "whsec-test")
	t.Setenv("TRAVEL_TRIP_DURATION_MAX_DAYS", "90")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "ins-test", cfg.Insurer.APIKey)
	assert.Equal(t, "https://insurer.example.test", cfg.Insurer.BaseURL)
	assert.Equal(t, "whsec-test", cfg.Payment.WebhookSigningSecret)
	assert.Equal(t, 90, cfg.TripDurationMaxDays)
}

func TestNewConfigValidatesRequiredKeys(t *testing.T) {
	_, err := NewConfig()
	assert.Error(t, err)

	cfg, err := NewConfig(
		WithLLM("openai", "sk-test"),
		WithInsurer("https://insurer.example.test", "ins-test", "SG"),
	)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestNewConfigSucceedsWithOptions(t *testing.T) {
	cfg, err := NewConfig(
		WithLLM("openai", "sk-test"),
		WithInsurer("https://insurer.example.test", "ins-test", "SG"),
		WithPaymentWebhookSecret("whsec-test"),
		WithPort(9090),
	)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "whsec-test", cfg.Payment.WebhookSigningSecret)
}
