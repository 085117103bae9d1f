// Package config implements the three-layer configuration pattern used
// throughout the framework: hardcoded defaults, then environment variable
// overrides, then functional options applied last by the caller.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the process-wide configuration surface named in spec §6.
type Config struct {
	Server   ServerConfig
	LLM      LLMConfig
	Insurer  InsurerConfig
	Payment  PaymentConfig
	OCR      OCRConfig
	Voice    VoiceConfig
	RAG      RAGConfig
	Retry    RetryConfig
	Redis    RedisConfig
	TripDurationMaxDays int
	QuoteTTL            time.Duration
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Name string
	Port int
}

// LLMConfig configures the chat/extraction LLM provider, mirroring
// ai.AIConfig's shape.
type LLMConfig struct {
	Provider   string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// InsurerConfig configures the INS adapter's base URL and credentials.
type InsurerConfig struct {
	BaseURL          string
	APIKey           string
	Market           string
	PerAttemptDeadline time.Duration
	OverallDeadline    time.Duration
}

// PaymentConfig configures webhook signature verification.
type PaymentConfig struct {
	WebhookSigningSecret string
}

// OCRConfig configures the document pipeline's OCR stage.
type OCRConfig struct {
	EnginePath string
	MaxFileSizeMB int
}

// VoiceConfig configures VOX's size/length limits and default voice.
type VoiceConfig struct {
	DefaultVoiceID string
	LanguageCode   string
	AudioMaxMB     int
	TTSMaxChars    int
}

// RAGConfig configures chunking/embedding/vector-store parameters.
type RAGConfig struct {
	EmbeddingProviderKey string
	StorePath            string
	ChunkTokens          int
	ChunkOverlapTokens   int
}

// RetryConfig mirrors resilience.RetryConfig's fields for components that
// need their own copy independent of the shared resilience package default.
type RetryConfig struct {
	MaxAttempts int
}

// RedisConfig configures the session/quote stores.
type RedisConfig struct {
	URL string
}

// DefaultConfig returns the hardcoded defaults named in spec §6.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name: "travel-insurance-assistant",
			Port: 8080,
		},
		LLM: LLMConfig{
			Provider:   "openai",
			Model:      "gpt-4",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		Insurer: InsurerConfig{
			Market:             "SG",
			PerAttemptDeadline: 10 * time.Second,
			OverallDeadline:    30 * time.Second,
		},
		OCR: OCRConfig{
			MaxFileSizeMB: 10,
		},
		Voice: VoiceConfig{
			LanguageCode: "en-US",
			AudioMaxMB:   5,
			TTSMaxChars:  5000,
		},
		RAG: RAGConfig{
			StorePath:          "./data/policy-chunks.db",
			ChunkTokens:        400,
			ChunkOverlapTokens: 50,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379",
		},
		TripDurationMaxDays: 182,
		QuoteTTL:            24 * time.Hour,
	}
}

// LoadFromEnv overlays environment variables onto cfg: TRAVEL_-prefixed
// variables plus REDIS_URL.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("TRAVEL_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("TRAVEL_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("TRAVEL_EMBEDDING_API_KEY"); v != "" {
		c.RAG.EmbeddingProviderKey = v
	}
	if v := os.Getenv("TRAVEL_OCR_ENGINE_PATH"); v != "" {
		c.OCR.EnginePath = v
	}
	if v := os.Getenv("TRAVEL_INSURER_API_KEY"); v != "" {
		c.Insurer.APIKey = v
	}
	if v := os.Getenv("TRAVEL_INSURER_BASE_URL"); v != "" {
		c.Insurer.BaseURL = v
	}
	if v := os.Getenv("TRAVEL_PAYMENT_WEBHOOK_SECRET"); v != "" {
		c.Payment.WebhookSigningSecret = v
	}
	if v := os.Getenv("TRAVEL_VOICE_DEFAULT_ID"); v != "" {
		c.Voice.DefaultVoiceID = v
	}
	if v := os.Getenv("TRAVEL_LANGUAGE_CODE"); v != "" {
		c.Voice.LanguageCode = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("TRAVEL_TRIP_DURATION_MAX_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid TRAVEL_TRIP_DURATION_MAX_DAYS: %w", err)
		}
		c.TripDurationMaxDays = n
	}
	if v := os.Getenv("TRAVEL_RETRY_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid TRAVEL_RETRY_MAX_ATTEMPTS: %w", err)
		}
		c.Retry.MaxAttempts = n
	}
	return nil
}

// Validate enforces that configuration required for the process to do
// anything useful is present — the required keys enumerated in spec §6.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("missing required configuration: LLM provider API key")
	}
	if c.Insurer.APIKey == "" || c.Insurer.BaseURL == "" {
		return fmt.Errorf("missing required configuration: insurer API key and base URL")
	}
	if c.Payment.WebhookSigningSecret == "" {
		return fmt.Errorf("missing required configuration: payment webhook signing secret")
	}
	return nil
}

// Option customizes a Config after defaults and environment overrides have
// been applied, per the three-layer pattern.
type Option func(*Config)

// WithLLM sets the LLM provider and API key.
func WithLLM(provider, apiKey string) Option {
	return func(c *Config) {
		c.LLM.Provider = provider
		c.LLM.APIKey = apiKey
	}
}

// WithInsurer sets the insurer base URL and API key.
func WithInsurer(baseURL, apiKey, market string) Option {
	return func(c *Config) {
		c.Insurer.BaseURL = baseURL
		c.Insurer.APIKey = apiKey
		if market != "" {
			c.Insurer.Market = market
		}
	}
}

// WithPaymentWebhookSecret sets the payment webhook signing secret.
func WithPaymentWebhookSecret(secret string) Option {
	return func(c *Config) { c.Payment.WebhookSigningSecret = secret }
}

// WithRedisURL overrides the Redis connection string.
func WithRedisURL(url string) Option {
	return func(c *Config) { c.Redis.URL = url }
}

// WithPort overrides the HTTP listener port.
func WithPort(port int) Option {
	return func(c *Config) { c.Server.Port = port }
}

// NewConfig builds a Config by layering defaults, then environment
// variables, then the supplied options, validating the result.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
