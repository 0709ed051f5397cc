package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Pipeline PipelineConfig `mapstructure:"pipeline" validate:"required"`
	Storage  StorageConfig  `mapstructure:"storage" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat       string        `mapstructure:"log_format" validate:"required,oneof=json text"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// LLMConfig contains the Gemini integration settings and the generation
// parameters applied when a request leaves them unset.
type LLMConfig struct {
	// GeminiAPIKey may be empty when the key is kept in the credential vault.
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	Model        string `mapstructure:"model" validate:"required"`
	BaseURL      string `mapstructure:"base_url" validate:"omitempty,url"`
	// RequestTimeout bounds a single Gemini call. Zero leaves the call
	// unbounded; only retry and backoff timing is limited then.
	RequestTimeout  time.Duration `mapstructure:"request_timeout" validate:"gte=0"`
	MaxOutputTokens int           `mapstructure:"max_output_tokens" validate:"gte=1,lte=8192"`
	Temperature     float64       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	TopP            float64       `mapstructure:"top_p" validate:"gte=0,lte=1"`
	TopK            int           `mapstructure:"top_k" validate:"gte=1,lte=40"`
}

// PipelineConfig contains the request pipeline limits.
type PipelineConfig struct {
	RateLimit         int           `mapstructure:"rate_limit" validate:"gt=0"`
	RateWindow        time.Duration `mapstructure:"rate_window" validate:"gt=0"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay" validate:"gte=0"`
	CacheSize         int           `mapstructure:"cache_size" validate:"gt=0"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
	StatsPersistEvery int           `mapstructure:"stats_persist_every" validate:"gt=0"`
}

// StorageConfig selects where statistics and the sealed API key live.
type StorageConfig struct {
	Backend     string `mapstructure:"backend" validate:"required,oneof=memory redis postgres"`
	RedisURL    string `mapstructure:"redis_url" validate:"required_if=Backend redis,omitempty,url"`
	RedisPrefix string `mapstructure:"redis_prefix"`
	DatabaseURL string `mapstructure:"database_url" validate:"required_if=Backend postgres,omitempty,url"`
	// VaultSecret seals the stored API key; the vault is disabled when empty.
	VaultSecret string `mapstructure:"vault_secret" validate:"omitempty,min=16"`
}
