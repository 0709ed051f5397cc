package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the loader reads,
// e.g. CHATRELAY_LLM_GEMINI_API_KEY for llm.gemini_api_key.
const EnvPrefix = "CHATRELAY"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config validation failed")

// Load reads configuration from defaults, the optional configFile and the
// environment. Environment variables take precedence over values from the
// file. Returns a populated Config or an error if loading or validation fails.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.model", "gemini-1.5-flash")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.request_timeout", time.Duration(0))
	v.SetDefault("llm.max_output_tokens", 8192)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.top_p", 0.8)
	v.SetDefault("llm.top_k", 40)

	v.SetDefault("pipeline.rate_limit", 60)
	v.SetDefault("pipeline.rate_window", time.Minute)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.retry_base_delay", time.Second)
	v.SetDefault("pipeline.cache_size", 100)
	v.SetDefault("pipeline.cache_ttl", time.Duration(0))
	v.SetDefault("pipeline.stats_persist_every", 10)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.redis_url", "")
	v.SetDefault("storage.redis_prefix", "chatrelay:")
	v.SetDefault("storage.database_url", "")
	v.SetDefault("storage.vault_secret", "")
}
