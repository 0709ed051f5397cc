package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/phrazzld/chatrelay/internal/config"
	"github.com/phrazzld/chatrelay/internal/generation"
)

// apiKeyFormat is the shape of keys issued by Google AI Studio.
var apiKeyFormat = regexp.MustCompile(`^AIza[0-9A-Za-z_-]{35}$`)

// ValidAPIKeyFormat reports whether key looks like a Gemini API key. A key
// can have the right shape and still be rejected by the API; Verify checks that.
func ValidAPIKeyFormat(key string) bool {
	return apiKeyFormat.MatchString(key)
}

// validateConfig checks the settings the transport cannot work without and
// falls back to defaults for the ones it can.
func validateConfig(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (config.LLMConfig, error) {
	if cfg.GeminiAPIKey == "" {
		logger.ErrorContext(ctx, "missing Gemini API key")
		return cfg, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}

	if cfg.Model == "" {
		logger.ErrorContext(ctx, "missing Gemini model name")
		return cfg, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	if !ValidAPIKeyFormat(cfg.GeminiAPIKey) {
		// Proxies and test servers accept other shapes, so this is not fatal.
		logger.WarnContext(ctx, "Gemini API key does not match the expected format")
	}

	if cfg.RequestTimeout < 0 {
		logger.WarnContext(ctx, "negative request timeout, calls will not time out",
			"value", cfg.RequestTimeout)
		cfg.RequestTimeout = 0
	}

	return cfg, nil
}
