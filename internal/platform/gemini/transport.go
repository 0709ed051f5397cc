package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/chatrelay/internal/config"
	"github.com/phrazzld/chatrelay/internal/generation"
	"google.golang.org/genai"
)

// Transport sends prepared payloads to the Gemini API.
type Transport struct {
	logger  *slog.Logger
	client  *genai.Client
	timeout time.Duration
}

var _ generation.Transport = (*Transport)(nil)

// NewTransport validates cfg and creates the underlying genai client.
// It does not contact the API; call Verify for that.
func NewTransport(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gemini_transport")

	cfg, err := validateConfig(ctx, logger, cfg)
	if err != nil {
		return nil, err
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v",
			generation.ErrInvalidConfig, err)
	}

	logger.InfoContext(ctx, "Gemini transport initialized",
		"model", cfg.Model,
		"custom_base_url", cfg.BaseURL != "",
		"request_timeout", cfg.RequestTimeout)

	return &Transport{
		logger:  logger,
		client:  client,
		timeout: cfg.RequestTimeout,
	}, nil
}

// GenerateContent performs one GenerateContent call for payload.
func (t *Transport) GenerateContent(ctx context.Context, payload generation.Payload) (generation.Result, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	t.logger.DebugContext(ctx, "calling Gemini API",
		"model", payload.Model,
		"contents", len(payload.Contents),
		"max_output_tokens", payload.Config.MaxOutputTokens)

	resp, err := t.client.Models.GenerateContent(ctx, payload.Model, toContents(payload), toGenerateConfig(payload))
	if err != nil {
		return generation.Result{}, translateError(err)
	}

	result, err := toResult(resp, payload.Model)
	if err != nil {
		return generation.Result{}, err
	}
	result.CreatedAt = time.Now()

	t.logger.DebugContext(ctx, "Gemini API call successful",
		"model", result.Model,
		"finish_reason", result.FinishReason,
		"total_tokens", result.Usage.TotalTokens)
	return result, nil
}

// Verify sends the minimal probe request for model and reports whether the
// configured key is accepted.
func (t *Transport) Verify(ctx context.Context, model string) error {
	if _, err := t.GenerateContent(ctx, generation.ProbePayload(model)); err != nil {
		return fmt.Errorf("API key verification failed: %w", err)
	}
	return nil
}
