package generation

import (
	"fmt"
	"strings"
)

// Parameter bounds accepted by the Gemini API. Values outside these ranges are
// clamped, never rejected.
const (
	MaxOutputTokensCeiling = 8192
	MinTemperature         = 0.0
	MaxTemperature         = 2.0
	MinTopP                = 0.0
	MaxTopP                = 1.0
	MinTopK                = 1
	MaxTopK                = 40
)

// Conversation roles understood by the API.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Turn is one earlier message of a conversation, replayed as context.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Request is a caller's semantic "generate content" request. Nil parameter
// pointers fall back to Defaults.
type Request struct {
	Message         string   `json:"message"`
	SystemPrompt    string   `json:"system_prompt,omitempty"`
	Model           string   `json:"model,omitempty"`
	History         []Turn   `json:"history,omitempty"`
	MaxOutputTokens *int     `json:"max_output_tokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"top_p,omitempty"`
	TopK            *int     `json:"top_k,omitempty"`

	// BypassCache forces a network call even when an identical payload is cached.
	// It is not part of the payload and does not affect the fingerprint.
	BypassCache bool `json:"skip_cache,omitempty"`
}

// Defaults holds the generation parameters applied when a request omits them.
type Defaults struct {
	Model           string
	MaxOutputTokens int
	Temperature     float64
	TopP            float64
	TopK            int
}

// DefaultDefaults returns the parameters the original chat client shipped with.
func DefaultDefaults() Defaults {
	return Defaults{
		Model:           "gemini-1.5-flash",
		MaxOutputTokens: MaxOutputTokensCeiling,
		Temperature:     0.7,
		TopP:            0.8,
		TopK:            MaxTopK,
	}
}

// Prepare resolves defaults, clamps every parameter to its safe range and
// builds the wire payload for req.
func Prepare(req Request, defaults Defaults) (Payload, error) {
	if strings.TrimSpace(req.Message) == "" {
		return Payload{}, fmt.Errorf("%w: message cannot be empty", ErrInvalidRequest)
	}

	model := req.Model
	if model == "" {
		model = defaults.Model
	}
	if model == "" {
		return Payload{}, fmt.Errorf("%w: model cannot be empty", ErrInvalidRequest)
	}

	contents := make([]Content, 0, len(req.History)+1)
	for i, turn := range req.History {
		if turn.Role != RoleUser && turn.Role != RoleModel {
			return Payload{}, fmt.Errorf("%w: history turn %d has unknown role %q", ErrInvalidRequest, i, turn.Role)
		}
		if turn.Text == "" {
			continue
		}
		contents = append(contents, Content{Role: turn.Role, Text: turn.Text})
	}
	contents = append(contents, Content{Role: RoleUser, Text: req.Message})

	cfg := GenerationConfig{
		MaxOutputTokens: clampInt(valueOr(req.MaxOutputTokens, defaults.MaxOutputTokens), 1, MaxOutputTokensCeiling),
		Temperature:     clampFloat(valueOr(req.Temperature, defaults.Temperature), MinTemperature, MaxTemperature),
		TopP:            clampFloat(valueOr(req.TopP, defaults.TopP), MinTopP, MaxTopP),
		TopK:            clampInt(valueOr(req.TopK, defaults.TopK), MinTopK, MaxTopK),
	}

	return Payload{
		Model:             model,
		SystemInstruction: req.SystemPrompt,
		Contents:          contents,
		Config:            cfg,
		SafetySettings:    DefaultSafetySettings(),
	}, nil
}

func valueOr[T any](v *T, fallback T) T {
	if v == nil {
		return fallback
	}
	return *v
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

func clampFloat(v, lo, hi float64) float64 {
	// NaN compares false against everything; pin it to the lower bound.
	if v != v {
		return lo
	}
	return max(lo, min(hi, v))
}
