package generation

import (
	"context"
	"time"
)

// SafetyRating is the provider's assessment of one harm category.
type SafetyRating struct {
	Category    string `json:"category"`
	Probability string `json:"probability"`
	Blocked     bool   `json:"blocked,omitempty"`
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens    int `json:"prompt_tokens"`
	CandidateTokens int `json:"candidate_tokens"`
	TotalTokens     int `json:"total_tokens"`
}

// Result is the processed outcome of a successful generation call.
type Result struct {
	Content       string         `json:"content"`
	FinishReason  string         `json:"finish_reason,omitempty"`
	SafetyRatings []SafetyRating `json:"safety_ratings,omitempty"`
	Usage         Usage          `json:"usage"`
	Model         string         `json:"model"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Transport performs exactly one network call for a prepared payload.
// This interface is the boundary between the pipeline and the external
// LLM service.
type Transport interface {
	// GenerateContent sends payload and returns the processed result. Errors
	// should carry a human-readable message suitable for Classify and wrap one
	// of the package's sentinel errors where the adapter can tell.
	GenerateContent(ctx context.Context, payload Payload) (Result, error)
}

// TransportFunc adapts an ordinary function to the Transport interface.
type TransportFunc func(ctx context.Context, payload Payload) (Result, error)

// GenerateContent calls f(ctx, payload).
func (f TransportFunc) GenerateContent(ctx context.Context, payload Payload) (Result, error) {
	return f(ctx, payload)
}
