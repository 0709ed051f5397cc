package api

import (
	"time"

	"github.com/phrazzld/chatrelay/internal/generation"
	"github.com/phrazzld/chatrelay/internal/pipeline"
)

// MaxMessageLength is the longest message, in characters, a client may send.
const MaxMessageLength = 4000

// TurnRequest is one earlier conversation turn.
type TurnRequest struct {
	Role string `json:"role" validate:"required,oneof=user model"`
	Text string `json:"text" validate:"required"`
}

// GenerateRequest is the body of POST /v1/generate. Generation parameters
// outside their valid ranges are clamped, not rejected.
type GenerateRequest struct {
	Message         string        `json:"message"            validate:"required,max=4000"`
	SystemPrompt    string        `json:"system_prompt"`
	Model           string        `json:"model"`
	History         []TurnRequest `json:"history"            validate:"omitempty,max=100,dive"`
	MaxOutputTokens *int          `json:"max_output_tokens"`
	Temperature     *float64      `json:"temperature"`
	TopP            *float64      `json:"top_p"`
	TopK            *int          `json:"top_k"`
	BypassCache     bool          `json:"bypass_cache"`
}

// toGenerationRequest converts the DTO into the pipeline's request type.
func (r GenerateRequest) toGenerationRequest() generation.Request {
	var history []generation.Turn
	if len(r.History) > 0 {
		history = make([]generation.Turn, len(r.History))
		for i, turn := range r.History {
			history[i] = generation.Turn{Role: turn.Role, Text: turn.Text}
		}
	}
	return generation.Request{
		Message:         r.Message,
		SystemPrompt:    r.SystemPrompt,
		Model:           r.Model,
		History:         history,
		MaxOutputTokens: r.MaxOutputTokens,
		Temperature:     r.Temperature,
		TopP:            r.TopP,
		TopK:            r.TopK,
		BypassCache:     r.BypassCache,
	}
}

// GenerateResponse is the body of a successful POST /v1/generate.
type GenerateResponse struct {
	Content       string                    `json:"content"`
	Model         string                    `json:"model"`
	FinishReason  string                    `json:"finish_reason,omitempty"`
	SafetyRatings []generation.SafetyRating `json:"safety_ratings,omitempty"`
	Usage         generation.Usage          `json:"usage"`
	CreatedAt     time.Time                 `json:"created_at"`
}

func resultToResponse(result generation.Result) GenerateResponse {
	return GenerateResponse{
		Content:       result.Content,
		Model:         result.Model,
		FinishReason:  result.FinishReason,
		SafetyRatings: result.SafetyRatings,
		Usage:         result.Usage,
		CreatedAt:     result.CreatedAt,
	}
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	Statistics pipeline.Statistics `json:"statistics"`
	Status     pipeline.Status     `json:"status"`
}

// CacheClearedResponse is the body of DELETE /v1/cache.
type CacheClearedResponse struct {
	Cleared int `json:"cleared"`
}
