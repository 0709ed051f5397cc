package gemini

import (
	"fmt"
	"strings"

	"github.com/phrazzld/chatrelay/internal/generation"
	"google.golang.org/genai"
)

const finishReasonSafety = "SAFETY"

func toContents(payload generation.Payload) []*genai.Content {
	contents := make([]*genai.Content, 0, len(payload.Contents))
	for _, c := range payload.Contents {
		contents = append(contents, &genai.Content{
			Role:  c.Role,
			Parts: []*genai.Part{{Text: c.Text}},
		})
	}
	return contents
}

func toGenerateConfig(payload generation.Payload) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(payload.Config.MaxOutputTokens),
		Temperature:     genai.Ptr(float32(payload.Config.Temperature)),
		TopP:            genai.Ptr(float32(payload.Config.TopP)),
		TopK:            genai.Ptr(float32(payload.Config.TopK)),
	}

	if payload.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: payload.SystemInstruction}},
		}
	}

	for _, s := range payload.SafetySettings {
		cfg.SafetySettings = append(cfg.SafetySettings, &genai.SafetySetting{
			Category:  genai.HarmCategory(s.Category),
			Threshold: genai.HarmBlockThreshold(s.Threshold),
		})
	}
	return cfg
}

// toResult extracts the first candidate's text. Blocked prompts and
// candidates stopped by the safety filter are reported as ErrContentBlocked;
// anything else without text is an invalid response.
func toResult(resp *genai.GenerateContentResponse, model string) (generation.Result, error) {
	if resp == nil {
		return generation.Result{}, fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return generation.Result{}, fmt.Errorf("%w: prompt blocked: %s",
			generation.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return generation.Result{}, fmt.Errorf("%w: no candidates in response", generation.ErrInvalidResponse)
	}
	candidate := resp.Candidates[0]

	if string(candidate.FinishReason) == finishReasonSafety {
		return generation.Result{}, fmt.Errorf("%w: content blocked by safety filters", generation.ErrContentBlocked)
	}

	if candidate.Content == nil {
		return generation.Result{}, fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}
	if text.Len() == 0 {
		return generation.Result{}, fmt.Errorf("%w: response contains no text", generation.ErrInvalidResponse)
	}

	result := generation.Result{
		Content:      text.String(),
		FinishReason: string(candidate.FinishReason),
		Model:        model,
	}
	if resp.ModelVersion != "" {
		result.Model = resp.ModelVersion
	}

	for _, rating := range candidate.SafetyRatings {
		if rating == nil {
			continue
		}
		result.SafetyRatings = append(result.SafetyRatings, generation.SafetyRating{
			Category:    string(rating.Category),
			Probability: string(rating.Probability),
			Blocked:     rating.Blocked,
		})
	}

	if usage := resp.UsageMetadata; usage != nil {
		result.Usage = generation.Usage{
			PromptTokens:    int(usage.PromptTokenCount),
			CandidateTokens: int(usage.CandidatesTokenCount),
			TotalTokens:     int(usage.TotalTokenCount),
		}
	}
	return result, nil
}
