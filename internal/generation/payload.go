package generation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Safety categories and the threshold applied to each of them.
const (
	HarmCategoryHarassment       = "HARM_CATEGORY_HARASSMENT"
	HarmCategoryHateSpeech       = "HARM_CATEGORY_HATE_SPEECH"
	HarmCategorySexuallyExplicit = "HARM_CATEGORY_SEXUALLY_EXPLICIT"
	HarmCategoryDangerousContent = "HARM_CATEGORY_DANGEROUS_CONTENT"

	BlockMediumAndAbove = "BLOCK_MEDIUM_AND_ABOVE"
)

// Content is a single message of the prepared conversation.
type Content struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// GenerationConfig holds the resolved, clamped sampling parameters.
type GenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens"`
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
}

// SafetySetting is a harm category and the threshold at which content is blocked.
type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// Payload is the fully prepared request body. Two payloads with the same
// fingerprint are interchangeable.
type Payload struct {
	Model             string           `json:"model"`
	SystemInstruction string           `json:"systemInstruction,omitempty"`
	Contents          []Content        `json:"contents"`
	Config            GenerationConfig `json:"generationConfig"`
	SafetySettings    []SafetySetting  `json:"safetySettings"`
}

// DefaultSafetySettings blocks medium-or-higher probability harm in every category.
func DefaultSafetySettings() []SafetySetting {
	return []SafetySetting{
		{Category: HarmCategoryHarassment, Threshold: BlockMediumAndAbove},
		{Category: HarmCategoryHateSpeech, Threshold: BlockMediumAndAbove},
		{Category: HarmCategorySexuallyExplicit, Threshold: BlockMediumAndAbove},
		{Category: HarmCategoryDangerousContent, Threshold: BlockMediumAndAbove},
	}
}

// Fingerprint returns a deterministic key for the payload: the hex SHA-256 of
// its complete JSON serialization. Struct field order makes encoding/json
// output stable, so equal payloads always collide and distinct ones do not.
func (p Payload) Fingerprint() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to serialize payload: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// ProbePayload is the minimal request used to check that a credential works.
func ProbePayload(model string) Payload {
	return Payload{
		Model: model,
		Contents: []Content{{
			Role: RoleUser,
			Text: `Hello, this is a test message. Please respond with "API key is valid".`,
		}},
		Config: GenerationConfig{
			MaxOutputTokens: 20,
			Temperature:     0.1,
			TopP:            DefaultDefaults().TopP,
			TopK:            MaxTopK,
		},
		SafetySettings: DefaultSafetySettings(),
	}
}
