package generation

import "errors"

// Common errors returned by the generation package and its adapters.
var (
	// ErrInvalidRequest is returned when the caller's request cannot be prepared.
	ErrInvalidRequest = errors.New("invalid generation request")

	// ErrInvalidResponse is returned when the LLM response is structurally empty
	// or cannot be parsed. Retrying will not fix it.
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrContentBlocked is returned when the provider declines to answer
	// because of its safety policy.
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrTransientFailure is returned for temporary errors that might resolve on retry.
	ErrTransientFailure = errors.New("transient error during content generation")

	// ErrInvalidConfig is returned when the credential or adapter configuration is
	// missing or rejected by the provider.
	ErrInvalidConfig = errors.New("invalid generator configuration")
)
