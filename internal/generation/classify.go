package generation

import (
	"context"
	"errors"
	"strings"
)

// Kind is the classification of a failed generation attempt.
type Kind string

const (
	KindConfig    Kind = "config"
	KindTransient Kind = "transient"
	KindResponse  Kind = "malformed_response"
	KindSafety    Kind = "safety"
	KindRequest   Kind = "invalid_request"
	KindPermanent Kind = "permanent"
)

// retryableMarkers are matched case-insensitively against an error's message.
var retryableMarkers = []string{
	"network error",
	"timeout",
	"rate limit",
	"server error",
	"429",
	"500",
	"502",
	"503",
	"504",
}

// Classify sorts err into one of the taxonomy kinds. Sentinel errors decide
// first; anything else is transient only if its message carries one of the
// retryable markers.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidConfig):
		return KindConfig
	case errors.Is(err, ErrContentBlocked):
		return KindSafety
	case errors.Is(err, ErrInvalidResponse):
		return KindResponse
	case errors.Is(err, ErrInvalidRequest):
		return KindRequest
	case errors.Is(err, ErrTransientFailure), errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	case errors.Is(err, context.Canceled):
		return KindPermanent
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return KindTransient
		}
	}
	return KindPermanent
}

// IsRetryable reports whether another attempt could succeed.
func IsRetryable(err error) bool {
	return Classify(err) == KindTransient
}
