package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/chatrelay/internal/generation"
	"github.com/phrazzld/chatrelay/internal/pipeline"
)

// StatusClientClosedRequest is returned when the client went away before its
// request settled. Nobody reads the body; the code keeps such requests out of
// the 5xx error rate.
const StatusClientClosedRequest = 499

// MapErrorToStatusCode maps pipeline and generation errors to HTTP status
// codes. This prevents leaking internal error types or messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, generation.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, generation.ErrContentBlocked):
		return http.StatusUnprocessableEntity
	case errors.Is(err, generation.ErrInvalidResponse):
		return http.StatusBadGateway
	case errors.Is(err, generation.ErrTransientFailure),
		errors.Is(err, pipeline.ErrPipelineClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, generation.ErrInvalidConfig):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	}

	// Upstream rejections without a sentinel, e.g. an unexpected 4xx.
	var reqErr *pipeline.RequestError
	if errors.As(err, &reqErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, generation.ErrInvalidRequest):
		return "Invalid generation request"
	case errors.Is(err, generation.ErrContentBlocked):
		return "The response was blocked by content safety filters"
	case errors.Is(err, generation.ErrInvalidResponse):
		return "The language model returned an empty or malformed response"
	case errors.Is(err, generation.ErrTransientFailure):
		return "The language model is temporarily unavailable, try again later"
	case errors.Is(err, pipeline.ErrPipelineClosed):
		return "The service is shutting down"
	case errors.Is(err, generation.ErrInvalidConfig):
		return "Generation service is not configured"
	case errors.Is(err, context.DeadlineExceeded):
		return "Timed out waiting for the language model"
	case errors.Is(err, context.Canceled):
		return "Request cancelled"
	}

	var reqErr *pipeline.RequestError
	if errors.As(err, &reqErr) {
		return "The language model rejected the request"
	}
	return "An unexpected error occurred"
}

// SanitizeValidationError turns validator errors into a message naming the
// offending JSON field and rule, without echoing the submitted value.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Validation error"
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("Invalid %s: %s", fieldPath(fe), getValidationTagMessage(fe.Tag())))
	}
	return strings.Join(msgs, "; ")
}

// fieldPath renders the namespace without the top-level struct name, e.g.
// "history[0].role".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
