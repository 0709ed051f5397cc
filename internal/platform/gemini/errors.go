package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/phrazzld/chatrelay/internal/generation"
	"google.golang.org/genai"
)

// translateError maps a genai client error onto the generation taxonomy.
func translateError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return translateAPIError(apiErr)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return translateAPIError(*apiErrPtr)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: request timeout: %w", generation.ErrTransientFailure, err)
	case errors.Is(err, context.Canceled):
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: network error: %w", generation.ErrTransientFailure, err)
	}
	return fmt.Errorf("gemini call failed: %w", err)
}

func translateAPIError(apiErr genai.APIError) error {
	msg := fmt.Sprintf("API request failed: %d %s - %s", apiErr.Code, apiErr.Status, apiErr.Message)

	switch {
	case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", generation.ErrTransientFailure, msg)
	case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", generation.ErrInvalidConfig, msg)
	case apiErr.Code == http.StatusBadRequest && isKeyProblem(apiErr):
		return fmt.Errorf("%w: %s", generation.ErrInvalidConfig, msg)
	case apiErr.Code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", generation.ErrInvalidConfig, msg)
	case apiErr.Code == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", generation.ErrInvalidRequest, msg)
	default:
		return errors.New(msg)
	}
}

func isKeyProblem(apiErr genai.APIError) bool {
	return strings.Contains(strings.ToLower(apiErr.Message), "api key") ||
		apiErr.Status == "UNAUTHENTICATED" ||
		apiErr.Status == "PERMISSION_DENIED"
}
