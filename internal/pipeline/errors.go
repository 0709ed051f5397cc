package pipeline

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/phrazzld/chatrelay/internal/generation"
)

// ErrPipelineClosed is returned for requests submitted to, or still queued in,
// a pipeline that has been closed.
var ErrPipelineClosed = errors.New("request pipeline is closed")

// RequestError is the terminal failure of a queued request. It unwraps to the
// transport error, so errors.Is against the generation sentinels still works.
type RequestError struct {
	RequestID uuid.UUID
	Kind      generation.Kind
	Attempts  int
	Err       error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed after %d attempt(s) [%s]: %v", e.Attempts, e.Kind, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
