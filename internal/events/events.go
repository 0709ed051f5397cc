package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a step in a request's life.
type EventType string

// Event types emitted by the request pipeline.
const (
	RequestQueued         EventType = "request.queued"
	RequestCacheHit       EventType = "request.cache_hit"
	RequestRateLimited    EventType = "request.rate_limited"
	RequestAttempt        EventType = "request.attempt"
	RequestRetryScheduled EventType = "request.retry_scheduled"
	RequestSucceeded      EventType = "request.succeeded"
	RequestFailed         EventType = "request.failed"
	StatsPersisted        EventType = "stats.persisted"
)

// Event describes one observable step of the pipeline. Fields that do not
// apply to a given type are left at their zero value.
type Event struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type indicates what happened
	Type EventType `json:"type"`

	// RequestID is the pipeline request this event belongs to, if any
	RequestID uuid.UUID `json:"request_id"`

	// Attempt is the 1-based attempt number for attempt, retry and settle events
	Attempt int `json:"attempt,omitempty"`

	// Delay is the wait imposed by the rate window or the retry backoff
	Delay time.Duration `json:"delay,omitempty"`

	// Latency is the duration of the network call for attempt outcomes
	Latency time.Duration `json:"latency,omitempty"`

	// Tokens is the total token usage reported for a successful call
	Tokens int `json:"tokens,omitempty"`

	// Kind is the error classification for failures and scheduled retries
	Kind string `json:"kind,omitempty"`

	// Error is the redacted failure message
	Error string `json:"error,omitempty"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// NewEvent creates an Event of the given type for a request.
func NewEvent(eventType EventType, requestID uuid.UUID) *Event {
	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		RequestID: requestID,
		CreatedAt: time.Now(),
	}
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *Event) error
}

// EventHandlerFunc adapts an ordinary function to the EventHandler interface.
type EventHandlerFunc func(ctx context.Context, event *Event) error

// HandleEvent calls f(ctx, event).
func (f EventHandlerFunc) HandleEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows the pipeline to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *Event) error
}

// NopEmitter discards every event.
type NopEmitter struct{}

// EmitEvent implements EventEmitter.
func (NopEmitter) EmitEvent(context.Context, *Event) error { return nil }
