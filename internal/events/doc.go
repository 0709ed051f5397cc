// Package events provides the typed observer used by the request pipeline.
//
// The pipeline emits an Event at each step of a request's life (queued, cache
// hit, rate-limited, attempted, retry scheduled, settled). Handlers such as the
// prometheus collector register with an EventEmitter that is passed to the
// pipeline at construction, so no component relies on a global event bus.
//
// The primary components are:
// - Event: what happened to which request, with timing and token details
// - EventHandler: Interface for components that can handle events
// - EventEmitter: Interface for components that can emit events
package events
