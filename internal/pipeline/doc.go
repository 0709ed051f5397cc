// Package pipeline implements the outbound request pipeline that turns a
// content-generation request into exactly one settled result.
//
// A Pipeline owns all of its state: the FIFO queue, the sliding-window rate
// limiter, the bounded response cache and the rolling statistics. Several
// pipelines can coexist in one process (tests rely on this).
//
// Requests are serviced by a single drain goroutine, so at most one network
// call is in flight. The goroutine starts when the first request is queued and
// exits once the queue is empty. Before each attempt it waits for capacity in
// the rate window; a transient failure is retried after a linear backoff and
// goes back to the front of the queue, ahead of requests that arrived later.
package pipeline
