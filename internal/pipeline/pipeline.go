package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/chatrelay/internal/events"
	"github.com/phrazzld/chatrelay/internal/generation"
	"github.com/phrazzld/chatrelay/internal/redact"
	"github.com/phrazzld/chatrelay/internal/store"
)

// pendingRequest is one queued request. Only the drain goroutine mutates it
// after it has been enqueued.
type pendingRequest struct {
	id         uuid.UUID
	payload    generation.Payload
	key        string
	retries    int
	calls      int
	enqueuedAt time.Time
	done       chan outcome
}

type outcome struct {
	result generation.Result
	err    error
}

// Status is a point-in-time view of the pipeline's moving parts.
type Status struct {
	Queued             int  `json:"queueLength"`
	InFlight           bool `json:"inFlight"`
	CachedResponses    int  `json:"cacheSize"`
	RateLimitRemaining int  `json:"rateLimitRemaining"`
	Closed             bool `json:"closed"`
}

// Pipeline serializes generation requests through a rate-limited, retrying,
// caching drain loop. It is safe for concurrent use.
type Pipeline struct {
	transport generation.Transport
	cfg       Config
	logger    *slog.Logger
	store     store.Store
	emitter   events.EventEmitter
	clock     Clock

	window *RateWindow
	cache  *ResponseCache
	stats  *statsTracker

	// admitMu is held shared while a request is announced and queued and
	// exclusively by Close, so no queued event fires for a rejected request.
	admitMu sync.RWMutex

	mu       sync.Mutex
	queue    []*pendingRequest
	draining bool
	inFlight bool
	closed   bool

	// ctx bounds the drain goroutine; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Pipeline sending through transport. Statistics saved by a
// previous session are loaded from the store when one is configured; a
// missing or unreadable record starts the counters from zero.
func New(ctx context.Context, transport generation.Transport, opts ...Option) (*Pipeline, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: transport cannot be nil", generation.ErrInvalidConfig)
	}

	p := &Pipeline{
		transport: transport,
		cfg:       DefaultConfig(),
		logger:    slog.Default(),
		emitter:   events.NopEmitter{},
		clock:     realClock{},
	}
	for _, opt := range opts {
		opt(p)
	}

	p.logger = p.logger.With("component", "pipeline")
	p.cfg = p.cfg.sanitize(p.logger)

	p.window = NewRateWindow(p.cfg.RateLimit, p.cfg.RateWindow)
	p.cache = NewResponseCache(p.cfg.CacheSize, p.cfg.CacheTTL)
	p.stats = newStatsTracker(p.cfg.StatsPersistEvery)
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.loadStats(ctx)

	p.logger.Info("request pipeline created",
		"rate_limit", p.cfg.RateLimit,
		"rate_window", p.cfg.RateWindow,
		"max_retries", p.cfg.MaxRetries,
		"cache_size", p.cfg.CacheSize)

	return p, nil
}

// Submit prepares req and returns its result, from the cache when an
// identical payload has already succeeded and BypassCache is unset, otherwise
// from the queued network call. ctx only bounds how long the caller waits:
// a request that has been queued runs to completion even if ctx ends first.
func (p *Pipeline) Submit(ctx context.Context, req generation.Request) (generation.Result, error) {
	payload, err := generation.Prepare(req, p.cfg.Defaults)
	if err != nil {
		return generation.Result{}, err
	}
	key, err := payload.Fingerprint()
	if err != nil {
		return generation.Result{}, fmt.Errorf("failed to fingerprint request: %w", err)
	}

	id := uuid.New()

	if !req.BypassCache {
		if result, ok := p.cache.Get(key, p.clock.Now()); ok {
			p.stats.recordCacheHit()
			p.logger.DebugContext(ctx, "serving cached response", "request_id", id, "model", payload.Model)
			p.emit(ctx, p.newEvent(events.RequestCacheHit, id))
			return result, nil
		}
	}

	pending := &pendingRequest{
		id:         id,
		payload:    payload,
		key:        key,
		enqueuedAt: p.clock.Now(),
		done:       make(chan outcome, 1),
	}

	if err := p.admit(ctx, pending); err != nil {
		return generation.Result{}, err
	}

	select {
	case out := <-pending.done:
		return out.result, out.err
	case <-ctx.Done():
		p.logger.DebugContext(ctx, "caller stopped waiting for queued request",
			"request_id", id, "error", ctx.Err())
		return generation.Result{}, ctx.Err()
	}
}

// admit announces req and queues it. The queued event is emitted before the
// drain goroutine can see req and never for a request Close rejects.
func (p *Pipeline) admit(ctx context.Context, req *pendingRequest) error {
	p.admitMu.RLock()
	defer p.admitMu.RUnlock()

	if p.isClosed() {
		return ErrPipelineClosed
	}
	p.emit(ctx, p.newEvent(events.RequestQueued, req.id))
	return p.enqueue(req)
}

// enqueue appends req to the back of the queue and starts the drain
// goroutine if it is idle.
func (p *Pipeline) enqueue(req *pendingRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPipelineClosed
	}
	p.queue = append(p.queue, req)
	if !p.draining {
		p.draining = true
		p.wg.Add(1)
		go p.drain()
	}
	return nil
}

// requeueFront puts a request being retried ahead of everything that arrived
// after it. Returns false if the pipeline closed in the meantime.
func (p *Pipeline) requeueFront(req *pendingRequest) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	p.queue = append([]*pendingRequest{req}, p.queue...)
	return true
}

// next pops the head of the queue, or marks the drain goroutine idle and
// returns nil when the queue is empty.
func (p *Pipeline) next() *pendingRequest {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) == 0 {
		p.draining = false
		p.inFlight = false
		return nil
	}
	req := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	p.inFlight = true
	return req
}

func (p *Pipeline) drain() {
	defer p.wg.Done()
	for {
		req := p.next()
		if req == nil {
			return
		}
		p.process(req)
	}
}

// process performs one attempt for req and settles or requeues it.
func (p *Pipeline) process(req *pendingRequest) {
	ctx := p.ctx
	log := p.logger.With("request_id", req.id, "model", req.payload.Model)

	if ctx.Err() != nil {
		p.settle(req, outcome{err: ErrPipelineClosed})
		return
	}

	if err := p.awaitCapacity(ctx, req); err != nil {
		p.settle(req, outcome{err: ErrPipelineClosed})
		return
	}

	req.calls++
	attempt := p.newEvent(events.RequestAttempt, req.id)
	attempt.Attempt = req.calls
	p.emit(ctx, attempt)

	start := p.clock.Now()
	result, err := p.transport.GenerateContent(ctx, req.payload)
	latency := p.clock.Now().Sub(start)

	if err == nil {
		p.succeed(ctx, req, result, latency)
		return
	}

	if ctx.Err() != nil {
		log.Info("request abandoned by pipeline shutdown", "attempt", req.calls)
		p.settle(req, outcome{err: ErrPipelineClosed})
		return
	}

	kind := generation.Classify(err)
	if kind == generation.KindTransient && req.retries < p.cfg.MaxRetries {
		req.retries++
		delay := p.cfg.RetryBaseDelay * time.Duration(req.retries)
		p.stats.recordRetry()

		log.Warn("retrying request after transient failure",
			"attempt", req.calls,
			"retry", req.retries,
			"delay", delay,
			"error", redact.Error(err))

		retry := p.newEvent(events.RequestRetryScheduled, req.id)
		retry.Attempt = req.calls
		retry.Delay = delay
		retry.Kind = string(kind)
		retry.Error = redact.Error(err)
		retry.Latency = latency
		p.emit(ctx, retry)

		if err := p.clock.Sleep(ctx, delay); err != nil {
			p.settle(req, outcome{err: ErrPipelineClosed})
			return
		}
		if !p.requeueFront(req) {
			p.settle(req, outcome{err: ErrPipelineClosed})
		}
		return
	}

	p.fail(ctx, req, kind, err, latency)
}

// awaitCapacity blocks until the rate window admits another send and records
// it. Every attempt, including retries, consumes a slot.
func (p *Pipeline) awaitCapacity(ctx context.Context, req *pendingRequest) error {
	for {
		delay := p.window.Reserve(p.clock.Now())
		if delay <= 0 {
			return nil
		}

		p.logger.Debug("rate limit reached, waiting for window",
			"request_id", req.id, "delay", delay)
		ev := p.newEvent(events.RequestRateLimited, req.id)
		ev.Attempt = req.calls + 1
		ev.Delay = delay
		p.emit(ctx, ev)

		if err := p.clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (p *Pipeline) succeed(ctx context.Context, req *pendingRequest, result generation.Result, latency time.Duration) {
	now := p.clock.Now()
	if result.Model == "" {
		result.Model = req.payload.Model
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = now
	}

	if evicted := p.cache.Put(req.key, result, now); evicted > 0 {
		p.logger.Debug("evicted oldest cached responses", "count", evicted)
	}
	persist := p.stats.recordSuccess(latency, result.Usage.TotalTokens, now)

	p.logger.Info("request succeeded",
		"request_id", req.id,
		"attempts", req.calls,
		"latency", latency,
		"queue_wait", now.Sub(req.enqueuedAt),
		"total_tokens", result.Usage.TotalTokens)

	ev := p.newEvent(events.RequestSucceeded, req.id)
	ev.Attempt = req.calls
	ev.Latency = latency
	ev.Tokens = result.Usage.TotalTokens
	p.emit(ctx, ev)

	p.settle(req, outcome{result: result})
	if persist {
		p.persistStats(context.WithoutCancel(ctx))
	}
}

func (p *Pipeline) fail(ctx context.Context, req *pendingRequest, kind generation.Kind, err error, latency time.Duration) {
	persist := p.stats.recordFailure(p.clock.Now())

	p.logger.Error("request failed",
		"request_id", req.id,
		"attempts", req.calls,
		"kind", kind,
		"error", redact.Error(err))

	ev := p.newEvent(events.RequestFailed, req.id)
	ev.Attempt = req.calls
	ev.Latency = latency
	ev.Kind = string(kind)
	ev.Error = redact.Error(err)
	p.emit(ctx, ev)

	p.settle(req, outcome{err: &RequestError{
		RequestID: req.id,
		Kind:      kind,
		Attempts:  req.calls,
		Err:       err,
	}})
	if persist {
		p.persistStats(context.WithoutCancel(ctx))
	}
}

// settle delivers the outcome. done is buffered, so a caller that stopped
// waiting never blocks the drain goroutine.
func (p *Pipeline) settle(req *pendingRequest, out outcome) {
	req.done <- out
}

func (p *Pipeline) emit(ctx context.Context, ev *events.Event) {
	if err := p.emitter.EmitEvent(ctx, ev); err != nil {
		p.logger.Warn("failed to emit pipeline event",
			"event_type", ev.Type, "request_id", ev.RequestID, "error", err)
	}
}

func (p *Pipeline) newEvent(eventType events.EventType, id uuid.UUID) *events.Event {
	ev := events.NewEvent(eventType, id)
	ev.CreatedAt = p.clock.Now()
	return ev
}

func (p *Pipeline) loadStats(ctx context.Context) {
	if p.store == nil {
		return
	}
	var saved Statistics
	err := store.GetJSON(ctx, p.store, store.KeyStatistics, &saved)
	switch {
	case err == nil:
		p.stats.restore(saved)
		p.logger.Debug("restored saved statistics", "total_requests", saved.TotalRequests)
	case store.IsNotFound(err):
	default:
		p.logger.Warn("failed to load saved statistics, starting from zero", "error", err)
	}
}

// persistStats writes the current statistics to the store. Failures are
// logged and returned but never affect request outcomes.
func (p *Pipeline) persistStats(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	snapshot := p.stats.snapshot()
	if err := store.SetJSON(ctx, p.store, store.KeyStatistics, snapshot); err != nil {
		p.logger.Warn("failed to persist statistics", "error", err)
		return fmt.Errorf("failed to persist statistics: %w", err)
	}
	p.emit(ctx, p.newEvent(events.StatsPersisted, uuid.Nil))
	return nil
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Stats returns a snapshot of the rolling statistics.
func (p *Pipeline) Stats() Statistics {
	return p.stats.snapshot()
}

// Status returns the queue, cache and rate window occupancy.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	status := Status{
		Queued:   len(p.queue),
		InFlight: p.inFlight,
		Closed:   p.closed,
	}
	p.mu.Unlock()

	status.CachedResponses = p.cache.Len()
	status.RateLimitRemaining = p.window.Limit() - p.window.Len(p.clock.Now())
	return status
}

// QueueLen returns the number of requests waiting for the drain goroutine.
// The request currently being processed is not counted.
func (p *Pipeline) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// CacheLen returns the number of cached responses.
func (p *Pipeline) CacheLen() int {
	return p.cache.Len()
}

// ClearCache drops every cached response.
func (p *Pipeline) ClearCache() {
	p.cache.Clear()
	p.logger.Info("response cache cleared")
}

// FlushStats persists the current statistics immediately.
func (p *Pipeline) FlushStats(ctx context.Context) error {
	return p.persistStats(ctx)
}

// closePersistTimeout bounds the final statistics write in Close. It is
// applied on its own so an expired Close context cannot lose the counters.
const closePersistTimeout = 5 * time.Second

// Close stops the pipeline. Requests still queued fail with ErrPipelineClosed,
// an in-flight call is cancelled, statistics are persisted and the cache is
// cleared. Close waits for the drain goroutine until ctx ends; the statistics
// are written and the cache cleared either way.
func (p *Pipeline) Close(ctx context.Context) error {
	p.admitMu.Lock()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.admitMu.Unlock()
		return nil
	}
	p.closed = true
	queued := p.queue
	p.queue = nil
	p.mu.Unlock()
	p.admitMu.Unlock()

	p.cancel()
	for _, req := range queued {
		p.settle(req, outcome{err: ErrPipelineClosed})
	}

	stopped := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(stopped)
	}()
	var waitErr error
	select {
	case <-stopped:
	case <-ctx.Done():
		p.logger.Warn("drain goroutine still running at close", "error", ctx.Err())
		waitErr = fmt.Errorf("timed out waiting for pipeline to stop: %w", ctx.Err())
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closePersistTimeout)
	defer cancel()
	persistErr := p.persistStats(persistCtx)

	p.cache.Clear()
	p.logger.Info("request pipeline closed", "rejected_requests", len(queued))
	return errors.Join(waitErr, persistErr)
}
