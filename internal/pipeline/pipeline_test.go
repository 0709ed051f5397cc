package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/chatrelay/internal/events"
	"github.com/phrazzld/chatrelay/internal/generation"
	"github.com/phrazzld/chatrelay/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedTransport blocks its first call until gate is closed. The first
// failFirst calls fail with a retryable timeout.
type gatedTransport struct {
	mu        sync.Mutex
	calls     []string
	gate      chan struct{}
	started   chan struct{}
	failFirst int
}

func newGatedTransport(failFirst int) *gatedTransport {
	return &gatedTransport{
		gate:      make(chan struct{}),
		started:   make(chan struct{}),
		failFirst: failFirst,
	}
}

func (g *gatedTransport) GenerateContent(ctx context.Context, payload generation.Payload) (generation.Result, error) {
	message := payload.Contents[len(payload.Contents)-1].Text

	g.mu.Lock()
	g.calls = append(g.calls, message)
	n := len(g.calls)
	g.mu.Unlock()

	if n == 1 {
		close(g.started)
		select {
		case <-g.gate:
		case <-ctx.Done():
			return generation.Result{}, ctx.Err()
		}
	}
	if n <= g.failFirst {
		return generation.Result{}, errors.New("request timeout")
	}
	return generation.Result{Content: "echo: " + message}, nil
}

func (g *gatedTransport) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

type submitResult struct {
	result generation.Result
	err    error
}

func submitAsync(ctx context.Context, p *Pipeline, message string) <-chan submitResult {
	ch := make(chan submitResult, 1)
	go func() {
		result, err := p.Submit(ctx, generation.Request{Message: message})
		ch <- submitResult{result: result, err: err}
	}()
	return ch
}

func TestNew(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	transport := &scriptedTransport{}
	p := newTestPipeline(t, transport, WithConfig(Config{
		RateLimit:         -1,
		RateWindow:        0,
		MaxRetries:        -2,
		RetryBaseDelay:    -time.Second,
		CacheSize:         0,
		StatsPersistEvery: 0,
	}))

	// Invalid values fall back to the defaults
	assert.Equal(t, DefaultConfig(), p.cfg)
	assert.Equal(t, Status{RateLimitRemaining: 60}, p.Status())
}

func TestSubmit_SuccessAfterTransientFailures(t *testing.T) {
	clock := newFakeClock()
	transport := &scriptedTransport{
		clock:  clock,
		errs:   []error{errors.New("Network Error"), errors.New("Network Error")},
		tokens: 12,
	}
	recorder := &eventRecorder{}
	p := newTestPipeline(t, transport, WithClock(clock), WithEmitter(recorder))

	result, err := p.Submit(context.Background(), generation.Request{Message: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "echo: hi", result.Content)
	assert.Equal(t, "gemini-1.5-flash", result.Model)
	assert.Equal(t, []string{"hi", "hi", "hi"}, transport.Calls())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clock.Sleeps())

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.SuccessfulRequests)
	assert.Equal(t, int64(0), stats.FailedRequests)
	assert.Equal(t, int64(2), stats.Retries)
	assert.Equal(t, int64(12), stats.TotalTokensUsed)

	assert.Equal(t, []events.EventType{
		events.RequestQueued,
		events.RequestAttempt,
		events.RequestRetryScheduled,
		events.RequestAttempt,
		events.RequestRetryScheduled,
		events.RequestAttempt,
		events.RequestSucceeded,
	}, recorder.Types())

	retries := recorder.OfType(events.RequestRetryScheduled)
	require.Len(t, retries, 2)
	assert.Equal(t, time.Second, retries[0].Delay)
	assert.Equal(t, 2*time.Second, retries[1].Delay)
	assert.Equal(t, string(generation.KindTransient), retries[0].Kind)
}

func TestSubmit_TimeoutExhaustsRetries(t *testing.T) {
	clock := newFakeClock()
	timeout := errors.New("request timeout")
	transport := &scriptedTransport{clock: clock, errs: []error{timeout, timeout, timeout, timeout, timeout}}
	p := newTestPipeline(t, transport, WithClock(clock))

	_, err := p.Submit(context.Background(), generation.Request{Message: "hi"})
	require.Error(t, err)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, 4, reqErr.Attempts)
	assert.Equal(t, generation.KindTransient, reqErr.Kind)
	assert.ErrorIs(t, err, timeout)

	assert.Len(t, transport.Calls(), 4)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, clock.Sleeps())

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, int64(0), stats.SuccessfulRequests)
	assert.Equal(t, int64(1), stats.FailedRequests)
	assert.Equal(t, int64(3), stats.Retries)
	assert.Equal(t, 0, p.CacheLen())
}

func TestSubmit_PermanentFailureIsNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind generation.Kind
	}{
		{"plain message", errors.New("invalid request"), generation.KindPermanent},
		{"blocked content", fmt.Errorf("%w: SAFETY", generation.ErrContentBlocked), generation.KindSafety},
		{"bad key", fmt.Errorf("%w: API key not valid", generation.ErrInvalidConfig), generation.KindConfig},
		{"no candidates", fmt.Errorf("%w: no candidates", generation.ErrInvalidResponse), generation.KindResponse},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clock := newFakeClock()
			transport := &scriptedTransport{errs: []error{tc.err}}
			p := newTestPipeline(t, transport, WithClock(clock))

			_, err := p.Submit(context.Background(), generation.Request{Message: "hi"})

			var reqErr *RequestError
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, tc.kind, reqErr.Kind)
			assert.Equal(t, 1, reqErr.Attempts)
			assert.ErrorIs(t, err, tc.err)
			assert.Len(t, transport.Calls(), 1)
			assert.Empty(t, clock.Sleeps())
			assert.Equal(t, int64(1), p.Stats().FailedRequests)
		})
	}
}

func TestSubmit_InvalidRequestNeverQueued(t *testing.T) {
	transport := &scriptedTransport{}
	p := newTestPipeline(t, transport)

	_, err := p.Submit(context.Background(), generation.Request{Message: "  "})
	assert.ErrorIs(t, err, generation.ErrInvalidRequest)
	assert.Empty(t, transport.Calls())
	assert.Equal(t, Statistics{}, p.Stats())
}

func TestSubmit_CacheHit(t *testing.T) {
	transport := &scriptedTransport{}
	recorder := &eventRecorder{}
	p := newTestPipeline(t, transport, WithEmitter(recorder))
	ctx := context.Background()

	first, err := p.Submit(ctx, generation.Request{Message: "hi"})
	require.NoError(t, err)
	second, err := p.Submit(ctx, generation.Request{Message: "hi"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, transport.Calls(), 1)
	assert.Equal(t, int64(1), p.Stats().CacheHits)
	assert.Equal(t, int64(1), p.Stats().TotalRequests)
	assert.Len(t, recorder.OfType(events.RequestCacheHit), 1)

	// Different parameters make a different payload.
	temp := 0.1
	_, err = p.Submit(ctx, generation.Request{Message: "hi", Temperature: &temp})
	require.NoError(t, err)
	assert.Len(t, transport.Calls(), 2)

	// Bypassing the cache always reaches the network.
	_, err = p.Submit(ctx, generation.Request{Message: "hi", BypassCache: true})
	require.NoError(t, err)
	assert.Len(t, transport.Calls(), 3)
	assert.Equal(t, int64(1), p.Stats().CacheHits)

	p.ClearCache()
	assert.Equal(t, 0, p.CacheLen())
	_, err = p.Submit(ctx, generation.Request{Message: "hi"})
	require.NoError(t, err)
	assert.Len(t, transport.Calls(), 4)
}

func TestSubmit_CacheExpires(t *testing.T) {
	clock := newFakeClock()
	transport := &scriptedTransport{}
	cfg := DefaultConfig()
	cfg.CacheTTL = time.Minute
	p := newTestPipeline(t, transport, WithClock(clock), WithConfig(cfg))
	ctx := context.Background()

	_, err := p.Submit(ctx, generation.Request{Message: "hi"})
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	_, err = p.Submit(ctx, generation.Request{Message: "hi"})
	require.NoError(t, err)
	assert.Len(t, transport.Calls(), 1)

	clock.Advance(30 * time.Second)
	_, err = p.Submit(ctx, generation.Request{Message: "hi"})
	require.NoError(t, err)
	assert.Len(t, transport.Calls(), 2)
}

func TestSubmit_RateWindowDelaysExcessRequest(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	transport := &scriptedTransport{clock: clock}
	recorder := &eventRecorder{}
	p := newTestPipeline(t, transport, WithClock(clock), WithEmitter(recorder))
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		_, err := p.Submit(ctx, generation.Request{Message: fmt.Sprintf("message %d", i)})
		require.NoError(t, err)
	}
	assert.Empty(t, clock.Sleeps())
	assert.Equal(t, 0, p.Status().RateLimitRemaining)

	_, err := p.Submit(ctx, generation.Request{Message: "message 60"})
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{60 * time.Second}, clock.Sleeps())
	times := transport.CallTimes()
	require.Len(t, times, 61)
	assert.Equal(t, start, times[59])
	assert.Equal(t, start.Add(60*time.Second), times[60])

	limited := recorder.OfType(events.RequestRateLimited)
	require.Len(t, limited, 1)
	assert.Equal(t, 60*time.Second, limited[0].Delay)
}

func TestSubmit_RetriesCountAgainstRateWindow(t *testing.T) {
	clock := newFakeClock()
	transport := &scriptedTransport{clock: clock, errs: []error{errors.New("503 Service Unavailable")}}
	cfg := DefaultConfig()
	cfg.RateLimit = 2
	cfg.RetryBaseDelay = 0
	p := newTestPipeline(t, transport, WithClock(clock), WithConfig(cfg))
	ctx := context.Background()

	_, err := p.Submit(ctx, generation.Request{Message: "a"})
	require.NoError(t, err)
	assert.Len(t, transport.Calls(), 2)

	// Both slots were taken by the failed attempt and its retry.
	_, err = p.Submit(ctx, generation.Request{Message: "b"})
	require.NoError(t, err)
	assert.Contains(t, clock.Sleeps(), time.Minute)
}

func TestSubmit_RetryRunsBeforeNewerRequests(t *testing.T) {
	transport := newGatedTransport(1)
	p := newTestPipeline(t, transport, WithClock(newFakeClock()))
	ctx := context.Background()

	first := submitAsync(ctx, p, "first")
	<-transport.started
	second := submitAsync(ctx, p, "second")
	require.Eventually(t, func() bool { return p.QueueLen() == 1 }, time.Second, time.Millisecond)

	close(transport.gate)

	r1 := <-first
	r2 := <-second
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	assert.Equal(t, []string{"first", "first", "second"}, transport.Calls())
}

func TestSubmit_CallerContextOnlyBoundsWait(t *testing.T) {
	transport := newGatedTransport(0)
	p := newTestPipeline(t, transport, WithClock(newFakeClock()))

	ctx, cancel := context.WithCancel(context.Background())
	pending := submitAsync(ctx, p, "hi")
	<-transport.started
	cancel()

	r := <-pending
	assert.ErrorIs(t, r.err, context.Canceled)

	close(transport.gate)
	require.Eventually(t, func() bool {
		return p.Stats().SuccessfulRequests == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, p.CacheLen())
}

func TestSubmit_OneCallInFlight(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	transport := generation.TransportFunc(func(ctx context.Context, payload generation.Payload) (generation.Result, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			prev := maxInFlight.Load()
			if n <= prev || maxInFlight.CompareAndSwap(prev, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		return generation.Result{Content: "ok"}, nil
	})
	p := newTestPipeline(t, transport, WithClock(newFakeClock()))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.Submit(context.Background(), generation.Request{Message: fmt.Sprintf("m%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, int64(20), p.Stats().SuccessfulRequests)
}

func TestStatistics_PersistedEveryTenRequests(t *testing.T) {
	kv := store.NewMemoryStore()
	recorder := &eventRecorder{}
	p := newTestPipeline(t, &scriptedTransport{}, WithStore(kv), WithEmitter(recorder))
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		_, err := p.Submit(ctx, generation.Request{Message: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}
	_, err := kv.Get(ctx, store.KeyStatistics)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = p.Submit(ctx, generation.Request{Message: "m9"})
	require.NoError(t, err)

	var saved Statistics
	require.NoError(t, store.GetJSON(ctx, kv, store.KeyStatistics, &saved))
	assert.Equal(t, int64(10), saved.TotalRequests)
	assert.Equal(t, int64(10), saved.SuccessfulRequests)
	assert.Len(t, recorder.OfType(events.StatsPersisted), 1)
}

func TestStatistics_RestoredFromStore(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	require.NoError(t, store.SetJSON(ctx, kv, store.KeyStatistics, Statistics{
		TotalRequests:         5,
		SuccessfulRequests:    4,
		FailedRequests:        1,
		AverageResponseTimeMs: 100,
	}))

	p := newTestPipeline(t, &scriptedTransport{}, WithStore(kv), WithClock(newFakeClock()))
	assert.Equal(t, int64(5), p.Stats().TotalRequests)

	_, err := p.Submit(ctx, generation.Request{Message: "hi"})
	require.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, int64(6), stats.TotalRequests)
	assert.Equal(t, int64(5), stats.SuccessfulRequests)
	// The fake clock reports zero latency, pulling the average down by a fifth.
	assert.InDelta(t, 80.0, stats.AverageResponseTimeMs, 0.001)
}

func TestStatistics_CorruptRecordIgnored(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	require.NoError(t, kv.Set(ctx, store.KeyStatistics, []byte("{not json")))

	p := newTestPipeline(t, &scriptedTransport{}, WithStore(kv))
	assert.Equal(t, Statistics{}, p.Stats())
}

func TestClose(t *testing.T) {
	kv := store.NewMemoryStore()
	transport := newGatedTransport(0)
	p := newTestPipeline(t, transport, WithStore(kv), WithClock(newFakeClock()))
	ctx := context.Background()

	inFlight := submitAsync(ctx, p, "in flight")
	<-transport.started
	queued := submitAsync(ctx, p, "queued")
	require.Eventually(t, func() bool { return p.QueueLen() == 1 }, time.Second, time.Millisecond)
	assert.True(t, p.Status().InFlight)

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, p.Close(closeCtx))

	assert.ErrorIs(t, (<-inFlight).err, ErrPipelineClosed)
	assert.ErrorIs(t, (<-queued).err, ErrPipelineClosed)
	assert.Equal(t, []string{"in flight"}, transport.Calls())

	_, err := p.Submit(ctx, generation.Request{Message: "late"})
	assert.ErrorIs(t, err, ErrPipelineClosed)

	// Statistics are written on shutdown even below the persistence interval.
	_, err = kv.Get(ctx, store.KeyStatistics)
	assert.NoError(t, err)

	status := p.Status()
	assert.True(t, status.Closed)
	assert.False(t, status.InFlight)
	assert.Equal(t, 0, status.Queued)

	// Closing twice is harmless.
	assert.NoError(t, p.Close(closeCtx))
}

func TestClose_ClearsCache(t *testing.T) {
	p := newTestPipeline(t, &scriptedTransport{}, WithClock(newFakeClock()))
	_, err := p.Submit(context.Background(), generation.Request{Message: "hi"})
	require.NoError(t, err)
	require.Equal(t, 1, p.CacheLen())

	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, 0, p.CacheLen())
}

func TestClose_PersistsStatsWithExpiredContext(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	p := newTestPipeline(t, &scriptedTransport{}, WithStore(kv), WithClock(newFakeClock()))

	_, err := p.Submit(ctx, generation.Request{Message: "hi"})
	require.NoError(t, err)
	require.Equal(t, 1, p.CacheLen())

	expired, cancel := context.WithCancel(ctx)
	cancel()
	_ = p.Close(expired)

	var saved Statistics
	require.NoError(t, store.GetJSON(ctx, kv, store.KeyStatistics, &saved))
	assert.Equal(t, int64(1), saved.SuccessfulRequests)
	assert.Equal(t, 0, p.CacheLen())
}

// stuckTransport answers its first call at once. Later calls ignore
// cancellation and block until release is closed.
type stuckTransport struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (s *stuckTransport) GenerateContent(_ context.Context, payload generation.Payload) (generation.Result, error) {
	if s.calls.Add(1) > 1 {
		close(s.started)
		<-s.release
	}
	return generation.Result{Content: "echo: " + payload.Contents[len(payload.Contents)-1].Text}, nil
}

func TestClose_DrainTimeoutStillPersists(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	transport := &stuckTransport{started: make(chan struct{}), release: make(chan struct{})}
	p := newTestPipeline(t, transport, WithStore(kv), WithClock(newFakeClock()))
	t.Cleanup(func() { close(transport.release) })

	_, err := p.Submit(ctx, generation.Request{Message: "cached"})
	require.NoError(t, err)

	stuck := submitAsync(ctx, p, "stuck")
	<-transport.started

	closeCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = p.Close(closeCtx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var saved Statistics
	require.NoError(t, store.GetJSON(ctx, kv, store.KeyStatistics, &saved))
	assert.Equal(t, int64(1), saved.SuccessfulRequests)
	assert.Equal(t, 0, p.CacheLen())

	select {
	case <-stuck:
		t.Fatal("stuck request settled before its call returned")
	default:
	}
}

// blockingEmitter holds the first queued event until release is closed.
type blockingEmitter struct {
	eventRecorder
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingEmitter) EmitEvent(ctx context.Context, ev *events.Event) error {
	if ev.Type == events.RequestQueued {
		b.once.Do(func() {
			close(b.entered)
			<-b.release
		})
	}
	return b.eventRecorder.EmitEvent(ctx, ev)
}

func TestClose_WaitsForAdmittedRequest(t *testing.T) {
	ctx := context.Background()
	emitter := &blockingEmitter{entered: make(chan struct{}), release: make(chan struct{})}
	p := newTestPipeline(t, &scriptedTransport{}, WithEmitter(emitter), WithClock(newFakeClock()))

	admitted := submitAsync(ctx, p, "first")
	<-emitter.entered

	closed := make(chan error, 1)
	go func() { closed <- p.Close(ctx) }()

	// Close cannot mark the pipeline closed while a request is being admitted.
	assert.Never(t, func() bool { return p.Status().Closed }, 50*time.Millisecond, 5*time.Millisecond)
	close(emitter.release)

	require.NoError(t, <-closed)
	<-admitted

	_, err := p.Submit(ctx, generation.Request{Message: "after close"})
	assert.ErrorIs(t, err, ErrPipelineClosed)
	assert.Len(t, emitter.OfType(events.RequestQueued), 1, "rejected submissions are never announced")
}

func TestFlushStats(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	p := newTestPipeline(t, &scriptedTransport{}, WithStore(kv))

	_, err := p.Submit(ctx, generation.Request{Message: "hi"})
	require.NoError(t, err)
	require.NoError(t, p.FlushStats(ctx))

	var saved Statistics
	require.NoError(t, store.GetJSON(ctx, kv, store.KeyStatistics, &saved))
	assert.Equal(t, p.Stats(), saved)

	// Without a store flushing is a no-op.
	bare := newTestPipeline(t, &scriptedTransport{})
	assert.NoError(t, bare.FlushStats(ctx))
}
