package metrics

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/chatrelay/internal/events"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector() *Collector {
	return NewCollector("chatrelay", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func emit(t *testing.T, c *Collector, ev *events.Event) {
	t.Helper()
	require.NoError(t, c.HandleEvent(context.Background(), ev))
}

func TestCollector_HandleEvent(t *testing.T) {
	c := newTestCollector()
	id := uuid.New()

	emit(t, c, events.NewEvent(events.RequestQueued, id))
	emit(t, c, events.NewEvent(events.RequestAttempt, id))

	retry := events.NewEvent(events.RequestRetryScheduled, id)
	retry.Kind = "transient"
	retry.Latency = 200 * time.Millisecond
	emit(t, c, retry)

	limited := events.NewEvent(events.RequestRateLimited, id)
	limited.Delay = 30 * time.Second
	emit(t, c, limited)

	emit(t, c, events.NewEvent(events.RequestAttempt, id))

	succeeded := events.NewEvent(events.RequestSucceeded, id)
	succeeded.Latency = time.Second
	succeeded.Tokens = 42
	emit(t, c, succeeded)

	emit(t, c, events.NewEvent(events.RequestCacheHit, uuid.New()))

	failed := events.NewEvent(events.RequestFailed, uuid.New())
	failed.Kind = "safety"
	emit(t, c, failed)

	emit(t, c, events.NewEvent(events.StatsPersisted, uuid.Nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.queuedTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.attemptsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retriesTotal.WithLabelValues("transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rateLimitWaits))
	assert.Equal(t, 42.0, testutil.ToFloat64(c.tokensUsed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues(OutcomeSuccess, "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues(OutcomeCacheHit, "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues(OutcomeFailure, "safety")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.statsPersisted))
	assert.Equal(t, 2, testutil.CollectAndCount(c.attemptDuration))
}

func TestCollector_IgnoresUnknownEvents(t *testing.T) {
	c := newTestCollector()
	assert.NoError(t, c.HandleEvent(context.Background(), events.NewEvent("something.else", uuid.New())))
}

func TestCollector_Handler(t *testing.T) {
	c := newTestCollector()
	c.RecordHTTPRequest(http.MethodPost, "/v1/generate", http.StatusOK, 150*time.Millisecond)
	emit(t, c, events.NewEvent(events.RequestQueued, uuid.New()))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `chatrelay_http_requests_total{method="POST",route="/v1/generate",status="200"} 1`)
	assert.Contains(t, body, "chatrelay_requests_queued_total 1")
	assert.Contains(t, body, "go_goroutines")
}

func TestCollector_SeparateRegistries(t *testing.T) {
	a := newTestCollector()
	b := newTestCollector()

	emit(t, a, events.NewEvent(events.RequestAttempt, uuid.New()))

	assert.Equal(t, 1.0, testutil.ToFloat64(a.attemptsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.attemptsTotal))
	assert.NotSame(t, a.Registry(), b.Registry())
}
