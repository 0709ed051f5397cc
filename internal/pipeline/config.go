package pipeline

import (
	"log/slog"
	"time"

	"github.com/phrazzld/chatrelay/internal/events"
	"github.com/phrazzld/chatrelay/internal/generation"
	"github.com/phrazzld/chatrelay/internal/store"
)

// Config holds the pipeline's limits.
type Config struct {
	// RateLimit is the ceiling of sends per RateWindow.
	RateLimit int

	// RateWindow is the length of the trailing window.
	RateWindow time.Duration

	// MaxRetries is how many times a transient failure is retried.
	MaxRetries int

	// RetryBaseDelay is multiplied by the retry number to get the backoff.
	RetryBaseDelay time.Duration

	// CacheSize bounds the response cache.
	CacheSize int

	// CacheTTL expires cached results; zero keeps them until evicted.
	CacheTTL time.Duration

	// StatsPersistEvery persists statistics after this many settled requests.
	StatsPersistEvery int

	// Defaults fill in parameters a request leaves unset.
	Defaults generation.Defaults
}

// DefaultConfig returns the limits of the original client: 60 requests per
// minute, 3 retries one second apart per attempt, 100 cached responses.
func DefaultConfig() Config {
	return Config{
		RateLimit:         60,
		RateWindow:        time.Minute,
		MaxRetries:        3,
		RetryBaseDelay:    time.Second,
		CacheSize:         100,
		CacheTTL:          0,
		StatsPersistEvery: 10,
		Defaults:          generation.DefaultDefaults(),
	}
}

// sanitize replaces invalid values with defaults, logging each replacement.
func (c Config) sanitize(logger *slog.Logger) Config {
	def := DefaultConfig()

	if c.RateLimit <= 0 {
		logger.Warn("invalid rate limit specified, using default",
			"specified", c.RateLimit, "default", def.RateLimit)
		c.RateLimit = def.RateLimit
	}
	if c.RateWindow <= 0 {
		logger.Warn("invalid rate window specified, using default",
			"specified", c.RateWindow, "default", def.RateWindow)
		c.RateWindow = def.RateWindow
	}
	if c.MaxRetries < 0 {
		logger.Warn("invalid max retries specified, using default",
			"specified", c.MaxRetries, "default", def.MaxRetries)
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryBaseDelay < 0 {
		logger.Warn("invalid retry delay specified, using default",
			"specified", c.RetryBaseDelay, "default", def.RetryBaseDelay)
		c.RetryBaseDelay = def.RetryBaseDelay
	}
	if c.CacheSize <= 0 {
		logger.Warn("invalid cache size specified, using default",
			"specified", c.CacheSize, "default", def.CacheSize)
		c.CacheSize = def.CacheSize
	}
	if c.CacheTTL < 0 {
		c.CacheTTL = 0
	}
	if c.StatsPersistEvery <= 0 {
		logger.Warn("invalid stats persist interval specified, using default",
			"specified", c.StatsPersistEvery, "default", def.StatsPersistEvery)
		c.StatsPersistEvery = def.StatsPersistEvery
	}
	if c.Defaults.Model == "" {
		c.Defaults = def.Defaults
	}
	return c
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithConfig sets the pipeline limits.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) { p.cfg = cfg }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithStore sets where statistics are loaded from and persisted to.
func WithStore(s store.Store) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithEmitter sets the observer that receives pipeline events.
func WithEmitter(emitter events.EventEmitter) Option {
	return func(p *Pipeline) {
		if emitter != nil {
			p.emitter = emitter
		}
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock Clock) Option {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}
