package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/phrazzld/chatrelay/internal/config"
	"github.com/phrazzld/chatrelay/internal/credential"
	"github.com/phrazzld/chatrelay/internal/events"
	"github.com/phrazzld/chatrelay/internal/generation"
	"github.com/phrazzld/chatrelay/internal/metrics"
	"github.com/phrazzld/chatrelay/internal/pipeline"
	"github.com/phrazzld/chatrelay/internal/platform/gemini"
	"github.com/phrazzld/chatrelay/internal/platform/postgres"
	"github.com/phrazzld/chatrelay/internal/platform/redis"
	"github.com/phrazzld/chatrelay/internal/store"
)

// metricsNamespace prefixes every exported metric name.
const metricsNamespace = "chatrelay"

// verifyingTransport is a Transport that can also check its credential.
type verifyingTransport interface {
	generation.Transport
	Verify(ctx context.Context, model string) error
}

// newTransport builds the Gemini transport. Tests replace it with a fake.
var newTransport = func(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (verifyingTransport, error) {
	t, err := gemini.NewTransport(ctx, logger, cfg)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// errNoAPIKey is returned when neither the configuration nor the vault
// provides a Gemini key.
var errNoAPIKey = errors.New("no Gemini API key configured: set CHATRELAY_LLM_GEMINI_API_KEY or run 'chatrelay key set'")

// application holds the wired dependencies shared by the commands.
type application struct {
	config *config.Config
	logger *slog.Logger

	store      store.Store
	storeClose io.Closer
	vault      *credential.Vault

	emitter   *events.InMemoryEventEmitter
	collector *metrics.Collector
	pipeline  *pipeline.Pipeline
}

// newStoreApplication opens the configured store and vault only, for
// commands that never call the API.
func newStoreApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{config: cfg, logger: logger}

	var err error
	app.store, app.storeClose, err = openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Storage.VaultSecret != "" {
		app.vault, err = credential.NewVault(app.store, cfg.Storage.VaultSecret, logger)
		if err != nil {
			app.cleanup(ctx)
			return nil, fmt.Errorf("failed to initialize credential vault: %w", err)
		}
	}
	return app, nil
}

// newApplication wires store, vault, transport, metrics and pipeline.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app, err := newStoreApplication(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	transport, err := app.transport(ctx)
	if err != nil {
		app.cleanup(ctx)
		return nil, err
	}

	app.collector = metrics.NewCollector(metricsNamespace, logger)
	app.emitter = events.NewInMemoryEventEmitter(logger)
	app.emitter.RegisterHandler(app.collector)

	app.pipeline, err = pipeline.New(ctx, transport,
		pipeline.WithConfig(pipelineConfig(cfg)),
		pipeline.WithLogger(logger),
		pipeline.WithStore(app.store),
		pipeline.WithEmitter(app.emitter))
	if err != nil {
		app.cleanup(ctx)
		return nil, fmt.Errorf("failed to create request pipeline: %w", err)
	}

	logger.Info("application initialized",
		"storage_backend", cfg.Storage.Backend,
		"model", cfg.LLM.Model,
		"rate_limit", cfg.Pipeline.RateLimit,
		"event_handlers", app.emitter.HandlerCount())
	return app, nil
}

// apiKey returns the configured key, falling back to the vault.
func (app *application) apiKey(ctx context.Context) (string, error) {
	if app.config.LLM.GeminiAPIKey != "" {
		return app.config.LLM.GeminiAPIKey, nil
	}
	if app.vault == nil {
		return "", errNoAPIKey
	}
	key, err := app.vault.LoadAPIKey(ctx)
	if errors.Is(err, credential.ErrNoAPIKey) {
		return "", errNoAPIKey
	}
	if err != nil {
		return "", err
	}
	app.logger.Debug("using API key from credential vault")
	return key, nil
}

// transport builds the Gemini transport with the resolved key.
func (app *application) transport(ctx context.Context) (verifyingTransport, error) {
	key, err := app.apiKey(ctx)
	if err != nil {
		return nil, err
	}
	llm := app.config.LLM
	llm.GeminiAPIKey = key
	t, err := newTransport(ctx, app.logger, llm)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Gemini transport: %w", err)
	}
	return t, nil
}

// cleanup closes the pipeline, which persists statistics, then the store.
func (app *application) cleanup(ctx context.Context) {
	if app.pipeline != nil {
		if err := app.pipeline.Close(ctx); err != nil {
			app.logger.Error("error closing request pipeline", "error", err)
		}
	}
	if app.storeClose != nil {
		if err := app.storeClose.Close(); err != nil {
			app.logger.Error("error closing store", "error", err)
		}
	}
}

// pipelineConfig maps the loaded configuration onto the pipeline's limits.
func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		RateLimit:         cfg.Pipeline.RateLimit,
		RateWindow:        cfg.Pipeline.RateWindow,
		MaxRetries:        cfg.Pipeline.MaxRetries,
		RetryBaseDelay:    cfg.Pipeline.RetryBaseDelay,
		CacheSize:         cfg.Pipeline.CacheSize,
		CacheTTL:          cfg.Pipeline.CacheTTL,
		StatsPersistEvery: cfg.Pipeline.StatsPersistEvery,
		Defaults: generation.Defaults{
			Model:           cfg.LLM.Model,
			MaxOutputTokens: cfg.LLM.MaxOutputTokens,
			Temperature:     cfg.LLM.Temperature,
			TopP:            cfg.LLM.TopP,
			TopK:            cfg.LLM.TopK,
		},
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// openStore connects the configured backend. The returned closer is nil for
// the in-memory store.
func openStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (store.Store, io.Closer, error) {
	switch cfg.Backend {
	case "", "memory":
		logger.Warn("using in-memory store, statistics and saved keys are lost on exit")
		return store.NewMemoryStore(), nil, nil

	case "redis":
		s, err := redis.Open(ctx, cfg.RedisURL, cfg.RedisPrefix, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	case "postgres":
		db, err := postgres.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, db, logger); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return postgres.NewKVStore(db, logger), closerFunc(db.Close), nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}
