package server

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/ragpipe/config"
	"github.com/mohammad-safakhou/ragpipe/internal/agent/telemetry"
	"github.com/mohammad-safakhou/ragpipe/internal/pipe"
	"github.com/mohammad-safakhou/ragpipe/internal/queue/streams"
	"github.com/mohammad-safakhou/ragpipe/internal/store"
	"github.com/mohammad-safakhou/ragpipe/knowledge"
	redis_knowledge "github.com/mohammad-safakhou/ragpipe/knowledge/redis"
	"github.com/mohammad-safakhou/ragpipe/provider"
	"github.com/mohammad-safakhou/ragpipe/tools/web_fetch"
	"github.com/redis/go-redis/v9"
)

// App holds the shared dependencies of the HTTP server and the CLI.
type App struct {
	Config  config.Config
	Pipe    *pipe.Pipe
	Library *knowledge.Library
	Fetcher web_fetch.WebFetcher
	Store   *store.Store
	Metrics *telemetry.Metrics

	closers []func() error
}

func newLogger(prefix string) *log.Logger {
	return log.New(log.Writer(), prefix, log.LstdFlags)
}

// NewApp wires the configured backends. Postgres and the event stream are
// optional; the knowledge library falls back to memory when Redis is not
// selected.
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	app := &App{Config: cfg}
	if cfg.Telemetry.Enabled {
		app.Metrics = telemetry.NewMetrics()
	}

	var rdb *redis.Client
	if cfg.Storage.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:        cfg.Storage.Redis.Addr(),
			Password:    cfg.Storage.Redis.Password,
			DB:          cfg.Storage.Redis.DB,
			DialTimeout: cfg.Storage.Redis.Timeout,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
		app.closers = append(app.closers, rdb.Close)
	}

	libOpts := knowledge.Options{
		ChunkSize:      cfg.Knowledge.ChunkSize,
		ChunkOverlap:   cfg.Knowledge.ChunkOverlap,
		EmbeddingModel: cfg.Knowledge.EmbeddingModel,
		Logger:         newLogger("[KNOWLEDGE] "),
	}
	if cfg.Knowledge.Store == "redis" {
		if rdb == nil {
			return nil, errors.New("knowledge.store=redis requires storage.redis.host")
		}
		libOpts.Backend = redis_knowledge.NewStore(rdb, cfg.Knowledge.KeyPrefix)
	}
	if cfg.Knowledge.EmbeddingModel != "" {
		embedder, err := provider.NewProvider(provider.OpenAI, provider.Options{
			BaseURL: cfg.Valves.OpenAIAPIURL,
			APIKey:  cfg.Valves.OpenAIAPIKey,
			Timeout: cfg.Pipe.LLMTimeout,
			Retries: cfg.Pipe.LLMRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("embedding backend: %w", err)
		}
		libOpts.Embedder = embedder
	}
	lib, err := knowledge.NewLibrary(ctx, libOpts)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("knowledge library: %w", err)
	}
	app.Library = lib

	fetcher, err := web_fetch.NewWebFetcher(web_fetch.FetcherType(cfg.Knowledge.Fetcher), cfg.Knowledge.FetchTimeout, cfg.Knowledge.MaxChars)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Fetcher = fetcher

	var journal pipe.Journal
	if cfg.Storage.Postgres.Enabled() {
		dsn, err := cfg.Storage.Postgres.DSN()
		if err != nil {
			app.Close()
			return nil, err
		}
		st, err := store.NewWithDSN(ctx, dsn)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		app.Store = st
		app.closers = append(app.closers, st.Close)
		journal = st
	}

	var events pipe.EventPublisher
	if cfg.Events.RedisStream != "" {
		if rdb == nil {
			app.Close()
			return nil, errors.New("events.redis_stream requires storage.redis.host")
		}
		registry, err := streams.NewDefaultRegistry()
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("event schemas: %w", err)
		}
		events = streams.NewPublisher(rdb, registry, cfg.Events.MaxLen)
	}

	app.Pipe = pipe.New(pipe.Options{
		Config:    cfg,
		Retriever: lib,
		Journal:   journal,
		Events:    events,
		Metrics:   app.Metrics,
		Logger:    newLogger("[PIPE] "),
	})
	return app, nil
}

// Close releases the connections opened by NewApp.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
