package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"basegraph.app/coordinator/common/id"
	"basegraph.app/coordinator/common/llm"
	"basegraph.app/coordinator/common/logger"
	"basegraph.app/coordinator/common/otel"
	"basegraph.app/coordinator/core/config"
	"basegraph.app/coordinator/internal/auth"
	"basegraph.app/coordinator/internal/cache"
	"basegraph.app/coordinator/internal/coordinator"
	"basegraph.app/coordinator/internal/docs"
	"basegraph.app/coordinator/internal/extractor"
	"basegraph.app/coordinator/internal/model"
)

type deps struct {
	coordinator *coordinator.Coordinator
	telemetry   *otel.Telemetry
	redis       *redis.Client
}

func (d *deps) Close(ctx context.Context) {
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			slog.WarnContext(ctx, "redis close error", "error", err)
		}
	}
	if d.telemetry != nil {
		if err := d.telemetry.Shutdown(ctx); err != nil {
			slog.ErrorContext(ctx, "otel shutdown error", "error", err)
		}
	}
}

// wire builds the pipeline. With strict set, missing credentials or API key
// fail here; otherwise the server starts and every analysis reports them.
func wire(ctx context.Context, cfg config.Config, strict bool) (*deps, error) {
	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		return nil, err
	}
	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	}
	if err := id.Init(1); err != nil {
		return nil, fmt.Errorf("initializing snowflake id generator: %w", err)
	}

	d := &deps{telemetry: telemetry}

	if err := cfg.Validate(); err != nil && strict {
		d.Close(ctx)
		return nil, err
	}

	source, err := newSource(ctx, cfg)
	if err != nil {
		if strict {
			d.Close(ctx)
			return nil, err
		}
		slog.WarnContext(ctx, "google credentials unavailable, analyses will fail until fixed", "error", err)
		source = unavailableSource{err: err}
	}

	store, redisClient := newStore(ctx, cfg)
	d.redis = redisClient

	client := docs.NewClient(source, cache.New(store, clockwork.NewRealClock(), cfg.Cache.TTL),
		docs.WithRetryPolicy(docs.RetryPolicy{MaxAttempts: cfg.Fetch.MaxAttempts}),
		docs.WithTimeout(cfg.Fetch.Timeout),
	)

	var ext coordinator.Extractor
	if cfg.LLM.Enabled() {
		llmClient, err := llm.New(llm.Config{
			Provider:  cfg.LLM.Provider,
			APIKey:    cfg.LLM.APIKey,
			BaseURL:   cfg.LLM.BaseURL,
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
			Timeout:   cfg.LLM.Timeout,
		})
		if err != nil {
			d.Close(ctx)
			return nil, fmt.Errorf("creating llm client: %w", err)
		}
		ext = extractor.New(llmClient, extractor.Options{Timeout: cfg.LLM.Timeout})
		slog.InfoContext(ctx, "llm configured", "provider", cfg.LLM.Provider, "model", llmClient.Model())
	} else {
		slog.WarnContext(ctx, "no LLM API key configured, analyses will fail until one is set")
	}

	d.coordinator = coordinator.New(client, ext, coordinator.Options{
		DefaultSinceHours: cfg.DefaultSinceHours,
	})
	return d, nil
}

func newSource(ctx context.Context, cfg config.Config) (docs.Source, error) {
	ts, err := auth.TokenSource(ctx, auth.Config{
		CredentialsPath: cfg.Google.CredentialsPath,
		TokenPath:       cfg.Google.TokenPath,
	})
	if err != nil {
		return nil, err
	}
	return docs.NewGoogleSource(ctx, ts, docs.GoogleOptions{
		Endpoint:      cfg.Google.BaseURL,
		RatePerSecond: cfg.Fetch.RatePerSecond,
	})
}

// newStore prefers redis when configured and reachable, and falls back to an
// in-process store otherwise.
func newStore(ctx context.Context, cfg config.Config) (cache.Store, *redis.Client) {
	if !cfg.Cache.RedisEnabled() {
		return cache.NewMemoryStore(), nil
	}

	opts, err := redis.ParseURL(cfg.Cache.RedisURL)
	if err != nil {
		slog.WarnContext(ctx, "invalid redis url, using in-memory cache", "error", err)
		return cache.NewMemoryStore(), nil
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		slog.WarnContext(ctx, "redis unreachable, using in-memory cache", "error", err)
		_ = client.Close()
		return cache.NewMemoryStore(), nil
	}
	slog.InfoContext(ctx, "redis cache connected")
	return cache.NewRedisStore(client, 12*cfg.Cache.TTL), client
}

// unavailableSource stands in for the Google source when credentials could
// not be loaded at startup.
type unavailableSource struct {
	err error
}

func (s unavailableSource) Preflight(context.Context) error {
	return s.err
}

func (s unavailableSource) ListComments(context.Context, string) ([]model.Comment, error) {
	return nil, s.err
}

func (s unavailableSource) ListRevisions(context.Context, string) ([]model.Revision, error) {
	return nil, s.err
}

func (s unavailableSource) GetMetadata(context.Context, string) (model.DocumentMetadata, error) {
	return model.DocumentMetadata{}, s.err
}
