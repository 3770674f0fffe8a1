package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"basegraph.app/coordinator/core/config"
	"basegraph.app/coordinator/internal/docs"
	"basegraph.app/coordinator/internal/http/handler"
	"basegraph.app/coordinator/internal/http/middleware"
	httprouter "basegraph.app/coordinator/internal/http/router"
)

func serve(ctx context.Context, cfg config.Config) error {
	deps, err := wire(ctx, cfg, false)
	if err != nil {
		return err
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           setupRouter(cfg, deps.coordinator),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Handlers give up at analysisBudget; the rest is for writing.
		WriteTimeout: analysisBudget(cfg) + writeMargin,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "http server error", "error", err)
			deps.Close(context.Background())
			return err
		}
	}

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}
	deps.Close(shutdownCtx)

	slog.InfoContext(shutdownCtx, "shutdown complete")
	return nil
}

const (
	// writeMargin is the time left to encode and send a snapshot after the
	// analysis deadline.
	writeMargin = 15 * time.Second
	// pacingAllowance covers rate limiter waits across paginated fetches.
	pacingAllowance = 10 * time.Second
	// modelCalls is the worst case number of model calls per analysis: a
	// stricter schema retry on top of the first try, each with up to three
	// transient attempts.
	modelCalls = 2 * 3
)

// analysisBudget is the longest one analysis may run: every fetch attempt
// timing out with the longest backoff wait between attempts, plus every
// model call timing out with its backoff waits.
func analysisBudget(cfg config.Config) time.Duration {
	attempts := max(cfg.Fetch.MaxAttempts, 1)
	fetch := time.Duration(attempts)*cfg.Fetch.Timeout +
		time.Duration(attempts-1)*docs.DefaultRetryPolicy().MaxInterval +
		pacingAllowance

	// Extraction backs off 1s, 2s, ... with up to 50% jitter.
	model := modelCalls*cfg.LLM.Timeout + 2*(3*time.Second+3*time.Second/2)

	return fetch + model
}

func setupRouter(cfg config.Config, analyzer handler.Analyzer) http.Handler {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(middleware.Deadline(analysisBudget(cfg)))

	httprouter.SetupRoutes(router, analyzer)

	// The browser extension calls from its own origin.
	return cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	}).Handler(router)
}
