package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"neuroprom.com/chat-api/internal/api"
	"neuroprom.com/chat-api/internal/auth"
	"neuroprom.com/chat-api/internal/config"
	"neuroprom.com/chat-api/internal/core"
	"neuroprom.com/chat-api/internal/logging"
	"neuroprom.com/chat-api/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:       cfg.LogLevel,
		Pretty:      cfg.LogPretty,
		ServiceName: "chat-api",
	})
	logger := logging.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Msg("server stopped with error")
	}
	logger.Info().Msg("server exiting gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.L()

	dbStore, err := store.NewSQLStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer dbStore.Close()

	completer, closeCompleter, err := newCompleter(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCompleter()

	apiHandler := api.NewAPIHandler(
		core.NewChatService(dbStore, completer, cfg.Completion.Timeout),
		core.NewUserService(dbStore, auth.NewCredentials(cfg)),
		core.NewFormService(dbStore),
		dbStore,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(apiHandler, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Completion.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("addr", srv.Addr).
			Str("provider", cfg.Completion.Provider).
			Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// newCompleter builds the configured completion backend and its cleanup.
func newCompleter(ctx context.Context, cfg *config.Config) (core.Completer, func(), error) {
	switch cfg.Completion.Provider {
	case config.ProviderGemini:
		gc, err := core.NewGeminiCompleter(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize gemini client: %w", err)
		}
		return gc, gc.Close, nil
	default:
		return core.NewOpenRouterCompleter(cfg), func() {}, nil
	}
}
