package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/atelierhq/atelier/internal/api"
	"github.com/atelierhq/atelier/internal/call"
	"github.com/atelierhq/atelier/internal/chat"
	"github.com/atelierhq/atelier/internal/config"
	"github.com/atelierhq/atelier/internal/feed"
	"github.com/atelierhq/atelier/internal/presence"
	"github.com/atelierhq/atelier/internal/realtime"
	"github.com/atelierhq/atelier/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Pick the durable store: postgres, then sqlite, then in-memory demo
	// mode. The fallback chain keeps local development running with zero
	// external services; /health reports whichever mode is active.
	dataStore := openStore(ctx, cfg, logger)
	defer dataStore.Close()

	// Redis is optional: without it, the feed and ephemeral channels stay
	// in-process and the instance runs standalone.
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	} else {
		logger.Warn().Msg("REDIS_URL not set, running single-instance")
	}

	// Change-feed: local bus, bridged across instances when Redis is up.
	bus := feed.NewBus()
	var pub feed.Publisher = feed.LocalPublisher{Bus: bus}
	if redisStore != nil {
		bridge := feed.NewBridge(bus, redisStore.Client(), logger)
		go bridge.Run(ctx)
		pub = bridge
	}

	// Ephemeral channels for presence, typing, and call signaling.
	channels := realtime.NewChannels(redisStore, logger)
	go channels.Run(ctx)

	chatSvc := chat.NewService(dataStore, pub, logger)
	tracker := presence.NewTracker(channels, presence.DefaultTypingIdle)
	defer tracker.Shutdown()
	coordinator := call.NewCoordinator(dataStore, pub, channels, cfg.CallRingTimeout, logger)
	defer coordinator.Shutdown()

	// Create router
	router := api.NewRouter(logger, cfg, api.Deps{
		Store:    dataStore,
		Redis:    redisStore,
		Chat:     chatSvc,
		Calls:    coordinator,
		Tracker:  tracker,
		Channels: channels,
		Bus:      bus,
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("store", dataStore.Mode()).
			Msg("starting Atelier server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	// Stop the bridge and channel consumers after in-flight requests drain.
	stop()

	logger.Info().Msg("server stopped")
}

// openStore walks the fallback chain. Production config has already
// required DATABASE_URL, so the fallbacks only engage in development.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) store.DataStore {
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		logger.Info().Msg("connected to PostgreSQL")
		return pg
	}

	if cfg.SQLitePath != "" {
		sq, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.SQLitePath).Msg("sqlite open failed")
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite store")
		return sq
	}

	logger.Warn().Msg("no DATABASE_URL or SQLITE_PATH, using in-memory store (data is lost on restart)")
	return store.NewMemoryStore()
}
