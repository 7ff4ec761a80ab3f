package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kasuto/tokengate/service/config"
	"github.com/kasuto/tokengate/service/db"
	"github.com/kasuto/tokengate/service/metrics"
	"github.com/kasuto/tokengate/service/nats"
	"github.com/kasuto/tokengate/service/server"
	"github.com/kasuto/tokengate/service/solana"
)

func main() {
	// Load and validate configuration from environment.
	// This fails fast if any required config is missing or invalid.
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	store := db.NewStore(dbPool)

	m := metrics.NewMetrics(nil)

	// For premium RPC endpoints, include the API key in the URL.
	solanaRPC := solana.NewRPCClient(cfg.SolanaRPCURL)
	chain := solana.NewClient(solanaRPC, cfg.SolanaRPCURL, m, logger).
		WithPolicies(
			solana.RetryPolicy{
				MaxAttempts:        cfg.RPCMaxAttempts,
				BaseDelay:          cfg.RetryBaseDelay,
				RateLimitBaseDelay: cfg.RateLimitBaseDelay,
				MaxDelay:           cfg.MaxRetryDelay,
			},
			solana.RetryPolicy{
				MaxAttempts:        cfg.SendMaxAttempts,
				BaseDelay:          cfg.RetryBaseDelay,
				RateLimitBaseDelay: cfg.RateLimitBaseDelay,
				MaxDelay:           cfg.MaxRetryDelay,
			},
		).
		WithTimeouts(solana.Timeouts{
			RPC:                cfg.RPCTimeout,
			Send:               cfg.SendTimeout,
			Transfer:           cfg.TransferTimeout,
			ConfirmInterval:    cfg.ConfirmPollInterval,
			ConfirmMaxAttempts: cfg.ConfirmMaxAttempts,
		})
	logger.Info("initialized solana RPC client", "url", cfg.SolanaRPCURL)

	publisher, err := nats.NewPublisher(cfg.NATSURL, m, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "url", cfg.NATSURL, "error", err)
		os.Exit(1)
	}
	defer publisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	httpServer := server.New(cfg.ServerAddr, cfg, store, chain, publisher, m, logger)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}
