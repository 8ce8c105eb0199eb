package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/degenlabs/coinflip/service/config"
	"github.com/degenlabs/coinflip/service/db"
	"github.com/degenlabs/coinflip/service/evm"
	"github.com/degenlabs/coinflip/service/metrics"
	natspkg "github.com/degenlabs/coinflip/service/nats"
	"github.com/degenlabs/coinflip/service/server"
	"github.com/degenlabs/coinflip/service/temporal"
	"github.com/degenlabs/coinflip/service/wager"
	"github.com/degenlabs/coinflip/service/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	// Load and validate configuration from environment.
	// This fails fast if any required config is missing or invalid.
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"chain_id", cfg.ChainID,
		"contract", cfg.ContractAddress,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database connection pool
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

	store := db.NewStore(dbPool)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure database schema", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Prometheus metrics collector (default registry)
	metricsCollector := metrics.NewMetrics(nil)

	// Ethereum RPC client and contract binding
	rpc, err := ethclient.Dial(cfg.EthRPCURL)
	if err != nil {
		logger.Error("failed to connect to chain RPC", "error", err)
		os.Exit(1)
	}
	defer rpc.Close()

	chainClient := evm.NewClient(
		rpc,
		common.HexToAddress(cfg.ContractAddress),
		cfg.ChainID,
		endpointLabel(cfg.EthRPCURL),
		metricsCollector,
		logger,
	)
	logger.Info("initialized chain client", "rpc_url", cfg.EthRPCURL)

	// Wallet session manager backed by the configured signing key
	sdk, err := wallet.NewKeySDK(cfg.WalletPrivateKey)
	if err != nil {
		logger.Error("failed to load wallet key", "error", err)
		os.Exit(1)
	}
	sessions := wallet.NewManager(sdk, logger)

	// NATS publisher for settlement events
	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer natsPublisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	// Temporal client for schedule management
	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		logger,
	)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()
	logger.Info("connected to temporal",
		"host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
	)

	// Wager flow controller
	fallbackMin, err := evm.ParseEther(cfg.MinWagerFallback)
	if err != nil {
		logger.Error("invalid min wager fallback", "error", err)
		os.Exit(1)
	}
	fallbackMax, err := evm.ParseEther(cfg.MaxWagerFallback)
	if err != nil {
		logger.Error("invalid max wager fallback", "error", err)
		os.Exit(1)
	}

	controller := wager.NewController(wager.ControllerParams{
		Chain:       chainClient,
		Sessions:    sessions,
		Store:       store,
		Publisher:   natsPublisher,
		Metrics:     metricsCollector,
		Logger:      logger,
		FallbackMin: fallbackMin,
		FallbackMax: fallbackMax,
	})
	controller.StartPolling(ctx, cfg.HistoryPollInterval)
	logger.Info("wager controller initialized",
		"history_poll_interval", cfg.HistoryPollInterval,
	)

	// SSE publisher bridging NATS to browser clients
	ssePublisher, err := server.NewSSEPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to create SSE publisher", "error", err)
		os.Exit(1)
	}

	httpServer := server.New(
		cfg.ServerAddr,
		cfg,
		store,
		sessions,
		controller,
		chainClient,
		temporalClient,
		ssePublisher,
		metricsCollector,
		logger,
	)

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

// endpointLabel extracts a short identifier from the RPC URL for metrics
// labeling, e.g. "https://eth-mainnet.g.alchemy.com/v2/..." -> "eth-mainnet.g.alchemy.com".
func endpointLabel(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil || parsed.Hostname() == "" {
		return "unknown"
	}
	return parsed.Hostname()
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
