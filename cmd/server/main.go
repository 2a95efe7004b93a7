package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/goldium/service/bridge"
	"github.com/brojonat/goldium/service/config"
	"github.com/brojonat/goldium/service/db"
	"github.com/brojonat/goldium/service/history"
	"github.com/brojonat/goldium/service/metrics"
	"github.com/brojonat/goldium/service/nats"
	"github.com/brojonat/goldium/service/server"
	"github.com/brojonat/goldium/service/session"
	"github.com/brojonat/goldium/service/solana"
	"github.com/brojonat/goldium/service/wallet"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"history_backend", cfg.HistoryBackend,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(nil)

	// Balance fetcher over the ordered endpoint list
	fetcher := solana.NewBalanceFetcher(solana.NewEndpoints(cfg.RPCURLs), cfg.RPCTimeout, m, logger)
	logger.Info("initialized balance fetcher", "endpoints", len(cfg.RPCURLs))

	// Wallet discovery: the browser bridge first, then the optional dev keypair
	hub := bridge.NewHub(logger)
	envs := wallet.Environments{hub}
	if cfg.DevKeypairPath != "" {
		kind, err := wallet.ParseKind(cfg.DevWalletKind)
		if err != nil {
			logger.Error("invalid dev wallet kind", "error", err)
			os.Exit(1)
		}
		dev, err := wallet.LoadKeypairProvider(cfg.DevKeypairPath, kind)
		if err != nil {
			logger.Error("failed to load dev keypair", "error", err)
			os.Exit(1)
		}
		global, _ := wallet.InjectionGlobal(kind)
		local := wallet.NewStaticEnvironment()
		local.Inject(global, dev)
		envs = append(envs, local)
		logger.Info("dev wallet enabled", "kind", kind, "global", global)
	}
	registry := wallet.NewRegistry(envs)

	manager := session.NewManager(registry, fetcher, session.Options{
		PollInterval:   cfg.BalancePollInterval,
		DetectInterval: cfg.WalletCheckInterval,
		Logger:         logger,
		Metrics:        m,
	})

	// History persistence
	store, err := db.Open(ctx, cfg, m, logger)
	if err != nil {
		logger.Error("failed to open history store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		logger.Error("failed to ping history store", "error", err)
		os.Exit(1)
	}
	recorder := history.NewRecorder(store, cfg.ExplorerCluster, m, logger)

	proxy := server.NewRPCProxy(cfg.ProxyUpstreamURL, cfg.RPCTimeout, m, logger)
	httpServer := server.New(cfg.ServerAddr, manager, registry, recorder, hub, proxy, m, logger)

	// Optional NATS event publishing
	var forwarderDone chan struct{}
	if cfg.NATSURL != "" {
		publisher, err := nats.NewPublisher(cfg.NATSURL, m, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()

		forwarder := nats.NewStateForwarder(publisher, 0, logger)
		unsubscribe := manager.Subscribe(forwarder.Listen)
		defer unsubscribe()
		forwarderDone = make(chan struct{})
		go func() {
			defer close(forwarderDone)
			forwarder.Run(ctx)
		}()

		recorder.SetNotifier(nats.NewHistoryNotifier(publisher))

		ssePublisher, err := server.NewSSEPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create SSE publisher", "error", err)
			os.Exit(1)
		}
		httpServer.WithHistoryStream(ssePublisher)
		logger.Info("NATS publishing enabled", "nats_url", cfg.NATSURL)
	}

	logger.Info("server initialized, all dependencies ready",
		"rpc_timeout", cfg.RPCTimeout,
		"poll_interval", cfg.BalancePollInterval,
		"check_interval", cfg.WalletCheckInterval,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
		}
		if err := manager.Close(shutdownCtx); err != nil {
			logger.Error("failed to close session manager", "error", err)
		}

		cancel()
		if forwarderDone != nil {
			<-forwarderDone
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

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
