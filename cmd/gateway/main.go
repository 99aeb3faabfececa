package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ecomkit/saferpay-gateway/internal/config"
	"github.com/ecomkit/saferpay-gateway/internal/metrics"
	"github.com/ecomkit/saferpay-gateway/internal/persistence"
	"github.com/ecomkit/saferpay-gateway/internal/persistence/postgres"
	"github.com/ecomkit/saferpay-gateway/internal/processor"
	"github.com/ecomkit/saferpay-gateway/internal/rest/handlers"
	"github.com/ecomkit/saferpay-gateway/internal/rest/middleware"
	"github.com/ecomkit/saferpay-gateway/internal/saferpay"
	"github.com/ecomkit/saferpay-gateway/internal/worker"

	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logger.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting saferpay gateway service",
		"port", cfg.Server.Port,
		"log_level", cfg.Logger.Level,
	)

	ctx := context.Background()
	db, err := persistence.Connect(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := postgres.NewTransactionRepository(db)

	codec := saferpay.NewCodec(cfg.Saferpay)
	client := saferpay.NewClient(cfg.Saferpay, codec, logger)
	gateway := saferpay.NewRetryClient(client, cfg.Retry)

	registry := processor.DefaultRegistry()
	proc, err := registry.New(processor.Name, processor.Deps{
		Repo:     repo,
		Gateway:  gateway,
		Codec:    codec,
		Checkout: cfg.Checkout,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to build payment processor", "error", err)
		os.Exit(1)
	}
	sfp := proc.(*processor.Saferpay)

	h := handlers.NewHandlers(sfp, repo, codec, logger)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /metrics", metrics.Handler())

	handler := middleware.Recovery(logger)(mux)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.RateLimit(rate.Limit(10), 20)(handler)
	handler = middleware.Timeout(cfg.Server.ReadTimeout)(handler)

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	reconciler := worker.NewReconciler(repo, sfp, cfg.Worker, logger)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	go reconciler.Start(workerCtx)

	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server exited")
}
