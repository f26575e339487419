package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"PulseSend/internal/config"
	"PulseSend/internal/dispatcher"
	"PulseSend/internal/gateway"
	"PulseSend/internal/httpserver"
	"PulseSend/internal/ingest"
	"PulseSend/internal/logging"
	"PulseSend/internal/metrics"
	"PulseSend/internal/models"
	"PulseSend/internal/postprocessor"
	"PulseSend/internal/scheduler"
	"PulseSend/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// ------------------------------------------------
	// Store
	// ------------------------------------------------
	db, err := store.New(ctx, cfg.DBDSN, store.PoolOptions{
		MaxConns:        cfg.DBMaxConnections,
		MinConns:        cfg.DBMinConnections,
		AcquireTimeout:  time.Duration(cfg.DBAcquireTimeoutSecs) * time.Second,
		MaxConnIdleTime: time.Duration(cfg.DBIdleTimeoutSecs) * time.Second,
	})
	if err != nil {
		logger.Fatal("store initialization failed", zap.Error(err))
	}
	defer db.Close()

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Pipeline queues
	// ------------------------------------------------
	sendQueue := make(chan models.ClaimedRequest, cfg.SendChannelBuffer)
	postQueue := make(chan models.SendOutcome, cfg.PostSendChannelBuffer)

	// ------------------------------------------------
	// Gateway Client
	// ------------------------------------------------
	ses := gateway.New(cfg.AWSRegion)

	// ------------------------------------------------
	// Dispatcher, Post-Processor, Scheduler
	// ------------------------------------------------
	disp := dispatcher.New(sendQueue, postQueue, ses, cfg.AWSSESFromEmail, cfg.ServerURL, cfg.MaxSendPerSecond, logger)
	defer disp.Close()

	post := postprocessor.New(postQueue, db, logger)
	sched := scheduler.New(db, sendQueue, logger)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); disp.Run(ctx) }()
	go func() { defer wg.Done(); post.Run(ctx) }()
	go func() { defer wg.Done(); sched.Run(ctx) }()

	// ------------------------------------------------
	// Ingest + HTTP API server
	// ------------------------------------------------
	ig := ingest.New(db, sendQueue, logger)

	router := httpserver.New(logger)
	api := &httpserver.API{Ingest: ig, Store: db, Log: logger}
	api.Register(router, cfg.APIKey)

	apiServer := httpserver.NewServer(":"+cfg.ServerPort, router)

	go func() {
		logger.Info("api server started", zap.String("port", cfg.ServerPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	<-ctx.Done()
	logger.Info("shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	// ctx is already cancelled; the dispatcher, post-processor, and
	// scheduler loops observe it directly and drain on their own.
	wg.Wait()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}

	logger.Info("application shutdown complete")
}
