package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"aggtree/aggregator"
	"aggtree/config"
	"aggtree/db"
	"aggtree/handlers"
	"aggtree/logger"
	"aggtree/metrics"
	"aggtree/relay"
	"aggtree/repository"
	"aggtree/routers"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Config file error:", err)
		os.Exit(1)
	}

	if err := logger.InitLogger(cfg.Log.AppLogFile, cfg.Log.Level); err != nil {
		fmt.Println("Failed to initialize logger:", err)
		os.Exit(1)
	}
	defer logger.Logger.Sync()

	logger.Logger.Info("Starting aggregation host...")

	// Connect to LevelDB
	ldb, err := db.NewLevelDB(cfg.LevelDB.Path)
	if err != nil {
		logger.Logger.Fatal("Failed to open leveldb", zap.Error(err))
	}
	defer ldb.Close()

	nodeRepo := repository.NewNodeRepository(ldb)

	service := aggregator.NewService(nodeRepo, aggregator.WithCycleRejection(cfg.Topology.RejectCycles))

	if states, err := service.List(context.Background()); err == nil {
		metrics.HostedNodes.Set(float64(len(states)))
	}

	h := handlers.NewHandler(service)
	h.SetReady(false)

	// Setup router
	r := mux.NewRouter()
	routers.RegisterRoutes(r, h, metrics.Handler())

	// HTTP Server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := relay.New(nodeRepo, service, relay.Options{
		Interval: cfg.Relay.Interval,
		Timeout:  cfg.Relay.Timeout,
		Rate:     cfg.Relay.Rate,
		Burst:    cfg.Relay.Burst,
		Batch:    cfg.Relay.Batch,
		Peers:    cfg.PeerURLs(),
	})
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		if err := rl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Logger.Error("Relay stopped", zap.Error(err))
		}
	}()

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger.Error("Server stopped", zap.Error(err))
		}
	}()

	h.SetReady(true)
	logger.Logger.Info("Server running on port", zap.Int("port", cfg.Server.Port),
		zap.Bool("reject_cycles", cfg.Topology.RejectCycles), zap.Int("peers", len(cfg.Relay.Peers)))

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Logger.Info("Shutdown signal received, exiting...")
	h.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Warn("Server shutdown", zap.Error(err))
	}
	cancel()
	<-relayDone
}
