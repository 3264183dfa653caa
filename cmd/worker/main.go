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

	"github.com/civic-cleanup/escrow/internal/config"
	"github.com/civic-cleanup/escrow/internal/db"
	"github.com/civic-cleanup/escrow/internal/events"
	"github.com/civic-cleanup/escrow/internal/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)
	if cfg.StorageDriver == config.StorageDriverMemory {
		// an in-memory store is private to the API process; the API's
		// finalize-on-read and /admin/sweep cover that setup
		log.Fatal("worker needs STORAGE_DRIVER=postgres")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := db.OpenStore(ctx, cfg, "", log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer closeStore()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	deps := services.Deps{
		Store:     store,
		Publisher: events.NewRedisPublisher(rdb, log),
		Config:    cfg,
		Log:       log,
	}
	lease := services.NewRedisLease(rdb, services.SweepLeaseKey, cfg.SweepLeaseTTL, log)
	svc := services.NewRegistry(deps, lease)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.WorkerPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down worker")
		cancel()
	}()

	log.Info("worker started",
		zap.Duration("sweep_interval", cfg.SweepInterval),
		zap.Int("batch_size", cfg.SweepBatchSize),
	)
	svc.Sweeper.Run(ctx, cfg.SweepInterval)

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = srv.Shutdown(shutdownCtx)
}
