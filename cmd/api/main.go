package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/civic-cleanup/escrow/internal/config"
	"github.com/civic-cleanup/escrow/internal/db"
	"github.com/civic-cleanup/escrow/internal/events"
	apphttp "github.com/civic-cleanup/escrow/internal/http"
	"github.com/civic-cleanup/escrow/internal/services"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := db.OpenStore(ctx, cfg, "migrations", log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer closeStore()

	// Events and leases go through Redis when the store is shared; a memory
	// run keeps everything in process.
	var (
		rdb        *redis.Client
		publisher  events.Publisher
		subscriber events.Subscriber
		lease      services.Lease
	)
	if cfg.StorageDriver == config.StorageDriverMemory {
		rec := events.NewRecorder()
		publisher, subscriber = rec, rec
	} else {
		rdb, err = db.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		publisher = events.NewRedisPublisher(rdb, log)
		subscriber = events.NewRedisSubscriber(rdb, log)
		lease = services.NewRedisLease(rdb, services.SweepLeaseKey, cfg.SweepLeaseTTL, log)
	}

	svc := services.NewRegistry(services.Deps{
		Store:     store,
		Publisher: publisher,
		Config:    cfg,
		Log:       log,
	}, lease)

	app, hub := apphttp.NewApp(cfg, log, svc, subscriber, rdb)
	if err := hub.Start(ctx); err != nil {
		log.Fatal("failed to subscribe to job events", zap.Error(err))
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server",
		zap.String("addr", addr),
		zap.String("storage", cfg.StorageDriver),
	)
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
