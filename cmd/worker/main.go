package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/realestate-escrow/backend/internal/config"
	"github.com/realestate-escrow/backend/internal/db"
	"github.com/realestate-escrow/backend/internal/events"
	apphttp "github.com/realestate-escrow/backend/internal/http"
	"github.com/realestate-escrow/backend/internal/metadata"
	"github.com/realestate-escrow/backend/internal/metrics"
	"github.com/realestate-escrow/backend/internal/repositories"
	"github.com/realestate-escrow/backend/internal/services"
	"go.uber.org/zap"
)

// Worker re-fetches property metadata flagged stale by MetadataUpdate and
// BatchMetadataUpdate events.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)
	if cfg.StorageBackend != config.StoragePostgres {
		log.Fatal("worker needs STORAGE_BACKEND=postgres", zap.String("backend", cfg.StorageBackend))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	m := metrics.New()
	publisher := events.NewRedisPublisher(rdb, log)
	fetcher := metadata.NewFetcher(cfg.IPFSGatewayURL, cfg.MetadataFetchTimeout, cfg.MetadataFetchRetries, log)
	propertyService := services.NewPropertyService(repositories.NewPropertyRepo(pool), fetcher, publisher, m, cfg.Roles(), log)

	ops := fiber.New(fiber.Config{DisableStartupMessage: true})
	apphttp.SetupOpsRoutes(ops, m)
	go func() {
		if err := ops.Listen(fmt.Sprintf(":%s", cfg.WorkerPort)); err != nil {
			log.Error("ops server stopped", zap.Error(err))
		}
	}()
	defer ops.Shutdown()

	log.Info("worker started",
		zap.Duration("refresh_interval", cfg.MetadataRefreshInterval),
		zap.Int("refresh_batch", cfg.MetadataRefreshBatch),
	)

	refreshTicker := time.NewTicker(cfg.MetadataRefreshInterval)
	defer refreshTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runMetadataRefresh(ctx, propertyService, cfg.MetadataRefreshBatch, log)
	for {
		select {
		case <-refreshTicker.C:
			runMetadataRefresh(ctx, propertyService, cfg.MetadataRefreshBatch, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runMetadataRefresh(ctx context.Context, propertyService *services.PropertyService, batch int, log *zap.Logger) {
	n, err := propertyService.RefreshStale(ctx, batch)
	if err != nil {
		log.Error("metadata refresh round failed", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("metadata refreshed", zap.Int("properties", n))
	}
}
