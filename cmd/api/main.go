package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/realestate-escrow/backend/internal/auth"
	"github.com/realestate-escrow/backend/internal/config"
	"github.com/realestate-escrow/backend/internal/db"
	"github.com/realestate-escrow/backend/internal/events"
	apphttp "github.com/realestate-escrow/backend/internal/http"
	"github.com/realestate-escrow/backend/internal/http/dto"
	"github.com/realestate-escrow/backend/internal/http/handlers"
	"github.com/realestate-escrow/backend/internal/lock"
	"github.com/realestate-escrow/backend/internal/metadata"
	"github.com/realestate-escrow/backend/internal/metrics"
	"github.com/realestate-escrow/backend/internal/middleware"
	"github.com/realestate-escrow/backend/internal/repositories"
	"github.com/realestate-escrow/backend/internal/services"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type stores struct {
	listings    services.ListingStore
	properties  services.PropertyStore
	audit       services.AuditStore
	chainEvents handlers.ChainEventReader
	close       func()
}

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open storage", zap.String("backend", cfg.StorageBackend), zap.Error(err))
	}
	defer st.close()

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	m := metrics.New()

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	escrowService := services.NewEscrowService(st.listings, st.audit, newLocker(cfg, rdb, log), publisher, m, cfg, log)
	fetcher := metadata.NewFetcher(cfg.IPFSGatewayURL, cfg.MetadataFetchTimeout, cfg.MetadataFetchRetries, log)
	propertyService := services.NewPropertyService(st.properties, fetcher, publisher, m, cfg.Roles(), log)

	// Handlers
	nonces := auth.NewNonceStore(rdb, cfg.WalletNonceTTL, cfg.WalletSignInDomain, cfg.ChainID)
	wsHub := handlers.NewWSHub(cfg.JWTSecret, subscriber, log)
	h := apphttp.Handlers{
		Auth:     handlers.NewAuthHandler(nonces, cfg, log),
		Listing:  handlers.NewListingHandler(escrowService, log),
		Property: handlers.NewPropertyHandler(propertyService, st.chainEvents, log),
		Meta:     handlers.NewMetaHandler(escrowService, log),
		WSHub:    wsHub,
	}

	// Start WS hub
	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to subscribe ws hub", zap.Error(err))
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(dto.ErrorResponse{
				Error:     err.Error(),
				RequestID: middleware.GetRequestID(c),
			})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, m, h)

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
		zap.String("storage", cfg.StorageBackend),
		zap.Bool("distributed_locks", cfg.DistributedLocks),
	)
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	if cfg.StorageBackend == config.StorageMemory {
		props := repositories.NewMemoryPropertyRepo()
		return &stores{
			listings:    repositories.NewMemoryListingRepo(props),
			properties:  props,
			audit:       repositories.NewMemoryAuditRepo(),
			chainEvents: repositories.NewMemoryChainEventRepo(),
			close:       func() {},
		}, nil
	}

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		return nil, err
	}
	if _, err := db.RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &stores{
		listings:    repositories.NewListingRepo(pool),
		properties:  repositories.NewPropertyRepo(pool),
		audit:       repositories.NewAuditRepo(pool),
		chainEvents: repositories.NewChainEventRepo(pool),
		close:       pool.Close,
	}, nil
}

// newLocker picks the per-token lock. The in-process mutex is enough for a
// single API replica; several replicas need the Redis lock.
func newLocker(cfg *config.Config, rdb *redis.Client, log *zap.Logger) lock.Locker {
	if !cfg.DistributedLocks {
		return lock.NewKeyedMutex()
	}
	opts := lock.DefaultRedisLockOptions()
	if cfg.LockExpiry > 0 {
		opts.Expiry = cfg.LockExpiry
	}
	return lock.NewRedisLocker(rdb, opts, log)
}
