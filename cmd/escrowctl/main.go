package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/realestate-escrow/backend/internal/config"
	"github.com/realestate-escrow/backend/internal/db"
	"github.com/realestate-escrow/backend/internal/events"
	"github.com/realestate-escrow/backend/internal/lock"
	"github.com/realestate-escrow/backend/internal/metadata"
	"github.com/realestate-escrow/backend/internal/repositories"
	"github.com/realestate-escrow/backend/internal/services"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "escrowctl",
		Usage: "operate the real-estate escrow backend",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log at debug level",
			},
		},
		Commands: []*cli.Command{
			seedCmd,
			showCmd,
			migrateCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "escrowctl:", err)
		os.Exit(1)
	}
}

func newLogger(cctx *cli.Context) *zap.Logger {
	if cctx.Bool("verbose") {
		log, _ := zap.NewDevelopment()
		return log
	}
	log, _ := zap.NewProduction()
	return log
}

// env is what the subcommands share: the Postgres stores, Redis and the
// services built on them.
type env struct {
	cfg        *config.Config
	log        *zap.Logger
	pool       *pgxpool.Pool
	rdb        *redis.Client
	fetcher    *metadata.Fetcher
	escrow     *services.EscrowService
	properties *services.PropertyService
}

func openEnv(ctx context.Context, cctx *cli.Context) (*env, error) {
	log := newLogger(cctx)
	cfg := config.Load()
	if cfg.StorageBackend != config.StoragePostgres {
		return nil, fmt.Errorf("escrowctl needs STORAGE_BACKEND=postgres, got %q", cfg.StorageBackend)
	}

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		return nil, err
	}
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		pool.Close()
		return nil, err
	}

	publisher := events.NewRedisPublisher(rdb, log)
	fetcher := metadata.NewFetcher(cfg.IPFSGatewayURL, cfg.MetadataFetchTimeout, cfg.MetadataFetchRetries, log)
	props := repositories.NewPropertyRepo(pool)

	return &env{
		cfg:        cfg,
		log:        log,
		pool:       pool,
		rdb:        rdb,
		fetcher:    fetcher,
		escrow:     services.NewEscrowService(repositories.NewListingRepo(pool), repositories.NewAuditRepo(pool), lock.NewRedisLocker(rdb, lock.DefaultRedisLockOptions(), log), publisher, nil, cfg, log),
		properties: services.NewPropertyService(props, fetcher, publisher, nil, cfg.Roles(), log),
	}, nil
}

func (e *env) Close() {
	_ = e.rdb.Close()
	e.pool.Close()
	_ = e.log.Sync()
}
