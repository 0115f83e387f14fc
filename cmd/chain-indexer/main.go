package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gofiber/fiber/v2"
	"github.com/realestate-escrow/backend/internal/chain"
	"github.com/realestate-escrow/backend/internal/config"
	"github.com/realestate-escrow/backend/internal/db"
	"github.com/realestate-escrow/backend/internal/events"
	apphttp "github.com/realestate-escrow/backend/internal/http"
	"github.com/realestate-escrow/backend/internal/metrics"
	"github.com/realestate-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

// Chain indexer mirrors Transfer, Approval and metadata update events of the
// property NFT contract into Postgres and keeps property owners in sync.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	if cfg.PropertyNFTAddress == (common.Address{}) {
		log.Fatal("PROPERTY_NFT_ADDRESS is required")
	}
	if cfg.StorageBackend != config.StoragePostgres {
		log.Fatal("chain-indexer needs STORAGE_BACKEND=postgres", zap.String("backend", cfg.StorageBackend))
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

	client, err := ethclient.DialContext(ctx, cfg.ChainRPCURL)
	if err != nil {
		log.Fatal("failed to dial chain rpc", zap.String("url", cfg.ChainRPCURL), zap.Error(err))
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		log.Fatal("failed to read chain id", zap.Error(err))
	}
	if chainID.Int64() != cfg.ChainID {
		log.Fatal("chain id mismatch",
			zap.Int64("configured", cfg.ChainID),
			zap.String("rpc", chainID.String()),
		)
	}

	m := metrics.New()
	indexer := chain.NewIndexer(
		client,
		repositories.NewChainEventRepo(pool),
		repositories.NewPropertyRepo(pool),
		events.NewRedisPublisher(rdb, log),
		rdb,
		m,
		chain.IndexerOptions{
			Contract:      cfg.PropertyNFTAddress,
			StartBlock:    cfg.IndexerStartBlock,
			Confirmations: cfg.IndexerConfirmations,
			BatchSize:     cfg.IndexerBatchSize,
		},
		log,
	)

	ops := fiber.New(fiber.Config{DisableStartupMessage: true})
	apphttp.SetupOpsRoutes(ops, m)
	go func() {
		if err := ops.Listen(fmt.Sprintf(":%s", cfg.IndexerPort)); err != nil {
			log.Error("ops server stopped", zap.Error(err))
		}
	}()
	defer ops.Shutdown()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down chain indexer")
		cancel()
	}()

	log.Info("chain indexer started",
		zap.String("contract", cfg.PropertyNFTAddress.Hex()),
		zap.Int64("chain_id", cfg.ChainID),
		zap.Uint64("confirmations", cfg.IndexerConfirmations),
	)
	indexer.Run(ctx, cfg.IndexerPollInterval)
}
