package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/realestate-escrow/backend/internal/events"
	"github.com/realestate-escrow/backend/internal/metrics"
	"github.com/realestate-escrow/backend/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisCursorBlock = "chain-indexer:cursor:block"

// LogSource is the part of an Ethereum client the indexer needs.
// *ethclient.Client satisfies it.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

type EventStore interface {
	Insert(ctx context.Context, e *models.ChainEvent) (bool, error)
}

type PropertyMirror interface {
	UpdateOwner(ctx context.Context, tokenID uint64, owner common.Address) error
	MarkStale(ctx context.Context, fromTokenID, toTokenID uint64) error
}

type IndexerOptions struct {
	Contract      common.Address
	StartBlock    uint64
	Confirmations uint64
	BatchSize     uint64
}

type Indexer struct {
	source     LogSource
	events     EventStore
	properties PropertyMirror
	publisher  events.Publisher
	rdb        *redis.Client
	metrics    *metrics.Metrics
	opts       IndexerOptions
	log        *zap.Logger
}

func NewIndexer(
	source LogSource,
	store EventStore,
	properties PropertyMirror,
	publisher events.Publisher,
	rdb *redis.Client,
	m *metrics.Metrics,
	opts IndexerOptions,
	log *zap.Logger,
) *Indexer {
	if opts.BatchSize == 0 {
		opts.BatchSize = 500
	}
	return &Indexer{
		source:     source,
		events:     store,
		properties: properties,
		publisher:  publisher,
		rdb:        rdb,
		metrics:    m,
		opts:       opts,
		log:        log,
	}
}

// Run polls until ctx is done.
func (ix *Indexer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := ix.PollOnce(ctx); err != nil && ctx.Err() == nil {
			ix.log.Error("poll cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce indexes every confirmed block past the cursor, one batch of
// blocks at a time, and returns the number of new events. The cursor only
// advances after a batch is fully handled, so a crash replays at most one
// batch and the (tx hash, log index) key keeps the replay idempotent.
func (ix *Indexer) PollOnce(ctx context.Context) (int, error) {
	head, err := ix.source.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("get block number: %w", err)
	}
	if head < ix.opts.Confirmations {
		return 0, nil
	}
	safe := head - ix.opts.Confirmations

	next, err := ix.nextBlock(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for from := next; from <= safe; {
		to := min(from+ix.opts.BatchSize-1, safe)

		logs, err := ix.source.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{ix.opts.Contract},
			Topics:    [][]common.Hash{Topics},
		})
		if err != nil {
			return total, fmt.Errorf("filter logs %d-%d: %w", from, to, err)
		}

		for _, lg := range logs {
			n, err := ix.handle(ctx, lg)
			if err != nil {
				return total, err
			}
			total += n
		}

		if err := ix.rdb.Set(ctx, redisCursorBlock, strconv.FormatUint(to+1, 10), 0).Err(); err != nil {
			return total, fmt.Errorf("save cursor: %w", err)
		}
		ix.metrics.IndexerBlock(to)
		from = to + 1
	}

	if total > 0 {
		ix.log.Info("indexed contract events", zap.Int("count", total), zap.Uint64("safe_block", safe))
	}
	return total, nil
}

func (ix *Indexer) nextBlock(ctx context.Context) (uint64, error) {
	val, err := ix.rdb.Get(ctx, redisCursorBlock).Result()
	if errors.Is(err, redis.Nil) {
		return ix.opts.StartBlock, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	n, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		ix.log.Warn("corrupt cursor, restarting from start block", zap.String("value", val))
		return ix.opts.StartBlock, nil
	}
	return n, nil
}

func (ix *Indexer) handle(ctx context.Context, lg types.Log) (int, error) {
	if lg.Removed {
		return 0, nil
	}
	e, err := DecodeLog(lg)
	if err != nil {
		// a malformed or foreign log can never decode, skip it
		ix.log.Warn("skipping log", zap.String("tx", lg.TxHash.Hex()), zap.Uint("index", lg.Index), zap.Error(err))
		return 0, nil
	}

	// mirror updates are idempotent and run before the insert, so a failure
	// here is retried on the next poll
	switch e.Name {
	case models.ChainEventTransfer:
		if err := ix.properties.UpdateOwner(ctx, *e.TokenID, *e.To); err != nil {
			return 0, fmt.Errorf("update owner of %d: %w", *e.TokenID, err)
		}
	case models.ChainEventMetadataUpdate:
		if err := ix.properties.MarkStale(ctx, *e.TokenID, *e.TokenID); err != nil {
			return 0, fmt.Errorf("mark %d stale: %w", *e.TokenID, err)
		}
	case models.ChainEventBatchMetadataUpdate:
		if err := ix.properties.MarkStale(ctx, *e.FromTokenID, *e.ToTokenID); err != nil {
			return 0, fmt.Errorf("mark %d-%d stale: %w", *e.FromTokenID, *e.ToTokenID, err)
		}
	}

	inserted, err := ix.events.Insert(ctx, e)
	if err != nil {
		return 0, fmt.Errorf("store %s event: %w", e.Name, err)
	}
	if !inserted {
		return 0, nil
	}
	ix.metrics.IndexedLog(e.Name)

	if e.Name == models.ChainEventTransfer {
		_ = ix.publisher.Publish(ctx, events.ChannelProperty, events.Event{
			Type: events.EventOwnershipTransferred,
			Payload: map[string]any{
				"token_id": strconv.FormatUint(*e.TokenID, 10),
				"from":     e.From.Hex(),
				"to":       e.To.Hex(),
				"tx_hash":  e.TxHash.Hex(),
			},
		})
	}

	ix.log.Debug("indexed event",
		zap.String("name", e.Name),
		zap.Uint64("block", e.BlockNumber),
		zap.String("tx", e.TxHash.Hex()),
	)
	return 1, nil
}
