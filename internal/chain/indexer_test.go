package chain

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/realestate-escrow/backend/internal/events"
	"github.com/realestate-escrow/backend/internal/models"
	"github.com/realestate-escrow/backend/internal/repositories"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	mu      sync.Mutex
	head    uint64
	logs    []types.Log
	queries []ethereum.FilterQuery
}

func (s *fakeSource) BlockNumber(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head, nil
}

func (s *fakeSource) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	var out []types.Log
	for _, lg := range s.logs {
		if lg.BlockNumber >= q.FromBlock.Uint64() && lg.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, lg)
		}
	}
	return out, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, events.Event) error { return nil }

type indexerFixture struct {
	ix     *Indexer
	source *fakeSource
	props  *repositories.MemoryPropertyRepo
	store  *repositories.MemoryChainEventRepo
	mr     *miniredis.Miniredis
}

func newIndexerFixture(t *testing.T, opts IndexerOptions) *indexerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	f := &indexerFixture{
		source: &fakeSource{},
		props:  repositories.NewMemoryPropertyRepo(),
		store:  repositories.NewMemoryChainEventRepo(),
		mr:     mr,
	}
	opts.Contract = contract
	f.ix = NewIndexer(f.source, f.store, f.props, nopPublisher{}, rdb, nil, opts, zap.NewNop())
	return f
}

func TestIndexer_MirrorsTransfersAndMetadataUpdates(t *testing.T) {
	ctx := context.Background()
	f := newIndexerFixture(t, IndexerOptions{Confirmations: 2, BatchSize: 5})
	for id := uint64(1); id <= 3; id++ {
		require.NoError(t, f.props.Upsert(ctx, &models.Property{TokenID: id, Owner: seller}))
	}

	f.source.head = 20
	f.source.logs = []types.Log{
		transferLog(3, 0, seller, buyer, 1),
		{Address: contract, Topics: []common.Hash{TopicBatchMetadataUpdate}, Data: append(uintWord(2), uintWord(3)...), BlockNumber: 12, TxHash: common.HexToHash("0xbb")},
		transferLog(19, 0, buyer, seller, 1), // not yet confirmed
	}

	n, err := f.ix.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	p, _ := f.props.GetByTokenID(ctx, 1)
	assert.Equal(t, buyer, p.Owner)

	stale, _ := f.props.ListStale(ctx, 10)
	assert.Len(t, stale, 2)

	cursor, err := f.mr.Get(redisCursorBlock)
	require.NoError(t, err)
	assert.Equal(t, "19", cursor)
	// blocks 0-18 in batches of 5
	assert.Len(t, f.source.queries, 4)

	f.source.head = 21
	n, err = f.ix.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	p, _ = f.props.GetByTokenID(ctx, 1)
	assert.Equal(t, seller, p.Owner)
}

func TestIndexer_ReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newIndexerFixture(t, IndexerOptions{StartBlock: 5})
	f.source.head = 10
	f.source.logs = []types.Log{transferLog(6, 1, seller, buyer, 2), transferLog(2, 0, seller, buyer, 9)}

	n, err := f.ix.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "logs before the start block are ignored")

	f.mr.Del(redisCursorBlock)
	n, err = f.ix.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	mirrored, err := f.store.ListByToken(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, mirrored, 1)
}

func TestIndexer_SkipsUndecodableLogs(t *testing.T) {
	ctx := context.Background()
	f := newIndexerFixture(t, IndexerOptions{})
	f.source.head = 4
	f.source.logs = []types.Log{
		{Address: contract, Topics: []common.Hash{TopicMetadataUpdate}, BlockNumber: 1},
		{Address: contract, Topics: []common.Hash{TopicMetadataUpdate}, Data: uintWord(1), BlockNumber: 2, Removed: true},
		transferLog(3, 0, seller, buyer, 1),
	}

	n, err := f.ix.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIndexer_WaitsForConfirmations(t *testing.T) {
	f := newIndexerFixture(t, IndexerOptions{Confirmations: 6})
	f.source.head = 3

	n, err := f.ix.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, f.source.queries)
}
