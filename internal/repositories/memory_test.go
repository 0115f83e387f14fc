package repositories

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/realestate-escrow/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	seller = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	buyer  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

func newListing(id uint64) *models.Listing {
	return &models.Listing{
		TokenID:          id,
		Seller:           seller,
		Buyer:            buyer,
		PurchasePrice:    big.NewInt(20),
		EscrowAmount:     big.NewInt(10),
		DepositedEarnest: new(big.Int),
		LenderFunded:     new(big.Int),
		RemainingBalance: new(big.Int),
		IsListed:         true,
		Status:           models.ListingStatusListed,
	}
}

func TestMemoryListingRepo_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryListingRepo(nil)

	l := newListing(1)
	require.NoError(t, repo.Create(ctx, l))
	assert.Equal(t, 1, l.Version)

	err := repo.Create(ctx, newListing(1))
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := repo.GetByTokenID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, buyer, got.Buyer)

	// returned copies are detached from the store
	got.DepositedEarnest.SetInt64(5)
	again, _ := repo.GetByTokenID(ctx, 1)
	assert.Equal(t, int64(0), again.DepositedEarnest.Int64())

	_, err = repo.GetByTokenID(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryListingRepo_UpdateVersionCheck(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryListingRepo(nil)
	require.NoError(t, repo.Create(ctx, newListing(1)))

	a, _ := repo.GetByTokenID(ctx, 1)
	b, _ := repo.GetByTokenID(ctx, 1)

	a.InspectionPassed = true
	require.NoError(t, repo.Update(ctx, a))
	assert.Equal(t, 2, a.Version)

	b.Approvals = models.ApprovalBuyer
	assert.ErrorIs(t, repo.Update(ctx, b), ErrConflict)

	got, _ := repo.GetByTokenID(ctx, 1)
	assert.True(t, got.InspectionPassed)
	assert.Equal(t, models.ApprovalSet(0), got.Approvals)
}

func TestMemoryListingRepo_FinalizeMovesPropertyOwner(t *testing.T) {
	ctx := context.Background()
	props := NewMemoryPropertyRepo()
	repo := NewMemoryListingRepo(props)

	require.NoError(t, props.Upsert(ctx, &models.Property{TokenID: 1, Owner: seller, Name: "Villa"}))
	require.NoError(t, repo.Create(ctx, newListing(1)))

	l, _ := repo.GetByTokenID(ctx, 1)
	l.IsListed = false
	l.CurrentOwner = &buyer
	require.NoError(t, repo.Finalize(ctx, l))

	p, err := props.GetByTokenID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, buyer, p.Owner)
}

func TestMemoryListingRepo_ListFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryListingRepo(nil)
	for _, id := range []uint64{3, 1, 2} {
		require.NoError(t, repo.Create(ctx, newListing(id)))
	}
	l, _ := repo.GetByTokenID(ctx, 2)
	l.IsListed = false
	require.NoError(t, repo.Update(ctx, l))

	all, err := repo.List(ctx, ListingFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(1), all[0].TokenID)

	open := true
	listed, err := repo.List(ctx, ListingFilter{IsListed: &open})
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	paged, err := repo.List(ctx, ListingFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, uint64(2), paged[0].TokenID)
}

func TestMemoryPropertyRepo_UpsertKeepsOwner(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPropertyRepo()

	require.NoError(t, repo.Upsert(ctx, &models.Property{TokenID: 7, Owner: seller, Name: "old"}))
	require.NoError(t, repo.UpdateOwner(ctx, 7, buyer))
	require.NoError(t, repo.MarkStale(ctx, 5, 9))

	stale, err := repo.ListStale(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	require.NoError(t, repo.Upsert(ctx, &models.Property{TokenID: 7, Owner: seller, Name: "new"}))
	p, _ := repo.GetByTokenID(ctx, 7)
	assert.Equal(t, buyer, p.Owner)
	assert.Equal(t, "new", p.Name)
	assert.False(t, p.MetadataStale)
}

func TestMemoryChainEventRepo_Idempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryChainEventRepo()
	tok := uint64(4)
	e := &models.ChainEvent{Name: models.ChainEventTransfer, TxHash: common.HexToHash("0x01"), LogIndex: 3, TokenID: &tok}

	inserted, err := repo.Insert(ctx, e)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.Insert(ctx, e)
	require.NoError(t, err)
	assert.False(t, inserted)

	from, to := uint64(1), uint64(10)
	_, _ = repo.Insert(ctx, &models.ChainEvent{Name: models.ChainEventBatchMetadataUpdate, TxHash: common.HexToHash("0x02"), FromTokenID: &from, ToTokenID: &to})

	events, err := repo.ListByToken(ctx, 4, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestMemoryAuditRepo_NewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAuditRepo()
	require.NoError(t, repo.Log(ctx, models.AuditLog{Action: "a", EntityType: "listing", EntityID: "1"}))
	require.NoError(t, repo.Log(ctx, models.AuditLog{Action: "b", EntityType: "listing", EntityID: "1"}))
	require.NoError(t, repo.Log(ctx, models.AuditLog{Action: "c", EntityType: "listing", EntityID: "2"}))

	logs, err := repo.GetByEntity(ctx, "listing", "1", 0, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "b", logs[0].Action)
}
