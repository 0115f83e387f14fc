package services

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/realestate-escrow/backend/internal/config"
	"github.com/realestate-escrow/backend/internal/events"
	"github.com/realestate-escrow/backend/internal/lock"
	"github.com/realestate-escrow/backend/internal/metrics"
	"github.com/realestate-escrow/backend/internal/models"
	"github.com/realestate-escrow/backend/internal/money"
	"github.com/realestate-escrow/backend/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	seller    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	buyer     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	inspector = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	lender    = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	stranger  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, channel string, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type escrowFixture struct {
	svc       *EscrowService
	listings  *repositories.MemoryListingRepo
	props     *repositories.MemoryPropertyRepo
	audit     *repositories.MemoryAuditRepo
	publisher *recordingPublisher
	metrics   *metrics.Metrics
}

func newEscrowFixture(t *testing.T, opts ...func(*config.Config)) *escrowFixture {
	t.Helper()
	cfg := &config.Config{
		SellerAddress:    seller,
		InspectorAddress: inspector,
		LenderAddress:    lender,
	}
	for _, o := range opts {
		o(cfg)
	}

	props := repositories.NewMemoryPropertyRepo()
	f := &escrowFixture{
		listings:  repositories.NewMemoryListingRepo(props),
		props:     props,
		audit:     repositories.NewMemoryAuditRepo(),
		publisher: &recordingPublisher{},
		metrics:   metrics.New(),
	}
	f.svc = NewEscrowService(f.listings, f.audit, lock.NewKeyedMutex(), f.publisher, f.metrics, cfg, zap.NewNop())
	return f
}

func eth(s string) *big.Int { return money.MustEther(s) }

// listDefault lists token 1 with the reference terms: 20 price, 10 escrow,
// 6 months at 10% per year.
func (f *escrowFixture) listDefault(t *testing.T, tokenID uint64) *models.Listing {
	t.Helper()
	l, err := f.svc.List(context.Background(), seller, ListParams{
		TokenID:         tokenID,
		Buyer:           buyer,
		PurchasePrice:   eth("20"),
		EscrowAmount:    eth("10"),
		LoanTermMonths:  6,
		InterestRateBPS: money.PercentToBPS(10),
	})
	require.NoError(t, err)
	return l
}

// readyToFinalize drives a listing up to the point where the seller can
// finalize.
func (f *escrowFixture) readyToFinalize(t *testing.T, tokenID uint64) {
	t.Helper()
	ctx := context.Background()
	f.listDefault(t, tokenID)

	_, err := f.svc.DepositEarnest(ctx, buyer, tokenID, eth("10"))
	require.NoError(t, err)
	_, err = f.svc.UpdateInspectionStatus(ctx, inspector, tokenID, true)
	require.NoError(t, err)
	for _, who := range []common.Address{buyer, seller, lender} {
		_, err = f.svc.ApproveSale(ctx, who, tokenID)
		require.NoError(t, err)
	}
	_, err = f.svc.FundLoan(ctx, lender, tokenID, eth("10"))
	require.NoError(t, err)
}

func TestEscrow_ReferenceScenario(t *testing.T) {
	ctx := context.Background()
	f := newEscrowFixture(t)
	require.NoError(t, f.props.Upsert(ctx, &models.Property{TokenID: 1, Owner: seller, Name: "Penthouse"}))

	l := f.listDefault(t, 1)
	assert.Equal(t, models.ListingStatusListed, l.Status)

	l, err := f.svc.DepositEarnest(ctx, buyer, 1, eth("10"))
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusEarnestDeposited, l.Status)

	l, err = f.svc.UpdateInspectionStatus(ctx, inspector, 1, true)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusInspected, l.Status)

	for _, who := range []common.Address{buyer, seller, lender} {
		l, err = f.svc.ApproveSale(ctx, who, 1)
		require.NoError(t, err)
	}
	assert.Equal(t, models.ListingStatusApproved, l.Status)

	_, err = f.svc.FundLoan(ctx, lender, 1, eth("10"))
	require.NoError(t, err)

	l, err = f.svc.FinalizeSale(ctx, seller, 1)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusFinalized, l.Status)

	owner, err := f.svc.GetCurrentOwner(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, buyer, owner)

	listed, err := f.svc.IsListed(ctx, 1)
	require.NoError(t, err)
	assert.False(t, listed)

	remaining, err := f.svc.GetRemainingAmount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "10.5", money.FormatEther(remaining))

	p, err := f.props.GetByTokenID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, buyer, p.Owner)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Operations.WithLabelValues(OpFinalizeSale, metrics.OutcomeOK)))
}

func TestEscrow_FinalizeBeforeInspection(t *testing.T) {
	ctx := context.Background()
	f := newEscrowFixture(t)
	f.listDefault(t, 1)
	_, err := f.svc.DepositEarnest(ctx, buyer, 1, eth("10"))
	require.NoError(t, err)

	_, err = f.svc.FinalizeSale(ctx, seller, 1)
	assert.ErrorIs(t, err, ErrNotInspected)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Operations.WithLabelValues(OpFinalizeSale, metrics.OutcomeRejected)))
}

func TestEscrow_Installments(t *testing.T) {
	ctx := context.Background()
	f := newEscrowFixture(t)
	f.readyToFinalize(t, 1)
	_, err := f.svc.FinalizeSale(ctx, seller, 1)
	require.NoError(t, err)

	before, _ := f.listings.GetByTokenID(ctx, 1)

	_, _, err = f.svc.MakePayment(ctx, buyer, 1, eth("11"))
	assert.ErrorIs(t, err, ErrOverPayment)

	after, _ := f.listings.GetByTokenID(ctx, 1)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, 0, before.RemainingBalance.Cmp(after.RemainingBalance))

	l, p, err := f.svc.MakePayment(ctx, buyer, 1, eth("4"))
	require.NoError(t, err)
	assert.Equal(t, "6.5", money.FormatEther(l.RemainingBalance))
	assert.Equal(t, "10.5", money.FormatEther(p.BalanceBefore))
	assert.Equal(t, "6.5", money.FormatEther(p.BalanceAfter))

	l, _, err = f.svc.MakePayment(ctx, buyer, 1, eth("6.5"))
	require.NoError(t, err)
	assert.Equal(t, 0, l.RemainingBalance.Sign())
	assert.Equal(t, models.ListingStatusFullyPaid, l.Status)
	assert.InEpsilon(t, 10.5e18, testutil.ToFloat64(f.metrics.PaymentsWei), 1e-9)

	_, _, err = f.svc.MakePayment(ctx, buyer, 1, big.NewInt(1))
	assert.ErrorIs(t, err, ErrOverPayment)

	payments, err := f.svc.GetPayments(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, payments, 2)
	assert.Equal(t, 2, f.publisher.count(events.EventPaymentReceived))
}

func TestEscrow_FinalizeWithoutLoanIsFullyPaid(t *testing.T) {
	ctx := context.Background()
	f := newEscrowFixture(t)
	_, err := f.svc.List(ctx, seller, ListParams{
		TokenID: 2, Buyer: buyer, PurchasePrice: eth("5"), EscrowAmount: eth("5"),
	})
	require.NoError(t, err)

	_, err = f.svc.DepositEarnest(ctx, buyer, 2, eth("5"))
	require.NoError(t, err)
	_, err = f.svc.UpdateInspectionStatus(ctx, inspector, 2, true)
	require.NoError(t, err)
	for _, who := range []common.Address{buyer, seller, lender} {
		_, err = f.svc.ApproveSale(ctx, who, 2)
		require.NoError(t, err)
	}

	l, err := f.svc.FinalizeSale(ctx, seller, 2)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusFullyPaid, l.Status)
	assert.Equal(t, 0, l.RemainingBalance.Sign())

	_, _, err = f.svc.MakePayment(ctx, buyer, 2, big.NewInt(1))
	assert.ErrorIs(t, err, ErrOverPayment)
}

func TestEscrow_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *escrowFixture)
		call  func(f *escrowFixture) error
		want  error
	}{
		{
			name: "list by non-seller",
			call: func(f *escrowFixture) error {
				_, err := f.svc.List(context.Background(), buyer, ListParams{TokenID: 1, Buyer: buyer, PurchasePrice: eth("1"), EscrowAmount: eth("1")})
				return err
			},
			want: ErrUnauthorized,
		},
		{
			name: "escrow above price",
			call: func(f *escrowFixture) error {
				_, err := f.svc.List(context.Background(), seller, ListParams{TokenID: 1, Buyer: buyer, PurchasePrice: eth("1"), EscrowAmount: eth("2")})
				return err
			},
			want: ErrInvalidTerms,
		},
		{
			name: "token id beyond store range",
			call: func(f *escrowFixture) error {
				_, err := f.svc.List(context.Background(), seller, ListParams{TokenID: models.MaxTokenID + 1, Buyer: buyer, PurchasePrice: eth("1"), EscrowAmount: eth("1")})
				return err
			},
			want: ErrInvalidTerms,
		},
		{
			name: "buyer is seller",
			call: func(f *escrowFixture) error {
				_, err := f.svc.List(context.Background(), seller, ListParams{TokenID: 1, Buyer: seller, PurchasePrice: eth("1"), EscrowAmount: eth("1")})
				return err
			},
			want: ErrInvalidTerms,
		},
		{
			name:  "relist",
			setup: func(t *testing.T, f *escrowFixture) { f.listDefault(t, 1) },
			call: func(f *escrowFixture) error {
				_, err := f.svc.List(context.Background(), seller, ListParams{TokenID: 1, Buyer: buyer, PurchasePrice: eth("1"), EscrowAmount: eth("1")})
				return err
			},
			want: ErrAlreadyListed,
		},
		{
			name: "deposit on unknown token",
			call: func(f *escrowFixture) error {
				_, err := f.svc.DepositEarnest(context.Background(), buyer, 9, eth("1"))
				return err
			},
			want: ErrUnknownToken,
		},
		{
			name:  "deposit by stranger",
			setup: func(t *testing.T, f *escrowFixture) { f.listDefault(t, 1) },
			call: func(f *escrowFixture) error {
				_, err := f.svc.DepositEarnest(context.Background(), stranger, 1, eth("1"))
				return err
			},
			want: ErrUnauthorized,
		},
		{
			name:  "zero deposit",
			setup: func(t *testing.T, f *escrowFixture) { f.listDefault(t, 1) },
			call: func(f *escrowFixture) error {
				_, err := f.svc.DepositEarnest(context.Background(), buyer, 1, new(big.Int))
				return err
			},
			want: ErrInvalidAmount,
		},
		{
			name:  "inspection by seller",
			setup: func(t *testing.T, f *escrowFixture) { f.listDefault(t, 1) },
			call: func(f *escrowFixture) error {
				_, err := f.svc.UpdateInspectionStatus(context.Background(), seller, 1, true)
				return err
			},
			want: ErrUnauthorized,
		},
		{
			name:  "approval by stranger",
			setup: func(t *testing.T, f *escrowFixture) { f.listDefault(t, 1) },
			call: func(f *escrowFixture) error {
				_, err := f.svc.ApproveSale(context.Background(), stranger, 1)
				return err
			},
			want: ErrUnauthorized,
		},
		{
			name:  "loan funded by buyer",
			setup: func(t *testing.T, f *escrowFixture) { f.listDefault(t, 1) },
			call: func(f *escrowFixture) error {
				_, err := f.svc.FundLoan(context.Background(), buyer, 1, eth("10"))
				return err
			},
			want: ErrUnauthorized,
		},
		{
			name:  "finalize by buyer",
			setup: func(t *testing.T, f *escrowFixture) { f.readyToFinalize(t, 1) },
			call: func(f *escrowFixture) error {
				_, err := f.svc.FinalizeSale(context.Background(), buyer, 1)
				return err
			},
			want: ErrUnauthorized,
		},
		{
			name: "finalize without lender approval",
			setup: func(t *testing.T, f *escrowFixture) {
				ctx := context.Background()
				f.listDefault(t, 1)
				_, _ = f.svc.DepositEarnest(ctx, buyer, 1, eth("20"))
				_, _ = f.svc.UpdateInspectionStatus(ctx, inspector, 1, true)
				_, _ = f.svc.ApproveSale(ctx, buyer, 1)
				_, _ = f.svc.ApproveSale(ctx, seller, 1)
			},
			call: func(f *escrowFixture) error {
				_, err := f.svc.FinalizeSale(context.Background(), seller, 1)
				return err
			},
			want: ErrIncompleteApprovals,
		},
		{
			name: "finalize without loan funds",
			setup: func(t *testing.T, f *escrowFixture) {
				ctx := context.Background()
				f.listDefault(t, 1)
				_, _ = f.svc.DepositEarnest(ctx, buyer, 1, eth("10"))
				_, _ = f.svc.UpdateInspectionStatus(ctx, inspector, 1, true)
				for _, who := range []common.Address{buyer, seller, lender} {
					_, _ = f.svc.ApproveSale(ctx, who, 1)
				}
			},
			call: func(f *escrowFixture) error {
				_, err := f.svc.FinalizeSale(context.Background(), seller, 1)
				return err
			},
			want: ErrInsufficientEscrow,
		},
		{
			name: "finalize with short earnest",
			setup: func(t *testing.T, f *escrowFixture) {
				ctx := context.Background()
				f.listDefault(t, 1)
				_, _ = f.svc.DepositEarnest(ctx, buyer, 1, eth("5"))
				_, _ = f.svc.UpdateInspectionStatus(ctx, inspector, 1, true)
				_, _ = f.svc.ApproveSale(ctx, buyer, 1)
				_, _ = f.svc.ApproveSale(ctx, seller, 1)
				_, _ = f.svc.FundLoan(ctx, lender, 1, eth("15"))
			},
			call: func(f *escrowFixture) error {
				_, err := f.svc.FinalizeSale(context.Background(), seller, 1)
				return err
			},
			want: ErrInsufficientEscrow,
		},
		{
			name:  "payment before finalization",
			setup: func(t *testing.T, f *escrowFixture) { f.readyToFinalize(t, 1) },
			call: func(f *escrowFixture) error {
				_, _, err := f.svc.MakePayment(context.Background(), buyer, 1, eth("1"))
				return err
			},
			want: ErrNotFinalized,
		},
		{
			name:  "payment by previous owner",
			setup: finalized,
			call: func(f *escrowFixture) error {
				_, _, err := f.svc.MakePayment(context.Background(), seller, 1, eth("1"))
				return err
			},
			want: ErrUnauthorized,
		},
		{
			name:  "deposit after finalization",
			setup: finalized,
			call: func(f *escrowFixture) error {
				_, err := f.svc.DepositEarnest(context.Background(), buyer, 1, eth("1"))
				return err
			},
			want: ErrListingClosed,
		},
		{
			name:  "inspection after finalization",
			setup: finalized,
			call: func(f *escrowFixture) error {
				_, err := f.svc.UpdateInspectionStatus(context.Background(), inspector, 1, false)
				return err
			},
			want: ErrListingClosed,
		},
		{
			name:  "approval after finalization",
			setup: finalized,
			call: func(f *escrowFixture) error {
				_, err := f.svc.ApproveSale(context.Background(), lender, 1)
				return err
			},
			want: ErrListingClosed,
		},
		{
			name:  "second finalization",
			setup: finalized,
			call: func(f *escrowFixture) error {
				_, err := f.svc.FinalizeSale(context.Background(), seller, 1)
				return err
			},
			want: ErrListingClosed,
		},
		{
			name: "reads on unknown token",
			call: func(f *escrowFixture) error {
				_, err := f.svc.GetRemainingAmount(context.Background(), 42)
				return err
			},
			want: ErrUnknownToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEscrowFixture(t)
			if tt.setup != nil {
				tt.setup(t, f)
			}
			before, _ := f.listings.List(context.Background(), repositories.ListingFilter{})

			err := tt.call(f)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsRejection(err))

			after, _ := f.listings.List(context.Background(), repositories.ListingFilter{})
			assert.Equal(t, before, after, "rejected operation must not change state")
		})
	}
}

func finalized(t *testing.T, f *escrowFixture) {
	f.readyToFinalize(t, 1)
	_, err := f.svc.FinalizeSale(context.Background(), seller, 1)
	require.NoError(t, err)
}

func TestEscrow_ApproveSaleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newEscrowFixture(t)
	f.listDefault(t, 1)

	var l *models.Listing
	var err error
	for i := 0; i < 3; i++ {
		l, err = f.svc.ApproveSale(ctx, buyer, 1)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, l.Approvals.Count())

	history, err := f.svc.GetHistory(ctx, 1, 0, 0)
	require.NoError(t, err)
	// list + one approval
	assert.Len(t, history, 2)
	assert.Equal(t, OpApproveSale, history[0].Action)
}

func TestEscrow_InspectionRevocation(t *testing.T) {
	ctx := context.Background()
	f := newEscrowFixture(t)
	f.readyToFinalize(t, 1)

	l, err := f.svc.UpdateInspectionStatus(ctx, inspector, 1, false)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusEarnestDeposited, l.Status)

	_, err = f.svc.FinalizeSale(ctx, seller, 1)
	assert.ErrorIs(t, err, ErrNotInspected)
}

func TestEscrow_InspectionFrozenAfterApproval(t *testing.T) {
	ctx := context.Background()
	f := newEscrowFixture(t, func(c *config.Config) { c.FreezeInspectionAfterApproval = true })
	f.listDefault(t, 1)

	_, err := f.svc.UpdateInspectionStatus(ctx, inspector, 1, true)
	require.NoError(t, err)
	_, err = f.svc.UpdateInspectionStatus(ctx, inspector, 1, false)
	require.NoError(t, err, "no approval yet, verdict may change")
	_, err = f.svc.UpdateInspectionStatus(ctx, inspector, 1, true)
	require.NoError(t, err)

	_, err = f.svc.ApproveSale(ctx, buyer, 1)
	require.NoError(t, err)

	_, err = f.svc.UpdateInspectionStatus(ctx, inspector, 1, false)
	assert.ErrorIs(t, err, ErrInspectionLocked)

	_, err = f.svc.UpdateInspectionStatus(ctx, inspector, 1, true)
	assert.NoError(t, err, "repeating the same verdict is allowed")
}

func TestEscrow_LoanPrincipalIsCapped(t *testing.T) {
	ctx := context.Background()
	f := newEscrowFixture(t)
	f.listDefault(t, 1)

	_, err := f.svc.DepositEarnest(ctx, buyer, 1, eth("10"))
	require.NoError(t, err)
	_, err = f.svc.UpdateInspectionStatus(ctx, inspector, 1, true)
	require.NoError(t, err)
	_, err = f.svc.ApproveSale(ctx, buyer, 1)
	require.NoError(t, err)
	_, err = f.svc.ApproveSale(ctx, seller, 1)
	require.NoError(t, err)
	// funding approves on behalf of the lender
	_, err = f.svc.FundLoan(ctx, lender, 1, eth("12"))
	require.NoError(t, err)

	l, err := f.svc.FinalizeSale(ctx, seller, 1)
	require.NoError(t, err)
	assert.Equal(t, "10.5", money.FormatEther(l.RemainingBalance))
}

func TestEscrow_ConcurrentDepositsSerialize(t *testing.T) {
	ctx := context.Background()
	f := newEscrowFixture(t)
	f.listDefault(t, 1)
	f.listDefault(t, 2)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		for _, token := range []uint64{1, 2} {
			wg.Add(1)
			go func(token uint64) {
				defer wg.Done()
				_, err := f.svc.DepositEarnest(ctx, buyer, token, big.NewInt(1))
				errs <- err
			}(token)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, token := range []uint64{1, 2} {
		l, err := f.svc.GetListing(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, int64(n), l.DepositedEarnest.Int64())
		assert.Equal(t, n+1, l.Version)
	}
}

func TestEscrow_PublishesListingUpdates(t *testing.T) {
	f := newEscrowFixture(t)
	f.readyToFinalize(t, 1)

	// list, deposit, inspect, 3 approvals, fund
	assert.Equal(t, 7, f.publisher.count(events.EventListingUpdated))
}

func TestEscrow_ListListingsFilters(t *testing.T) {
	ctx := context.Background()
	f := newEscrowFixture(t)
	finalized(t, f)
	f.listDefault(t, 3)

	open := true
	listed, err := f.svc.ListListings(ctx, repositories.ListingFilter{IsListed: &open})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, uint64(3), listed[0].TokenID)

	status := models.ListingStatusFinalized
	done, err := f.svc.ListListings(ctx, repositories.ListingFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, done, 1)
}
