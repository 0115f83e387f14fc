package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/realestate-escrow/backend/internal/config"
	"github.com/realestate-escrow/backend/internal/events"
	"github.com/realestate-escrow/backend/internal/lock"
	"github.com/realestate-escrow/backend/internal/metrics"
	"github.com/realestate-escrow/backend/internal/models"
	"github.com/realestate-escrow/backend/internal/money"
	"github.com/realestate-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

// Operation names, used for audit actions, events and metrics.
const (
	OpList             = "list"
	OpDepositEarnest   = "deposit_earnest"
	OpUpdateInspection = "update_inspection"
	OpApproveSale      = "approve_sale"
	OpFundLoan         = "fund_loan"
	OpFinalizeSale     = "finalize_sale"
	OpMakePayment      = "make_payment"
)

const entityListing = "listing"

type ListingStore interface {
	Create(ctx context.Context, l *models.Listing) error
	GetByTokenID(ctx context.Context, tokenID uint64) (*models.Listing, error)
	List(ctx context.Context, f repositories.ListingFilter) ([]models.Listing, error)
	Update(ctx context.Context, l *models.Listing) error
	Finalize(ctx context.Context, l *models.Listing) error
	ApplyPayment(ctx context.Context, l *models.Listing, p *models.Payment) error
	ListPayments(ctx context.Context, tokenID uint64) ([]models.Payment, error)
}

type AuditStore interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLog, error)
}

type ListParams struct {
	TokenID         uint64
	Buyer           common.Address
	PurchasePrice   *big.Int
	EscrowAmount    *big.Int
	LoanTermMonths  int
	InterestRateBPS int
}

type EscrowService struct {
	listings  ListingStore
	audit     AuditStore
	locker    lock.Locker
	publisher events.Publisher
	metrics   *metrics.Metrics
	roles     models.Roles
	cfg       *config.Config
	log       *zap.Logger
	now       func() time.Time
}

func NewEscrowService(
	listings ListingStore,
	audit AuditStore,
	locker lock.Locker,
	publisher events.Publisher,
	m *metrics.Metrics,
	cfg *config.Config,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		listings:  listings,
		audit:     audit,
		locker:    locker,
		publisher: publisher,
		metrics:   m,
		roles:     cfg.Roles(),
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

func (s *EscrowService) Roles() models.Roles { return s.roles }

// List opens escrow for a token. Only the configured seller may list.
func (s *EscrowService) List(ctx context.Context, caller common.Address, p ListParams) (*models.Listing, error) {
	l, err := s.list(ctx, caller, p)
	s.record(OpList, err)
	return l, err
}

func (s *EscrowService) list(ctx context.Context, caller common.Address, p ListParams) (*models.Listing, error) {
	if s.roles.Seller == (common.Address{}) || caller != s.roles.Seller {
		return nil, fmt.Errorf("%w: only the seller can list", ErrUnauthorized)
	}
	if err := validateTerms(s.roles.Seller, p); err != nil {
		return nil, err
	}

	listing := &models.Listing{
		TokenID:          p.TokenID,
		Seller:           s.roles.Seller,
		Buyer:            p.Buyer,
		PurchasePrice:    new(big.Int).Set(p.PurchasePrice),
		EscrowAmount:     new(big.Int).Set(p.EscrowAmount),
		LoanTermMonths:   p.LoanTermMonths,
		InterestRateBPS:  p.InterestRateBPS,
		IsListed:         true,
		DepositedEarnest: new(big.Int),
		LenderFunded:     new(big.Int),
		RemainingBalance: new(big.Int),
	}
	listing.Status = listing.DeriveStatus()

	err := s.locker.WithLock(ctx, lockKey(p.TokenID), func(ctx context.Context) error {
		_, err := s.listings.GetByTokenID(ctx, p.TokenID)
		switch {
		case err == nil:
			return fmt.Errorf("%w: token %d", ErrAlreadyListed, p.TokenID)
		case !errors.Is(err, repositories.ErrNotFound):
			return fmt.Errorf("load listing %d: %w", p.TokenID, err)
		}

		if err := s.listings.Create(ctx, listing); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return fmt.Errorf("%w: token %d", ErrAlreadyListed, p.TokenID)
			}
			return fmt.Errorf("create listing %d: %w", p.TokenID, err)
		}

		s.afterChange(ctx, OpList, caller, "", listing, map[string]any{
			"buyer":             listing.Buyer.Hex(),
			"purchase_price":    listing.PurchasePrice.String(),
			"escrow_amount":     listing.EscrowAmount.String(),
			"loan_term_months":  listing.LoanTermMonths,
			"interest_rate_bps": listing.InterestRateBPS,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return listing, nil
}

func validateTerms(seller common.Address, p ListParams) error {
	switch {
	case p.TokenID > models.MaxTokenID:
		return fmt.Errorf("%w: token id %d out of range", ErrInvalidTerms, p.TokenID)
	case p.PurchasePrice == nil || p.PurchasePrice.Sign() <= 0:
		return fmt.Errorf("%w: purchase price must be positive", ErrInvalidTerms)
	case p.EscrowAmount == nil || p.EscrowAmount.Sign() < 0:
		return fmt.Errorf("%w: escrow amount must not be negative", ErrInvalidTerms)
	case p.EscrowAmount.Cmp(p.PurchasePrice) > 0:
		return fmt.Errorf("%w: escrow amount exceeds purchase price", ErrInvalidTerms)
	case p.Buyer == (common.Address{}):
		return fmt.Errorf("%w: buyer is required", ErrInvalidTerms)
	case p.Buyer == seller:
		return fmt.Errorf("%w: buyer and seller must differ", ErrInvalidTerms)
	case p.LoanTermMonths < 0 || p.InterestRateBPS < 0:
		return fmt.Errorf("%w: loan terms must not be negative", ErrInvalidTerms)
	}
	return nil
}

// DepositEarnest adds amount to the buyer's earnest. Deposits accumulate and
// may exceed the escrow amount.
func (s *EscrowService) DepositEarnest(ctx context.Context, caller common.Address, tokenID uint64, amount *big.Int) (*models.Listing, error) {
	l, err := s.depositEarnest(ctx, caller, tokenID, amount)
	s.record(OpDepositEarnest, err)
	return l, err
}

func (s *EscrowService) depositEarnest(ctx context.Context, caller common.Address, tokenID uint64, amount *big.Int) (*models.Listing, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.mutate(ctx, OpDepositEarnest, caller, tokenID, func(l *models.Listing) (map[string]any, error) {
		if caller != l.Buyer {
			return nil, fmt.Errorf("%w: only the buyer can deposit earnest", ErrUnauthorized)
		}
		if !l.IsListed {
			return nil, ErrListingClosed
		}
		l.DepositedEarnest.Add(l.DepositedEarnest, amount)
		return map[string]any{"amount": amount.String(), "deposited_earnest": l.DepositedEarnest.String()}, nil
	}, s.listings.Update)
}

// UpdateInspectionStatus records the inspector's verdict. Last write wins
// unless inspections are frozen after the first approval.
func (s *EscrowService) UpdateInspectionStatus(ctx context.Context, caller common.Address, tokenID uint64, passed bool) (*models.Listing, error) {
	l, err := s.updateInspectionStatus(ctx, caller, tokenID, passed)
	s.record(OpUpdateInspection, err)
	return l, err
}

func (s *EscrowService) updateInspectionStatus(ctx context.Context, caller common.Address, tokenID uint64, passed bool) (*models.Listing, error) {
	if s.roles.Inspector == (common.Address{}) || caller != s.roles.Inspector {
		return nil, fmt.Errorf("%w: only the inspector can update inspection status", ErrUnauthorized)
	}
	return s.mutate(ctx, OpUpdateInspection, caller, tokenID, func(l *models.Listing) (map[string]any, error) {
		if !l.IsListed {
			return nil, ErrListingClosed
		}
		if s.cfg.FreezeInspectionAfterApproval && l.Approvals.Count() > 0 && l.InspectionPassed != passed {
			return nil, ErrInspectionLocked
		}
		l.InspectionPassed = passed
		return map[string]any{"passed": passed}, nil
	}, s.listings.Update)
}

// ApproveSale adds every sale role the caller holds on the listing to the
// approval set. Repeated approvals are no-ops.
func (s *EscrowService) ApproveSale(ctx context.Context, caller common.Address, tokenID uint64) (*models.Listing, error) {
	l, err := s.approveSale(ctx, caller, tokenID)
	s.record(OpApproveSale, err)
	return l, err
}

func (s *EscrowService) approveSale(ctx context.Context, caller common.Address, tokenID uint64) (*models.Listing, error) {
	return s.mutate(ctx, OpApproveSale, caller, tokenID, func(l *models.Listing) (map[string]any, error) {
		roles := s.approvalRoles(l, caller)
		if roles == 0 {
			return nil, fmt.Errorf("%w: only buyer, seller or lender can approve", ErrUnauthorized)
		}
		if !l.IsListed {
			return nil, ErrListingClosed
		}
		l.Approvals = l.Approvals.With(roles)
		return map[string]any{"approvals": l.Approvals.Count()}, nil
	}, s.listings.Update)
}

func (s *EscrowService) approvalRoles(l *models.Listing, caller common.Address) models.ApprovalSet {
	var roles models.ApprovalSet
	if caller == l.Buyer {
		roles = roles.With(models.ApprovalBuyer)
	}
	if caller == l.Seller {
		roles = roles.With(models.ApprovalSeller)
	}
	if s.roles.Lender != (common.Address{}) && caller == s.roles.Lender {
		roles = roles.With(models.ApprovalLender)
	}
	return roles
}

// FundLoan transfers the lender's contribution into escrow. Funding implies
// the lender's approval of the sale.
func (s *EscrowService) FundLoan(ctx context.Context, caller common.Address, tokenID uint64, amount *big.Int) (*models.Listing, error) {
	l, err := s.fundLoan(ctx, caller, tokenID, amount)
	s.record(OpFundLoan, err)
	return l, err
}

func (s *EscrowService) fundLoan(ctx context.Context, caller common.Address, tokenID uint64, amount *big.Int) (*models.Listing, error) {
	if s.roles.Lender == (common.Address{}) || caller != s.roles.Lender {
		return nil, fmt.Errorf("%w: only the lender can fund the loan", ErrUnauthorized)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.mutate(ctx, OpFundLoan, caller, tokenID, func(l *models.Listing) (map[string]any, error) {
		if !l.IsListed {
			return nil, ErrListingClosed
		}
		l.LenderFunded.Add(l.LenderFunded, amount)
		l.Approvals = l.Approvals.With(models.ApprovalLender)
		return map[string]any{"amount": amount.String(), "lender_funded": l.LenderFunded.String()}, nil
	}, s.listings.Update)
}

// FinalizeSale closes the listing, moves ownership to the buyer and opens the
// installment phase for the lender-financed part, if any.
func (s *EscrowService) FinalizeSale(ctx context.Context, caller common.Address, tokenID uint64) (*models.Listing, error) {
	l, err := s.finalizeSale(ctx, caller, tokenID)
	s.record(OpFinalizeSale, err)
	return l, err
}

func (s *EscrowService) finalizeSale(ctx context.Context, caller common.Address, tokenID uint64) (*models.Listing, error) {
	return s.mutate(ctx, OpFinalizeSale, caller, tokenID, func(l *models.Listing) (map[string]any, error) {
		if caller != l.Seller {
			return nil, fmt.Errorf("%w: only the seller can finalize", ErrUnauthorized)
		}
		if !l.IsListed {
			return nil, ErrListingClosed
		}
		if !l.InspectionPassed {
			return nil, ErrNotInspected
		}
		if !l.Approvals.Complete() {
			return nil, fmt.Errorf("%w: have %d of 3", ErrIncompleteApprovals, l.Approvals.Count())
		}
		if l.DepositedEarnest.Cmp(l.EscrowAmount) < 0 {
			return nil, fmt.Errorf("%w: earnest %s below escrow amount %s", ErrInsufficientEscrow, l.DepositedEarnest, l.EscrowAmount)
		}
		if held := l.FundsHeld(); held.Cmp(l.PurchasePrice) < 0 {
			return nil, fmt.Errorf("%w: holding %s of %s", ErrInsufficientEscrow, held, l.PurchasePrice)
		}

		principal := loanPrincipal(l)
		buyer := l.Buyer
		now := s.now()
		l.IsListed = false
		l.CurrentOwner = &buyer
		l.RemainingBalance = money.LoanBalance(principal, l.InterestRateBPS, l.LoanTermMonths)
		l.FinalizedAt = &now

		return map[string]any{
			"owner":             buyer.Hex(),
			"loan_principal":    principal.String(),
			"remaining_balance": l.RemainingBalance.String(),
		}, nil
	}, s.listings.Finalize)
}

// loanPrincipal is the lender-financed part of the price: what the lender
// contributed, capped at price minus escrow.
func loanPrincipal(l *models.Listing) *big.Int {
	if l.LenderFunded.Sign() <= 0 {
		return new(big.Int)
	}
	financed := new(big.Int).Sub(l.PurchasePrice, l.EscrowAmount)
	if l.LenderFunded.Cmp(financed) < 0 {
		return new(big.Int).Set(l.LenderFunded)
	}
	return financed
}

// MakePayment applies an installment from the current owner. Payments above
// the remaining balance are rejected, never clamped.
func (s *EscrowService) MakePayment(ctx context.Context, caller common.Address, tokenID uint64, amount *big.Int) (*models.Listing, *models.Payment, error) {
	l, p, err := s.makePayment(ctx, caller, tokenID, amount)
	s.record(OpMakePayment, err)
	if err != nil {
		return nil, nil, err
	}
	// float64 loses precision above 2^53 wei; the counter only needs magnitude
	wei, _ := new(big.Float).SetInt(amount).Float64()
	s.metrics.Payment(wei)
	return l, p, nil
}

func (s *EscrowService) makePayment(ctx context.Context, caller common.Address, tokenID uint64, amount *big.Int) (*models.Listing, *models.Payment, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	payment := &models.Payment{TokenID: tokenID, Payer: caller, Amount: new(big.Int).Set(amount)}
	l, err := s.mutate(ctx, OpMakePayment, caller, tokenID, func(l *models.Listing) (map[string]any, error) {
		if l.IsListed {
			return nil, ErrNotFinalized
		}
		if caller != l.Owner() {
			return nil, fmt.Errorf("%w: only the current owner can pay", ErrUnauthorized)
		}
		if amount.Cmp(l.RemainingBalance) > 0 {
			return nil, fmt.Errorf("%w: %s remaining", ErrOverPayment, l.RemainingBalance)
		}
		payment.BalanceBefore = new(big.Int).Set(l.RemainingBalance)
		l.RemainingBalance.Sub(l.RemainingBalance, amount)
		payment.BalanceAfter = new(big.Int).Set(l.RemainingBalance)
		return map[string]any{"amount": amount.String(), "remaining_balance": l.RemainingBalance.String()}, nil
	}, func(ctx context.Context, l *models.Listing) error {
		return s.listings.ApplyPayment(ctx, l, payment)
	})
	if err != nil {
		return nil, nil, err
	}

	_ = s.publisher.Publish(ctx, events.ChannelListing, events.Event{
		Type: events.EventPaymentReceived,
		Payload: map[string]any{
			"token_id":          tokenKey(tokenID),
			"payer":             caller.Hex(),
			"amount":            amount.String(),
			"remaining_balance": l.RemainingBalance.String(),
		},
	})
	return l, payment, nil
}

// mutate runs one read-modify-write under the token lock. apply works on a
// copy; nothing is persisted unless apply and the transition check succeed.
func (s *EscrowService) mutate(
	ctx context.Context,
	op string,
	caller common.Address,
	tokenID uint64,
	apply func(l *models.Listing) (map[string]any, error),
	persist func(ctx context.Context, l *models.Listing) error,
) (*models.Listing, error) {
	var result *models.Listing

	err := s.locker.WithLock(ctx, lockKey(tokenID), func(ctx context.Context) error {
		current, err := s.load(ctx, tokenID)
		if err != nil {
			return err
		}

		next := current.Clone()
		meta, err := apply(next)
		if err != nil {
			return err
		}

		oldStatus := current.Status
		newStatus := next.DeriveStatus()
		if newStatus != oldStatus && !models.IsValidListingTransition(oldStatus, newStatus) {
			return fmt.Errorf("invalid transition from %s to %s", oldStatus, newStatus)
		}
		next.Status = newStatus

		if unchanged(current, next) {
			result = current
			return nil
		}

		if err := persist(ctx, next); err != nil {
			if errors.Is(err, repositories.ErrConflict) {
				return fmt.Errorf("%w: token %d", ErrConcurrentUpdate, tokenID)
			}
			return fmt.Errorf("%s token %d: %w", op, tokenID, err)
		}

		s.afterChange(ctx, op, caller, oldStatus, next, meta)
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// unchanged reports whether apply left the lifecycle fields as they were, as
// for a repeated approval or inspection verdict.
func unchanged(a, b *models.Listing) bool {
	return a.Status == b.Status &&
		a.IsListed == b.IsListed &&
		a.InspectionPassed == b.InspectionPassed &&
		a.Approvals == b.Approvals &&
		a.DepositedEarnest.Cmp(b.DepositedEarnest) == 0 &&
		a.LenderFunded.Cmp(b.LenderFunded) == 0 &&
		a.RemainingBalance.Cmp(b.RemainingBalance) == 0
}

// afterChange writes the audit trail and publishes the change. Both are best
// effort: the listing is already committed.
func (s *EscrowService) afterChange(ctx context.Context, op string, actor common.Address, oldStatus string, l *models.Listing, meta map[string]any) {
	actorAddr := actor.Hex()
	if meta == nil {
		meta = map[string]any{}
	}
	meta["old_status"] = oldStatus
	meta["new_status"] = l.Status

	if err := s.audit.Log(ctx, models.AuditLog{
		ActorAddress: &actorAddr,
		ActorType:    "wallet",
		Action:       op,
		EntityType:   entityListing,
		EntityID:     tokenKey(l.TokenID),
		Meta:         meta,
	}); err != nil {
		s.log.Warn("audit log failed", zap.Uint64("token_id", l.TokenID), zap.String("op", op), zap.Error(err))
	}

	_ = s.publisher.Publish(ctx, events.ChannelListing, events.Event{
		Type: events.EventListingUpdated,
		Payload: map[string]any{
			"token_id":   tokenKey(l.TokenID),
			"op":         op,
			"actor":      actorAddr,
			"old_status": oldStatus,
			"new_status": l.Status,
		},
	})

	s.metrics.Transition(oldStatus, l.Status)
	s.log.Info("listing updated",
		zap.Uint64("token_id", l.TokenID),
		zap.String("op", op),
		zap.String("actor", actorAddr),
		zap.String("status", l.Status),
	)
}

func (s *EscrowService) record(op string, err error) {
	switch {
	case err == nil:
		s.metrics.Operation(op, metrics.OutcomeOK)
	case IsRejection(err):
		s.metrics.Operation(op, metrics.OutcomeRejected)
	default:
		s.metrics.Operation(op, metrics.OutcomeError)
		s.log.Error("escrow operation failed", zap.String("op", op), zap.Error(err))
	}
}

func (s *EscrowService) load(ctx context.Context, tokenID uint64) (*models.Listing, error) {
	l, err := s.listings.GetByTokenID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrUnknownToken, tokenID)
		}
		return nil, fmt.Errorf("load listing %d: %w", tokenID, err)
	}
	return l, nil
}

func (s *EscrowService) GetListing(ctx context.Context, tokenID uint64) (*models.Listing, error) {
	return s.load(ctx, tokenID)
}

func (s *EscrowService) ListListings(ctx context.Context, f repositories.ListingFilter) ([]models.Listing, error) {
	return s.listings.List(ctx, f)
}

func (s *EscrowService) GetRemainingAmount(ctx context.Context, tokenID uint64) (*big.Int, error) {
	l, err := s.load(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	return l.RemainingBalance, nil
}

// GetCurrentOwner is the seller until the sale is finalized.
func (s *EscrowService) GetCurrentOwner(ctx context.Context, tokenID uint64) (common.Address, error) {
	l, err := s.load(ctx, tokenID)
	if err != nil {
		return common.Address{}, err
	}
	return l.Owner(), nil
}

func (s *EscrowService) IsListed(ctx context.Context, tokenID uint64) (bool, error) {
	l, err := s.load(ctx, tokenID)
	if err != nil {
		return false, err
	}
	return l.IsListed, nil
}

func (s *EscrowService) GetPayments(ctx context.Context, tokenID uint64) ([]models.Payment, error) {
	if _, err := s.load(ctx, tokenID); err != nil {
		return nil, err
	}
	return s.listings.ListPayments(ctx, tokenID)
}

// GetHistory returns the audit trail of a listing, newest first.
func (s *EscrowService) GetHistory(ctx context.Context, tokenID uint64, limit, offset int) ([]models.AuditLog, error) {
	if _, err := s.load(ctx, tokenID); err != nil {
		return nil, err
	}
	return s.audit.GetByEntity(ctx, entityListing, tokenKey(tokenID), limit, offset)
}

func lockKey(tokenID uint64) string {
	return "escrow:listing:" + tokenKey(tokenID)
}

func tokenKey(tokenID uint64) string {
	return strconv.FormatUint(tokenID, 10)
}
