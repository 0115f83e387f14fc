package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Listing statuses
const (
	ListingStatusListed           = "listed"
	ListingStatusEarnestDeposited = "earnest_deposited"
	ListingStatusInspected        = "inspected"
	ListingStatusApproved         = "approved"
	ListingStatusFinalized        = "finalized"
	ListingStatusFullyPaid        = "fully_paid"
)

// Valid state transitions: from -> []to.
// A single operation can skip stages (a deposit may land after the inspection
// and the approvals), and revoking an inspection moves the listing back.
var ValidListingTransitions = map[string][]string{
	ListingStatusListed: {
		ListingStatusEarnestDeposited, ListingStatusInspected, ListingStatusApproved,
	},
	ListingStatusEarnestDeposited: {
		ListingStatusInspected, ListingStatusApproved,
	},
	ListingStatusInspected: {
		ListingStatusEarnestDeposited, ListingStatusApproved,
	},
	ListingStatusApproved: {
		ListingStatusEarnestDeposited, ListingStatusFinalized, ListingStatusFullyPaid,
	},
	ListingStatusFinalized: {ListingStatusFullyPaid},
	ListingStatusFullyPaid: {},
}

func IsValidListingTransition(from, to string) bool {
	allowed, ok := ValidListingTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Roles holds the process-wide role addresses. The seller is the only address
// allowed to list; inspector and lender are shared across all listings.
type Roles struct {
	Seller    common.Address `json:"seller"`
	Inspector common.Address `json:"inspector"`
	Lender    common.Address `json:"lender"`
}

// Approval roles
const (
	ApprovalBuyer ApprovalSet = 1 << iota
	ApprovalSeller
	ApprovalLender

	ApprovalAll = ApprovalBuyer | ApprovalSeller | ApprovalLender
)

// ApprovalSet records which of the three sale parties approved a listing.
type ApprovalSet uint8

func (a ApprovalSet) Has(role ApprovalSet) bool { return a&role == role }

func (a ApprovalSet) With(role ApprovalSet) ApprovalSet { return a | role }

func (a ApprovalSet) Complete() bool { return a.Has(ApprovalAll) }

func (a ApprovalSet) Count() int {
	n := 0
	for _, r := range []ApprovalSet{ApprovalBuyer, ApprovalSeller, ApprovalLender} {
		if a.Has(r) {
			n++
		}
	}
	return n
}

type Listing struct {
	TokenID          uint64          `json:"token_id"`
	Seller           common.Address  `json:"seller"`
	Buyer            common.Address  `json:"buyer"`
	PurchasePrice    *big.Int        `json:"purchase_price"`
	EscrowAmount     *big.Int        `json:"escrow_amount"`
	LoanTermMonths   int             `json:"loan_term_months"`
	InterestRateBPS  int             `json:"interest_rate_bps"`
	IsListed         bool            `json:"is_listed"`
	InspectionPassed bool            `json:"inspection_passed"`
	Approvals        ApprovalSet     `json:"approvals"`
	DepositedEarnest *big.Int        `json:"deposited_earnest"`
	LenderFunded     *big.Int        `json:"lender_funded"`
	CurrentOwner     *common.Address `json:"current_owner,omitempty"`
	RemainingBalance *big.Int        `json:"remaining_balance"`
	Status           string          `json:"status"`
	Version          int             `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	FinalizedAt      *time.Time      `json:"finalized_at,omitempty"`
}

// Clone returns a deep copy so that callers can mutate it without touching
// the stored value.
func (l *Listing) Clone() *Listing {
	c := *l
	c.PurchasePrice = cloneInt(l.PurchasePrice)
	c.EscrowAmount = cloneInt(l.EscrowAmount)
	c.DepositedEarnest = cloneInt(l.DepositedEarnest)
	c.LenderFunded = cloneInt(l.LenderFunded)
	c.RemainingBalance = cloneInt(l.RemainingBalance)
	if l.CurrentOwner != nil {
		owner := *l.CurrentOwner
		c.CurrentOwner = &owner
	}
	if l.FinalizedAt != nil {
		t := *l.FinalizedAt
		c.FinalizedAt = &t
	}
	return &c
}

// Owner is the seller while the listing is open and the buyer afterwards.
func (l *Listing) Owner() common.Address {
	if l.CurrentOwner != nil {
		return *l.CurrentOwner
	}
	return l.Seller
}

// FundsHeld is the earnest plus whatever the lender has contributed.
func (l *Listing) FundsHeld() *big.Int {
	return new(big.Int).Add(orZero(l.DepositedEarnest), orZero(l.LenderFunded))
}

// DeriveStatus computes the lifecycle status from the listing fields.
func (l *Listing) DeriveStatus() string {
	if !l.IsListed {
		if orZero(l.RemainingBalance).Sign() == 0 {
			return ListingStatusFullyPaid
		}
		return ListingStatusFinalized
	}
	if orZero(l.DepositedEarnest).Cmp(orZero(l.EscrowAmount)) < 0 {
		return ListingStatusListed
	}
	if !l.InspectionPassed {
		return ListingStatusEarnestDeposited
	}
	if !l.Approvals.Complete() {
		return ListingStatusInspected
	}
	return ListingStatusApproved
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
