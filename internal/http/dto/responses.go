package dto

import (
	"math/big"
	"time"

	"github.com/realestate-escrow/backend/internal/models"
	"github.com/realestate-escrow/backend/internal/money"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type NonceResponse struct {
	Nonce    string    `json:"nonce"`
	Message  string    `json:"message"`
	IssuedAt time.Time `json:"issued_at"`
}

type AuthResponse struct {
	Token     string    `json:"token"`
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Amount carries a base-unit value and its display rendering.
type Amount struct {
	Wei   string `json:"wei"`
	Ether string `json:"ether"`
}

type ApprovalsResponse struct {
	Buyer  bool `json:"buyer"`
	Seller bool `json:"seller"`
	Lender bool `json:"lender"`
}

type ListingResponse struct {
	TokenID          uint64            `json:"token_id"`
	Status           string            `json:"status"`
	Seller           string            `json:"seller"`
	Buyer            string            `json:"buyer"`
	Owner            string            `json:"owner"`
	PurchasePrice    Amount            `json:"purchase_price"`
	EscrowAmount     Amount            `json:"escrow_amount"`
	DepositedEarnest Amount            `json:"deposited_earnest"`
	LenderFunded     Amount            `json:"lender_funded"`
	RemainingBalance Amount            `json:"remaining_balance"`
	LoanTermMonths   int               `json:"loan_term_months"`
	InterestRateBPS  int               `json:"interest_rate_bps"`
	IsListed         bool              `json:"is_listed"`
	InspectionPassed bool              `json:"inspection_passed"`
	Approvals        ApprovalsResponse `json:"approvals"`
	Version          int               `json:"version"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	FinalizedAt      *time.Time        `json:"finalized_at,omitempty"`
}

func NewListingResponse(l *models.Listing) ListingResponse {
	return ListingResponse{
		TokenID:          l.TokenID,
		Status:           l.Status,
		Seller:           l.Seller.Hex(),
		Buyer:            l.Buyer.Hex(),
		Owner:            l.Owner().Hex(),
		PurchasePrice:    Ether(l.PurchasePrice),
		EscrowAmount:     Ether(l.EscrowAmount),
		DepositedEarnest: Ether(l.DepositedEarnest),
		LenderFunded:     Ether(l.LenderFunded),
		RemainingBalance: Ether(l.RemainingBalance),
		LoanTermMonths:   l.LoanTermMonths,
		InterestRateBPS:  l.InterestRateBPS,
		IsListed:         l.IsListed,
		InspectionPassed: l.InspectionPassed,
		Approvals: ApprovalsResponse{
			Buyer:  l.Approvals.Has(models.ApprovalBuyer),
			Seller: l.Approvals.Has(models.ApprovalSeller),
			Lender: l.Approvals.Has(models.ApprovalLender),
		},
		Version:     l.Version,
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
		FinalizedAt: l.FinalizedAt,
	}
}

func NewListingResponses(ls []models.Listing) []ListingResponse {
	out := make([]ListingResponse, 0, len(ls))
	for i := range ls {
		out = append(out, NewListingResponse(&ls[i]))
	}
	return out
}

type PaymentResponse struct {
	ID            string    `json:"id"`
	TokenID       uint64    `json:"token_id"`
	Payer         string    `json:"payer"`
	Amount        Amount    `json:"amount"`
	BalanceBefore Amount    `json:"balance_before"`
	BalanceAfter  Amount    `json:"balance_after"`
	CreatedAt     time.Time `json:"created_at"`
}

func NewPaymentResponse(p *models.Payment) PaymentResponse {
	return PaymentResponse{
		ID:            p.ID.String(),
		TokenID:       p.TokenID,
		Payer:         p.Payer.Hex(),
		Amount:        Ether(p.Amount),
		BalanceBefore: Ether(p.BalanceBefore),
		BalanceAfter:  Ether(p.BalanceAfter),
		CreatedAt:     p.CreatedAt,
	}
}

type PaymentResultResponse struct {
	Listing ListingResponse `json:"listing"`
	Payment PaymentResponse `json:"payment"`
}

type RemainingResponse struct {
	TokenID   uint64 `json:"token_id"`
	Remaining Amount `json:"remaining"`
}

type OwnerResponse struct {
	TokenID uint64 `json:"token_id"`
	Owner   string `json:"owner"`
}

type ListedResponse struct {
	TokenID  uint64 `json:"token_id"`
	IsListed bool   `json:"is_listed"`
}

type RolesResponse struct {
	Seller      string              `json:"seller"`
	Inspector   string              `json:"inspector"`
	Lender      string              `json:"lender"`
	Permissions map[string][]string `json:"permissions"`
}

// Ether renders a base-unit amount for responses. nil reads as zero.
func Ether(wei *big.Int) Amount {
	if wei == nil {
		wei = new(big.Int)
	}
	return Amount{Wei: wei.String(), Ether: money.FormatEther(wei)}
}
