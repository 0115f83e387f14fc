package dto

// Amounts are accepted either in display units ("10.5") or, when the *_wei
// field is set, as base-unit integers. The wei field wins when both are set.

type NonceRequest struct {
	Address string `json:"address"`
}

type WalletAuthRequest struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type RegisterPropertyRequest struct {
	TokenID  uint64 `json:"token_id"`
	TokenURI string `json:"token_uri"`
}

type CreateListingRequest struct {
	TokenID          uint64 `json:"token_id"`
	Buyer            string `json:"buyer"`
	PurchasePrice    string `json:"purchase_price"`
	PurchasePriceWei string `json:"purchase_price_wei,omitempty"`
	EscrowAmount     string `json:"escrow_amount"`
	EscrowAmountWei  string `json:"escrow_amount_wei,omitempty"`
	LoanTermMonths   int    `json:"loan_term_months"`
	InterestRateBPS  *int   `json:"interest_rate_bps,omitempty"`
	// InterestRatePercent is used when InterestRateBPS is absent.
	InterestRatePercent int `json:"interest_rate_percent"`
}

type AmountRequest struct {
	Amount    string `json:"amount"`
	AmountWei string `json:"amount_wei,omitempty"`
}

type InspectionRequest struct {
	Passed *bool `json:"passed"`
}
