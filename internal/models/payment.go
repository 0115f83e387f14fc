package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Payment is one installment applied to a finalized listing.
type Payment struct {
	ID            uuid.UUID      `json:"id"`
	TokenID       uint64         `json:"token_id"`
	Payer         common.Address `json:"payer"`
	Amount        *big.Int       `json:"amount"`
	BalanceBefore *big.Int       `json:"balance_before"`
	BalanceAfter  *big.Int       `json:"balance_after"`
	CreatedAt     time.Time      `json:"created_at"`
}
