package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Mirrored contract event names
const (
	ChainEventTransfer            = "Transfer"
	ChainEventApproval            = "Approval"
	ChainEventApprovalForAll      = "ApprovalForAll"
	ChainEventMetadataUpdate      = "MetadataUpdate"
	ChainEventBatchMetadataUpdate = "BatchMetadataUpdate"
)

// ChainEvent is one decoded contract log. Fields that do not apply to the
// event kind are left empty.
type ChainEvent struct {
	Name        string          `json:"name"`
	Contract    common.Address  `json:"contract"`
	TxHash      common.Hash     `json:"tx_hash"`
	LogIndex    uint            `json:"log_index"`
	BlockNumber uint64          `json:"block_number"`
	From        *common.Address `json:"from,omitempty"`     // Transfer.from, Approval.owner, ApprovalForAll.owner
	To          *common.Address `json:"to,omitempty"`       // Transfer.to, Approval.approved, ApprovalForAll.operator
	TokenID     *uint64         `json:"token_id,omitempty"` // Transfer, Approval, MetadataUpdate
	FromTokenID *uint64         `json:"from_token_id,omitempty"`
	ToTokenID   *uint64         `json:"to_token_id,omitempty"`
	Approved    *bool           `json:"approved,omitempty"`
	IndexedAt   time.Time       `json:"indexed_at"`
}
