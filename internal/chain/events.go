// Package chain mirrors the property NFT contract's events from an EVM node.
package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/realestate-escrow/backend/internal/models"
)

// ERC-721 and ERC-4906 event topics.
var (
	TopicTransfer            = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	TopicApproval            = crypto.Keccak256Hash([]byte("Approval(address,address,uint256)"))
	TopicApprovalForAll      = crypto.Keccak256Hash([]byte("ApprovalForAll(address,address,bool)"))
	TopicMetadataUpdate      = crypto.Keccak256Hash([]byte("MetadataUpdate(uint256)"))
	TopicBatchMetadataUpdate = crypto.Keccak256Hash([]byte("BatchMetadataUpdate(uint256,uint256)"))
)

// Topics lists every topic the indexer subscribes to.
var Topics = []common.Hash{
	TopicTransfer, TopicApproval, TopicApprovalForAll, TopicMetadataUpdate, TopicBatchMetadataUpdate,
}

var (
	ErrUnknownEvent = errors.New("unknown event topic")
	ErrMalformedLog = errors.New("malformed log")
)

// DecodeLog turns a contract log into a ChainEvent.
func DecodeLog(lg types.Log) (*models.ChainEvent, error) {
	if len(lg.Topics) == 0 {
		return nil, fmt.Errorf("%w: no topics", ErrMalformedLog)
	}

	e := &models.ChainEvent{
		Contract:    lg.Address,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
		BlockNumber: lg.BlockNumber,
	}

	switch lg.Topics[0] {
	case TopicTransfer, TopicApproval:
		// ERC-20 shares these signatures but does not index the third argument
		if len(lg.Topics) != 4 {
			return nil, fmt.Errorf("%w: want 4 topics, got %d", ErrMalformedLog, len(lg.Topics))
		}
		e.Name = models.ChainEventTransfer
		if lg.Topics[0] == TopicApproval {
			e.Name = models.ChainEventApproval
		}
		from := common.BytesToAddress(lg.Topics[1].Bytes())
		to := common.BytesToAddress(lg.Topics[2].Bytes())
		tokenID, err := word(lg.Topics[3].Bytes())
		if err != nil {
			return nil, err
		}
		e.From, e.To, e.TokenID = &from, &to, &tokenID

	case TopicApprovalForAll:
		if len(lg.Topics) != 3 || len(lg.Data) != 32 {
			return nil, fmt.Errorf("%w: ApprovalForAll", ErrMalformedLog)
		}
		owner := common.BytesToAddress(lg.Topics[1].Bytes())
		operator := common.BytesToAddress(lg.Topics[2].Bytes())
		approved := new(big.Int).SetBytes(lg.Data).Sign() != 0
		e.Name = models.ChainEventApprovalForAll
		e.From, e.To, e.Approved = &owner, &operator, &approved

	case TopicMetadataUpdate:
		if len(lg.Data) != 32 {
			return nil, fmt.Errorf("%w: MetadataUpdate", ErrMalformedLog)
		}
		tokenID, err := word(lg.Data)
		if err != nil {
			return nil, err
		}
		e.Name = models.ChainEventMetadataUpdate
		e.TokenID = &tokenID

	case TopicBatchMetadataUpdate:
		if len(lg.Data) != 64 {
			return nil, fmt.Errorf("%w: BatchMetadataUpdate", ErrMalformedLog)
		}
		from, err := word(lg.Data[:32])
		if err != nil {
			return nil, err
		}
		// BatchMetadataUpdate(0, type(uint256).max) is the usual "refresh all"
		to := uint64(models.MaxTokenID)
		if v := new(big.Int).SetBytes(lg.Data[32:]); v.Cmp(big.NewInt(models.MaxTokenID)) < 0 {
			to = v.Uint64()
		}
		if to < from {
			return nil, fmt.Errorf("%w: BatchMetadataUpdate range %d..%d", ErrMalformedLog, from, to)
		}
		e.Name = models.ChainEventBatchMetadataUpdate
		e.FromTokenID, e.ToTokenID = &from, &to

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, lg.Topics[0].Hex())
	}

	return e, nil
}

// word reads a 32-byte big-endian uint256 token id no larger than MaxTokenID.
func word(b []byte) (uint64, error) {
	v := new(big.Int).SetBytes(b)
	if !v.IsUint64() || v.Uint64() > models.MaxTokenID {
		return 0, fmt.Errorf("%w: token id %s out of range", ErrMalformedLog, v)
	}
	return v.Uint64(), nil
}
