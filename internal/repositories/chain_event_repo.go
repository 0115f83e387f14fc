package repositories

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/realestate-escrow/backend/internal/models"
)

type ChainEventRepo struct {
	pool *pgxpool.Pool
}

func NewChainEventRepo(pool *pgxpool.Pool) *ChainEventRepo {
	return &ChainEventRepo{pool: pool}
}

// Insert stores a mirrored event once. It reports false when the
// (tx_hash, log_index) pair was already indexed.
func (r *ChainEventRepo) Insert(ctx context.Context, e *models.ChainEvent) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO chain_events (tx_hash, log_index, name, contract, block_number,
		                          from_address, to_address, token_id, from_token_id, to_token_id, approved)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tx_hash, log_index) DO NOTHING
	`, e.TxHash.Hex(), int64(e.LogIndex), e.Name, e.Contract.Hex(), int64(e.BlockNumber),
		hexOrNil(e.From), hexOrNil(e.To), int64OrNil(e.TokenID), int64OrNil(e.FromTokenID), int64OrNil(e.ToTokenID),
		e.Approved)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ChainEventRepo) ListByToken(ctx context.Context, tokenID uint64, limit int) ([]models.ChainEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT tx_hash, log_index, name, contract, block_number, from_address, to_address,
		       token_id, from_token_id, to_token_id, approved, indexed_at
		FROM chain_events
		WHERE token_id = $1 OR ($1 BETWEEN from_token_id AND to_token_id)
		ORDER BY block_number, log_index LIMIT $2
	`, int64(tokenID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChainEvent
	for rows.Next() {
		var (
			e                   models.ChainEvent
			txHash, contract    string
			logIndex, block     int64
			from, to            *string
			tok, fromTok, toTok *int64
		)
		if err := rows.Scan(&txHash, &logIndex, &e.Name, &contract, &block, &from, &to,
			&tok, &fromTok, &toTok, &e.Approved, &e.IndexedAt); err != nil {
			return nil, err
		}
		e.TxHash = common.HexToHash(txHash)
		e.LogIndex = uint(logIndex)
		e.Contract = common.HexToAddress(contract)
		e.BlockNumber = uint64(block)
		e.From = addrOrNil(from)
		e.To = addrOrNil(to)
		e.TokenID = uint64OrNil(tok)
		e.FromTokenID = uint64OrNil(fromTok)
		e.ToTokenID = uint64OrNil(toTok)
		out = append(out, e)
	}
	return out, rows.Err()
}

func hexOrNil(a *common.Address) *string {
	if a == nil {
		return nil
	}
	s := a.Hex()
	return &s
}

func addrOrNil(s *string) *common.Address {
	if s == nil {
		return nil
	}
	a := common.HexToAddress(*s)
	return &a
}

func int64OrNil(v *uint64) *int64 {
	if v == nil {
		return nil
	}
	i := int64(*v)
	return &i
}

func uint64OrNil(v *int64) *uint64 {
	if v == nil {
		return nil
	}
	u := uint64(*v)
	return &u
}
