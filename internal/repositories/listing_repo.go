package repositories

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/realestate-escrow/backend/internal/models"
)

type ListingFilter struct {
	Status   *string
	Buyer    *common.Address
	IsListed *bool
	Limit    int
	Offset   int
}

type ListingRepo struct {
	pool *pgxpool.Pool
}

func NewListingRepo(pool *pgxpool.Pool) *ListingRepo {
	return &ListingRepo{pool: pool}
}

const listingColumns = `
	token_id, seller, buyer, purchase_price::text, escrow_amount::text,
	loan_term_months, interest_rate_bps, is_listed, inspection_passed, approvals,
	deposited_earnest::text, lender_funded::text, current_owner, remaining_balance::text,
	status, version, created_at, updated_at, finalized_at`

func (r *ListingRepo) Create(ctx context.Context, l *models.Listing) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO listings (token_id, seller, buyer, purchase_price, escrow_amount,
		                      loan_term_months, interest_rate_bps, is_listed, inspection_passed,
		                      approvals, deposited_earnest, lender_funded, remaining_balance, status)
		VALUES ($1, $2, $3, $4::text::numeric, $5::text::numeric, $6, $7, $8, $9, $10,
		        $11::text::numeric, $12::text::numeric, $13::text::numeric, $14)
		RETURNING version, created_at, updated_at
	`, int64(l.TokenID), l.Seller.Hex(), l.Buyer.Hex(), numeric(l.PurchasePrice), numeric(l.EscrowAmount),
		l.LoanTermMonths, l.InterestRateBPS, l.IsListed, l.InspectionPassed,
		int16(l.Approvals), numeric(l.DepositedEarnest), numeric(l.LenderFunded), numeric(l.RemainingBalance), l.Status,
	).Scan(&l.Version, &l.CreatedAt, &l.UpdatedAt)
	return translate(err)
}

func (r *ListingRepo) GetByTokenID(ctx context.Context, tokenID uint64) (*models.Listing, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE token_id = $1`, int64(tokenID))
	l, err := scanListing(row)
	if err != nil {
		return nil, translate(err)
	}
	return l, nil
}

func (r *ListingRepo) List(ctx context.Context, f ListingFilter) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings`
	args := []any{}
	where := []string{}

	if f.Status != nil {
		args = append(args, *f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Buyer != nil {
		args = append(args, f.Buyer.Hex())
		where = append(where, fmt.Sprintf("buyer = $%d", len(args)))
	}
	if f.IsListed != nil {
		args = append(args, *f.IsListed)
		where = append(where, fmt.Sprintf("is_listed = $%d", len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	args = append(args, limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY token_id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

// Update writes every mutable field, guarded by the version the caller read.
func (r *ListingRepo) Update(ctx context.Context, l *models.Listing) error {
	return updateListing(ctx, r.pool, l)
}

// Finalize closes the listing and hands the property mirror to the buyer in
// one transaction.
func (r *ListingRepo) Finalize(ctx context.Context, l *models.Listing) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := updateListing(ctx, tx, l); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE properties SET owner = $1, updated_at = now() WHERE token_id = $2
		`, l.Owner().Hex(), int64(l.TokenID))
		return err
	})
}

// ApplyPayment stores the reduced balance together with the payment record.
func (r *ListingRepo) ApplyPayment(ctx context.Context, l *models.Listing, p *models.Payment) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := updateListing(ctx, tx, l); err != nil {
			return err
		}
		return tx.QueryRow(ctx, `
			INSERT INTO payments (token_id, payer, amount, balance_before, balance_after)
			VALUES ($1, $2, $3::text::numeric, $4::text::numeric, $5::text::numeric)
			RETURNING id, created_at
		`, int64(p.TokenID), p.Payer.Hex(), numeric(p.Amount), numeric(p.BalanceBefore), numeric(p.BalanceAfter),
		).Scan(&p.ID, &p.CreatedAt)
	})
}

func (r *ListingRepo) ListPayments(ctx context.Context, tokenID uint64) ([]models.Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, token_id, payer, amount::text, balance_before::text, balance_after::text, created_at
		FROM payments WHERE token_id = $1 ORDER BY created_at
	`, int64(tokenID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		var (
			p                     models.Payment
			tokenID               int64
			payer                 string
			amount, before, after string
		)
		if err := rows.Scan(&p.ID, &tokenID, &payer, &amount, &before, &after, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.TokenID = uint64(tokenID)
		p.Payer = common.HexToAddress(payer)
		if p.Amount, err = parseNumeric(amount); err != nil {
			return nil, err
		}
		if p.BalanceBefore, err = parseNumeric(before); err != nil {
			return nil, err
		}
		if p.BalanceAfter, err = parseNumeric(after); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func updateListing(ctx context.Context, q querier, l *models.Listing) error {
	var owner *string
	if l.CurrentOwner != nil {
		s := l.CurrentOwner.Hex()
		owner = &s
	}

	var updatedAt time.Time
	err := q.QueryRow(ctx, `
		UPDATE listings SET
			is_listed = $1, inspection_passed = $2, approvals = $3,
			deposited_earnest = $4::text::numeric, lender_funded = $5::text::numeric,
			current_owner = $6, remaining_balance = $7::text::numeric,
			status = $8, finalized_at = $9, version = version + 1, updated_at = now()
		WHERE token_id = $10 AND version = $11
		RETURNING updated_at
	`, l.IsListed, l.InspectionPassed, int16(l.Approvals),
		numeric(l.DepositedEarnest), numeric(l.LenderFunded),
		owner, numeric(l.RemainingBalance),
		l.Status, l.FinalizedAt, int64(l.TokenID), l.Version,
	).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrConflict
		}
		return err
	}
	l.Version++
	l.UpdatedAt = updatedAt
	return nil
}

func scanListing(row pgx.Row) (*models.Listing, error) {
	var (
		l                                    models.Listing
		tokenID                              int64
		seller, buyer                        string
		price, escrow, earnest, lent, remain string
		approvals                            int16
		owner                                *string
	)
	err := row.Scan(&tokenID, &seller, &buyer, &price, &escrow,
		&l.LoanTermMonths, &l.InterestRateBPS, &l.IsListed, &l.InspectionPassed, &approvals,
		&earnest, &lent, &owner, &remain,
		&l.Status, &l.Version, &l.CreatedAt, &l.UpdatedAt, &l.FinalizedAt)
	if err != nil {
		return nil, err
	}

	l.TokenID = uint64(tokenID)
	l.Seller = common.HexToAddress(seller)
	l.Buyer = common.HexToAddress(buyer)
	l.Approvals = models.ApprovalSet(approvals)
	if owner != nil {
		a := common.HexToAddress(*owner)
		l.CurrentOwner = &a
	}
	for _, f := range []struct {
		dst **big.Int
		src string
	}{
		{&l.PurchasePrice, price},
		{&l.EscrowAmount, escrow},
		{&l.DepositedEarnest, earnest},
		{&l.LenderFunded, lent},
		{&l.RemainingBalance, remain},
	} {
		v, err := parseNumeric(f.src)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	return &l, nil
}
