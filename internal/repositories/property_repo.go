package repositories

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/realestate-escrow/backend/internal/models"
)

type PropertyRepo struct {
	pool *pgxpool.Pool
}

func NewPropertyRepo(pool *pgxpool.Pool) *PropertyRepo {
	return &PropertyRepo{pool: pool}
}

const propertyColumns = `
	token_id, owner, token_uri, name, property_address, description, image,
	purchase_price, residence_type, bedrooms, bathrooms, square_feet, year_built,
	attributes, metadata_stale, created_at, updated_at`

// Upsert inserts a property or replaces its metadata. The owner of an
// existing row is left alone; ownership only moves through sales and
// mirrored transfers.
func (r *PropertyRepo) Upsert(ctx context.Context, p *models.Property) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO properties (token_id, owner, token_uri, name, property_address, description, image,
		                        purchase_price, residence_type, bedrooms, bathrooms, square_feet, year_built,
		                        attributes, metadata_stale)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, false)
		ON CONFLICT (token_id) DO UPDATE SET
			token_uri = EXCLUDED.token_uri,
			name = EXCLUDED.name,
			property_address = EXCLUDED.property_address,
			description = EXCLUDED.description,
			image = EXCLUDED.image,
			purchase_price = EXCLUDED.purchase_price,
			residence_type = EXCLUDED.residence_type,
			bedrooms = EXCLUDED.bedrooms,
			bathrooms = EXCLUDED.bathrooms,
			square_feet = EXCLUDED.square_feet,
			year_built = EXCLUDED.year_built,
			attributes = EXCLUDED.attributes,
			metadata_stale = false,
			updated_at = now()
		RETURNING owner, created_at, updated_at
	`, int64(p.TokenID), p.Owner.Hex(), p.TokenURI, p.Name, p.PropertyAddress, p.Description, p.Image,
		p.PurchasePrice, p.ResidenceType, p.Bedrooms, p.Bathrooms, p.SquareFeet, p.YearBuilt,
		p.Attributes,
	).Scan(ownerScanner{&p.Owner}, &p.CreatedAt, &p.UpdatedAt)
}

func (r *PropertyRepo) GetByTokenID(ctx context.Context, tokenID uint64) (*models.Property, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+propertyColumns+` FROM properties WHERE token_id = $1`, int64(tokenID))
	p, err := scanProperty(row)
	if err != nil {
		return nil, translate(err)
	}
	return p, nil
}

func (r *PropertyRepo) List(ctx context.Context, limit, offset int) ([]models.Property, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return r.query(ctx, `SELECT `+propertyColumns+` FROM properties ORDER BY token_id LIMIT $1 OFFSET $2`, limit, offset)
}

func (r *PropertyRepo) ListStale(ctx context.Context, limit int) ([]models.Property, error) {
	return r.query(ctx, `SELECT `+propertyColumns+` FROM properties WHERE metadata_stale ORDER BY updated_at LIMIT $1`, limit)
}

// UpdateOwner is a no-op for tokens that were never registered.
func (r *PropertyRepo) UpdateOwner(ctx context.Context, tokenID uint64, owner common.Address) error {
	_, err := r.pool.Exec(ctx, `UPDATE properties SET owner = $1, updated_at = now() WHERE token_id = $2`,
		owner.Hex(), int64(tokenID))
	return err
}

func (r *PropertyRepo) MarkStale(ctx context.Context, fromTokenID, toTokenID uint64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE properties SET metadata_stale = true, updated_at = now()
		WHERE token_id BETWEEN $1 AND $2
	`, int64(fromTokenID), int64(toTokenID))
	return err
}

func (r *PropertyRepo) query(ctx context.Context, sql string, args ...any) ([]models.Property, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var props []models.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		props = append(props, *p)
	}
	return props, rows.Err()
}

func scanProperty(row pgx.Row) (*models.Property, error) {
	var (
		p       models.Property
		tokenID int64
	)
	err := row.Scan(&tokenID, ownerScanner{&p.Owner}, &p.TokenURI, &p.Name, &p.PropertyAddress, &p.Description, &p.Image,
		&p.PurchasePrice, &p.ResidenceType, &p.Bedrooms, &p.Bathrooms, &p.SquareFeet, &p.YearBuilt,
		&p.Attributes, &p.MetadataStale, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.TokenID = uint64(tokenID)
	return &p, nil
}

// ownerScanner decodes a hex address column.
type ownerScanner struct {
	dst *common.Address
}

func (s ownerScanner) Scan(src any) error {
	switch v := src.(type) {
	case string:
		*s.dst = common.HexToAddress(v)
	case nil:
		*s.dst = common.Address{}
	}
	return nil
}
