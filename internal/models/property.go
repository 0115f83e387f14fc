package models

import (
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MaxTokenID is the largest token id the stores accept. Token ids are kept in
// signed BIGINT columns.
const MaxTokenID = math.MaxInt64

// Property mirrors a minted property token and the metadata document its
// token URI resolves to.
type Property struct {
	TokenID         uint64         `json:"token_id"`
	Owner           common.Address `json:"owner"`
	TokenURI        string         `json:"token_uri"`
	Name            string         `json:"name"`
	PropertyAddress string         `json:"property_address"`
	Description     string         `json:"description"`
	Image           string         `json:"image"`
	PurchasePrice   string         `json:"purchase_price"` // as published in metadata
	ResidenceType   string         `json:"residence_type"`
	Bedrooms        *int           `json:"bedrooms,omitempty"`
	Bathrooms       *int           `json:"bathrooms,omitempty"`
	SquareFeet      *int           `json:"square_feet,omitempty"`
	YearBuilt       *int           `json:"year_built,omitempty"`
	Attributes      []Attribute    `json:"attributes"`
	MetadataStale   bool           `json:"metadata_stale"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}
