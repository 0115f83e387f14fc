package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const namedDoc = `{
	"name": "Luxury NYC Penthouse",
	"address": "157 W 57th St APT 49B, New York, NY 10019",
	"description": "Luxury Penthouse located in the heart of NYC",
	"image": "https://ipfs.io/ipfs/QmQUozrHLAusXDxrvsESJ3PYB3rUeUuBAvVWw6nop2uu7c/1.png",
	"attributes": [
		{"trait_type": "Purchase Price", "value": 20},
		{"trait_type": "Type of Residence", "value": "Condo"},
		{"trait_type": "Bed Rooms", "value": 2},
		{"trait_type": "Bathrooms", "value": 3},
		{"trait_type": "Square Feet", "value": "2,200"},
		{"trait_type": "Year Built", "value": 2013}
	]
}`

func TestDocument_NamedAttributes(t *testing.T) {
	doc, err := Parse([]byte(namedDoc))
	require.NoError(t, err)

	p := doc.Property(1, "ipfs://folder/1.json")
	assert.Equal(t, "Luxury NYC Penthouse", p.Name)
	assert.Equal(t, "20", p.PurchasePrice)
	assert.Equal(t, "Condo", p.ResidenceType)
	require.NotNil(t, p.Bedrooms)
	assert.Equal(t, 2, *p.Bedrooms)
	require.NotNil(t, p.SquareFeet)
	assert.Equal(t, 2200, *p.SquareFeet)
	require.NotNil(t, p.YearBuilt)
	assert.Equal(t, 2013, *p.YearBuilt)
}

func TestDocument_ReorderedAttributesUseNames(t *testing.T) {
	doc, err := Parse([]byte(`{"attributes": [
		{"trait_type": "Bathrooms", "value": 1},
		{"trait_type": "Year Built", "value": 1999},
		{"trait_type": "bed rooms", "value": 4},
		{"trait_type": "Purchase Price", "value": "7.5"}
	]}`))
	require.NoError(t, err)

	assert.Equal(t, "7.5", doc.String(TraitPurchasePrice))
	assert.Equal(t, 4, *doc.Int(TraitBedrooms))
	assert.Equal(t, 1, *doc.Int(TraitBathrooms))
	assert.Nil(t, doc.Int(TraitSquareFeet))
}

func TestDocument_PositionalFallback(t *testing.T) {
	doc, err := Parse([]byte(`{"attributes": [
		{"value": 15}, {"value": "House"}, {"value": 3}, {"value": 2}, {"value": 1800}
	]}`))
	require.NoError(t, err)

	tests := []struct {
		trait string
		want  string
	}{
		{TraitPurchasePrice, "15"},
		{TraitBedrooms, "3"},
		{TraitBathrooms, "2"},
		{TraitSquareFeet, "1800"},
		{TraitResidenceType, ""},
		{TraitYearBuilt, ""},
	}
	for _, tt := range tests {
		t.Run(tt.trait, func(t *testing.T) {
			assert.Equal(t, tt.want, doc.String(tt.trait))
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte(`{"name":`))
	assert.Error(t, err)
}
