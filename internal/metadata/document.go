package metadata

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/realestate-escrow/backend/internal/models"
)

// Trait names used by the property metadata files.
const (
	TraitPurchasePrice = "Purchase Price"
	TraitResidenceType = "Type of Residence"
	TraitBedrooms      = "Bed Rooms"
	TraitBathrooms     = "Bathrooms"
	TraitSquareFeet    = "Square Feet"
	TraitYearBuilt     = "Year Built"
)

// Older files carry no usable trait names and rely on array position.
var positionalTraits = map[string]int{
	TraitPurchasePrice: 0,
	TraitBedrooms:      2,
	TraitBathrooms:     3,
	TraitSquareFeet:    4,
}

type Document struct {
	Name        string             `json:"name"`
	Address     string             `json:"address"`
	Description string             `json:"description"`
	Image       string             `json:"image"`
	Attributes  []models.Attribute `json:"attributes"`
}

func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &doc, nil
}

// Attr looks an attribute up by trait name, case-insensitively. When no
// attribute carries a trait name at all, the known positions are used.
func (d *Document) Attr(trait string) (any, bool) {
	named := false
	for _, a := range d.Attributes {
		if a.TraitType == "" {
			continue
		}
		named = true
		if strings.EqualFold(strings.TrimSpace(a.TraitType), trait) {
			return a.Value, true
		}
	}
	if named {
		return nil, false
	}
	if i, ok := positionalTraits[trait]; ok && i < len(d.Attributes) {
		return d.Attributes[i].Value, true
	}
	return nil, false
}

func (d *Document) String(trait string) string {
	v, ok := d.Attr(trait)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func (d *Document) Int(trait string) *int {
	s := strings.ReplaceAll(d.String(trait), ",", "")
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	n := int(f)
	return &n
}

// Property maps the document onto the stored property mirror.
func (d *Document) Property(tokenID uint64, tokenURI string) *models.Property {
	return &models.Property{
		TokenID:         tokenID,
		TokenURI:        tokenURI,
		Name:            d.Name,
		PropertyAddress: d.Address,
		Description:     d.Description,
		Image:           d.Image,
		PurchasePrice:   d.String(TraitPurchasePrice),
		ResidenceType:   d.String(TraitResidenceType),
		Bedrooms:        d.Int(TraitBedrooms),
		Bathrooms:       d.Int(TraitBathrooms),
		SquareFeet:      d.Int(TraitSquareFeet),
		YearBuilt:       d.Int(TraitYearBuilt),
		Attributes:      d.Attributes,
	}
}
