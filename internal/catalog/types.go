package catalog

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Product is a catalog product as served by the upstream catalog API.
type Product struct {
	ID            int             `json:"id"`
	Name          string          `json:"name"`
	SalesPrice    decimal.Decimal `json:"salesPrice"`
	ProductTypeID int             `json:"productTypeId"`
	// ProductType is resolved by the caller and never part of the upstream payload.
	ProductType *ProductType `json:"-"`
}

// ProductType classifies products and decides whether they can be insured.
type ProductType struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	CanBeInsured bool   `json:"canBeInsured"`
}

// NormalizedName returns the type name trimmed, stripped of whitespace and lower-cased,
// so "Digital Cameras", " digitalcameras " and "DIGITAL CAMERAS" compare equal.
func (pt ProductType) NormalizedName() string {
	return NormalizeCategory(pt.Name)
}

// NormalizeCategory applies the category matching normalisation to an arbitrary name.
func NormalizeCategory(name string) string {
	return strings.ToLower(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, name))
}
