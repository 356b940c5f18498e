package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-insurance/internal/catalog"
	"github.com/noah-isme/backend-insurance/internal/common"
)

// ErrMissingProductType is returned when a product is priced without its product type.
var ErrMissingProductType = fmt.Errorf("pricing: product type is required: %w", common.ErrInvalidInput)

// Category is the pricing category a product type falls into.
type Category int

const (
	CategoryOther Category = iota
	CategoryLaptop
	CategorySmartphone
	CategoryDigitalCamera
)

func (c Category) String() string {
	switch c {
	case CategoryLaptop:
		return "laptop"
	case CategorySmartphone:
		return "smartphone"
	case CategoryDigitalCamera:
		return "digital_camera"
	default:
		return "other"
	}
}

// Rules is the immutable rule set used to value a product. Amounts are in the
// catalog currency. Category names are compared after catalog.NormalizeCategory.
type Rules struct {
	MinimumInsuredPrice decimal.Decimal
	HighValueThreshold  decimal.Decimal

	LowRangeValue  decimal.Decimal
	MidRangeValue  decimal.Decimal
	HighRangeValue decimal.Decimal

	ElectronicsAddOn    decimal.Decimal
	CameraAddOn         decimal.Decimal
	CartCameraSurcharge decimal.Decimal

	Laptops        string
	Smartphones    string
	DigitalCameras string
}

// DefaultRules returns the standard rule set.
func DefaultRules() Rules {
	return Rules{
		MinimumInsuredPrice: decimal.NewFromInt(500),
		HighValueThreshold:  decimal.NewFromInt(2000),
		LowRangeValue:       decimal.NewFromInt(500),
		MidRangeValue:       decimal.NewFromInt(1000),
		HighRangeValue:      decimal.NewFromInt(2000),
		ElectronicsAddOn:    decimal.NewFromInt(500),
		CameraAddOn:         decimal.NewFromInt(500),
		CartCameraSurcharge: decimal.NewFromInt(500),
		Laptops:             "laptops",
		Smartphones:         "smartphones",
		DigitalCameras:      "digitalcameras",
	}
}

// Classify maps a product type name onto a pricing category.
func (r Rules) Classify(name string) Category {
	switch catalog.NormalizeCategory(name) {
	case catalog.NormalizeCategory(r.Laptops):
		return CategoryLaptop
	case catalog.NormalizeCategory(r.Smartphones):
		return CategorySmartphone
	case catalog.NormalizeCategory(r.DigitalCameras):
		return CategoryDigitalCamera
	default:
		return CategoryOther
	}
}

// IsDigitalCamera reports whether the product type is a digital camera.
func (r Rules) IsDigitalCamera(pt catalog.ProductType) bool {
	return r.Classify(pt.Name) == CategoryDigitalCamera
}

// Insurable reports whether a product earns a non-zero base value. Uninsurable
// types and cheap products outside the laptop category are worth nothing.
func (r Rules) Insurable(product catalog.Product, pt catalog.ProductType) bool {
	if !pt.CanBeInsured {
		return false
	}
	if product.SalesPrice.LessThan(r.MinimumInsuredPrice) && r.Classify(pt.Name) != CategoryLaptop {
		return false
	}
	return true
}

// InsuranceValue values a product given its type and the surcharge configured for
// that type. forCart drops the per-item camera add-on, since carts add a single
// camera surcharge at the cart level instead.
func (r Rules) InsuranceValue(product catalog.Product, pt *catalog.ProductType, surcharge decimal.Decimal, forCart bool) (decimal.Decimal, error) {
	if pt == nil {
		return decimal.Zero, ErrMissingProductType
	}
	if !r.Insurable(product, *pt) {
		return decimal.Zero, nil
	}
	category := r.Classify(pt.Name)
	return r.baseValue(product.SalesPrice, category).
		Add(r.additionalCost(category, forCart)).
		Add(surcharge), nil
}

func (r Rules) baseValue(price decimal.Decimal, category Category) decimal.Decimal {
	switch {
	case price.LessThan(r.MinimumInsuredPrice) && (category == CategoryLaptop || category == CategorySmartphone):
		return r.LowRangeValue
	case price.LessThan(r.HighValueThreshold):
		return r.MidRangeValue
	default:
		return r.HighRangeValue
	}
}

func (r Rules) additionalCost(category Category, forCart bool) decimal.Decimal {
	switch category {
	case CategoryLaptop, CategorySmartphone:
		return r.ElectronicsAddOn
	case CategoryDigitalCamera:
		if !forCart {
			return r.CameraAddOn
		}
	}
	return decimal.Zero
}
