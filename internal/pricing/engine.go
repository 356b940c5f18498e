package pricing

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-insurance/internal/catalog"
)

// SurchargeSource returns the surcharge configured for a product type, zero when
// none is configured.
type SurchargeSource interface {
	SurchargeFor(ctx context.Context, productTypeID int) (decimal.Decimal, error)
}

// Engine applies a Rules value, resolving surcharges on demand.
type Engine struct {
	rules      Rules
	surcharges SurchargeSource
	logger     zerolog.Logger
}

// NewEngine builds an engine. A nil source prices every product type without surcharge.
func NewEngine(rules Rules, surcharges SurchargeSource, logger zerolog.Logger) *Engine {
	return &Engine{rules: rules, surcharges: surcharges, logger: logger}
}

// Rules returns the rule set the engine was built with.
func (e *Engine) Rules() Rules {
	return e.rules
}

// CalculateInsuranceValue values product. The surcharge is only looked up for items
// that qualify, and a failed lookup prices the item without surcharge.
func (e *Engine) CalculateInsuranceValue(ctx context.Context, product catalog.Product, pt *catalog.ProductType, forCart bool) (decimal.Decimal, error) {
	if pt == nil {
		return decimal.Zero, ErrMissingProductType
	}
	if !e.rules.Insurable(product, *pt) {
		return decimal.Zero, nil
	}
	return e.rules.InsuranceValue(product, pt, e.surchargeFor(ctx, pt.ID), forCart)
}

func (e *Engine) surchargeFor(ctx context.Context, productTypeID int) decimal.Decimal {
	if e.surcharges == nil {
		return decimal.Zero
	}
	rate, err := e.surcharges.SurchargeFor(ctx, productTypeID)
	if err != nil {
		e.logger.Warn().Err(err).Int("product_type_id", productTypeID).Msg("surcharge lookup failed, pricing without surcharge")
		return decimal.Zero
	}
	return rate
}
