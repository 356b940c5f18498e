// Package insurance resolves catalog products and prices them individually or as
// a cart, adding the cart-wide camera surcharge.
package insurance

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/backend-insurance/internal/catalog"
	"github.com/noah-isme/backend-insurance/internal/common"
	"github.com/noah-isme/backend-insurance/internal/obs"
	"github.com/noah-isme/backend-insurance/internal/pricing"
)

var (
	// ErrEmptyCart is returned for a nil or empty cart.
	ErrEmptyCart = fmt.Errorf("insurance: cart is empty: %w", common.ErrInvalidInput)
	// ErrInvalidProduct is returned for non-positive product ids.
	ErrInvalidProduct = fmt.Errorf("insurance: product id must be positive: %w", common.ErrInvalidInput)
	// ErrProductNotFound is returned when the product or its type cannot be resolved,
	// including when the catalog is unreachable.
	ErrProductNotFound = fmt.Errorf("insurance: product not found: %w", common.ErrNotFound)
)

// Catalog resolves products and product types. *catalog.Client satisfies it.
type Catalog interface {
	GetProduct(ctx context.Context, id int) (catalog.Product, error)
	GetProductType(ctx context.Context, id int) (catalog.ProductType, error)
}

// Request references one product to insure.
type Request struct {
	ProductID int `json:"productId"`
}

// Result is a priced product.
type Result struct {
	ProductID      int
	Product        catalog.Product
	ProductType    catalog.ProductType
	InsuranceValue decimal.Decimal
}

// Config groups Service dependencies.
type Config struct {
	Engine  *pricing.Engine
	Catalog Catalog
	// MaxConcurrency bounds per-cart lookups. Zero means unbounded.
	MaxConcurrency int
	Logger         zerolog.Logger
}

// Service prices single products and carts.
type Service struct {
	engine         *pricing.Engine
	catalog        Catalog
	maxConcurrency int
	logger         zerolog.Logger
	cartItems      metric.Int64Histogram
}

// NewService constructs a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Engine == nil {
		return nil, errors.New("insurance: pricing engine is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("insurance: catalog is required")
	}
	logger := cfg.Logger.With().Str("component", "insurance_service").Logger()

	cartItems, err := otel.Meter("insurance").Int64Histogram("insurance.cart.items",
		metric.WithDescription("Items per cart insurance calculation."),
		metric.WithUnit("{item}"))
	if err != nil {
		logger.Warn().Err(err).Msg("cart items instrument unavailable")
		cartItems = noop.Int64Histogram{}
	}

	return &Service{
		engine:         cfg.Engine,
		catalog:        cfg.Catalog,
		maxConcurrency: cfg.MaxConcurrency,
		logger:         logger,
		cartItems:      cartItems,
	}, nil
}

// CalculateInsurance prices a single product, including the per-item camera add-on.
func (s *Service) CalculateInsurance(ctx context.Context, req Request) (res Result, err error) {
	defer func() { countCalculation("product", err) }()
	return s.resolve(ctx, req.ProductID, false)
}

type cartSlot struct {
	result Result
	err    error
}

// CalculateCartTotal prices every item concurrently and sums the values that could
// be resolved. Unresolved items are left out of the total. A cart holding a digital
// camera gets a single cart-wide camera surcharge on top.
func (s *Service) CalculateCartTotal(ctx context.Context, items []Request) (total decimal.Decimal, err error) {
	defer func() { countCalculation("cart", err) }()
	if len(items) == 0 {
		return decimal.Zero, ErrEmptyCart
	}

	ctx, span := otel.Tracer("insurance.service").Start(ctx, "insurance.cart_total")
	defer span.End()
	span.SetAttributes(attribute.Int("cart.items", len(items)))
	s.cartItems.Record(ctx, int64(len(items)))
	if obs.CartSize != nil {
		obs.CartSize.Observe(float64(len(items)))
	}

	slots := make([]cartSlot, len(items))
	var g errgroup.Group
	if s.maxConcurrency > 0 {
		g.SetLimit(s.maxConcurrency)
	}
	for i, item := range items {
		g.Go(func() error {
			res, err := s.resolve(ctx, item.ProductID, true)
			slots[i] = cartSlot{result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	total = decimal.Zero
	unresolved := 0
	for i, slot := range slots {
		if slot.err != nil {
			unresolved++
			s.logger.Debug().Err(slot.err).Int("position", i).Int("product_id", items[i].ProductID).Msg("cart item left out of total")
			continue
		}
		total = total.Add(slot.result.InsuranceValue)
	}
	if unresolved > 0 {
		span.SetAttributes(attribute.Int("cart.unresolved", unresolved))
		if obs.CartItemsUnresolvedTotal != nil {
			obs.CartItemsUnresolvedTotal.Add(float64(unresolved))
		}
	}

	return s.applyCameraSurcharge(slots, total), nil
}

// applyCameraSurcharge scans the cart in order and adds the camera surcharge at the
// first digital camera. Meeting an unresolved item first leaves total unchanged,
// since the cart can no longer be classified.
func (s *Service) applyCameraSurcharge(slots []cartSlot, total decimal.Decimal) decimal.Decimal {
	rules := s.engine.Rules()
	for i, slot := range slots {
		if slot.err != nil {
			s.logger.Warn().Err(slot.err).Int("position", i).Msg("camera surcharge skipped, cart item unresolved")
			countCamera("skipped")
			return total
		}
		if rules.IsDigitalCamera(slot.result.ProductType) {
			countCamera("applied")
			return total.Add(rules.CartCameraSurcharge)
		}
	}
	countCamera("not_applicable")
	return total
}

func (s *Service) resolve(ctx context.Context, productID int, forCart bool) (Result, error) {
	if productID <= 0 {
		return Result{}, fmt.Errorf("%w: got %d", ErrInvalidProduct, productID)
	}
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: product %d: %w", ErrProductNotFound, productID, err)
	}
	pt, err := s.catalog.GetProductType(ctx, product.ProductTypeID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: product %d type %d: %w", ErrProductNotFound, productID, product.ProductTypeID, err)
	}
	product.ProductType = &pt

	value, err := s.engine.CalculateInsuranceValue(ctx, product, product.ProductType, forCart)
	if err != nil {
		return Result{}, fmt.Errorf("insurance: price product %d: %w: %w", productID, common.ErrInvariantViolation, err)
	}
	return Result{ProductID: productID, Product: product, ProductType: pt, InsuranceValue: value}, nil
}

func countCalculation(kind string, err error) {
	if obs.InsuranceCalculationsTotal == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, common.ErrInvalidInput):
		result = "invalid"
	case errors.Is(err, common.ErrNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	obs.InsuranceCalculationsTotal.WithLabelValues(kind, result).Inc()
}

func countCamera(outcome string) {
	if obs.CameraSurchargeTotal != nil {
		obs.CameraSurchargeTotal.WithLabelValues(outcome).Inc()
	}
}
