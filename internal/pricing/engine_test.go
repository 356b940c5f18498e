package pricing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-insurance/internal/catalog"
	"github.com/noah-isme/backend-insurance/internal/common"
	"github.com/noah-isme/backend-insurance/internal/pricing"
)

type stubSurcharges struct {
	rates map[int]decimal.Decimal
	err   error
	calls int
}

func (s *stubSurcharges) SurchargeFor(_ context.Context, productTypeID int) (decimal.Decimal, error) {
	s.calls++
	if s.err != nil {
		return decimal.Zero, s.err
	}
	return s.rates[productTypeID], nil
}

func TestEngineAddsSurcharge(t *testing.T) {
	src := &stubSurcharges{rates: map[int]decimal.Decimal{32: decimal.RequireFromString("99.95")}}
	engine := pricing.NewEngine(pricing.DefaultRules(), src, zerolog.Nop())

	value, err := engine.CalculateInsuranceValue(context.Background(),
		catalog.Product{ID: 827074, SalesPrice: decimal.NewFromInt(699), ProductTypeID: 32},
		&catalog.ProductType{ID: 32, Name: "Smartphones", CanBeInsured: true}, false)
	require.NoError(t, err)
	require.Equal(t, "1599.95", value.String())
	require.Equal(t, 1, src.calls)
}

func TestEngineSkipsSurchargeForIneligibleItems(t *testing.T) {
	src := &stubSurcharges{rates: map[int]decimal.Decimal{1: decimal.NewFromInt(100)}}
	engine := pricing.NewEngine(pricing.DefaultRules(), src, zerolog.Nop())
	ctx := context.Background()

	value, err := engine.CalculateInsuranceValue(ctx,
		catalog.Product{SalesPrice: decimal.NewFromInt(3000)},
		&catalog.ProductType{ID: 1, Name: "Laptops", CanBeInsured: false}, false)
	require.NoError(t, err)
	require.True(t, value.IsZero())

	value, err = engine.CalculateInsuranceValue(ctx,
		catalog.Product{SalesPrice: decimal.NewFromInt(100)},
		&catalog.ProductType{ID: 1, Name: "MP3 players", CanBeInsured: true}, false)
	require.NoError(t, err)
	require.True(t, value.IsZero())
	require.Zero(t, src.calls)
}

func TestEngineSurchargeFailureDegradesToZero(t *testing.T) {
	src := &stubSurcharges{err: errors.New("store down")}
	engine := pricing.NewEngine(pricing.DefaultRules(), src, zerolog.Nop())

	value, err := engine.CalculateInsuranceValue(context.Background(),
		catalog.Product{SalesPrice: decimal.NewFromInt(699)},
		&catalog.ProductType{ID: 32, Name: "Smartphones", CanBeInsured: true}, false)
	require.NoError(t, err)
	require.Equal(t, "1500", value.String())
}

func TestEngineNilSourceAndMissingType(t *testing.T) {
	engine := pricing.NewEngine(pricing.DefaultRules(), nil, zerolog.Nop())

	value, err := engine.CalculateInsuranceValue(context.Background(),
		catalog.Product{SalesPrice: decimal.NewFromInt(2500)},
		&catalog.ProductType{Name: "Digital cameras", CanBeInsured: true}, true)
	require.NoError(t, err)
	require.Equal(t, "2000", value.String())

	_, err = engine.CalculateInsuranceValue(context.Background(), catalog.Product{}, nil, false)
	require.ErrorIs(t, err, pricing.ErrMissingProductType)
	require.ErrorIs(t, err, common.ErrInvalidInput)
}
