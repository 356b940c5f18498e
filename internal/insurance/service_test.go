package insurance_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-insurance/internal/catalog"
	"github.com/noah-isme/backend-insurance/internal/common"
	"github.com/noah-isme/backend-insurance/internal/insurance"
	"github.com/noah-isme/backend-insurance/internal/obs"
	"github.com/noah-isme/backend-insurance/internal/pricing"
)

const (
	typeLaptops      = 21
	typeSmartphones  = 32
	typeCameras      = 33
	typeWashers      = 124
	typeUninsurable  = 841
	typeUnreachable  = 999
	productCamera    = 836194
	productCamera2   = 836195
	productLaptop    = 837856
	productPhone     = 827074
	productWasher    = 828519
	productBlocked   = 832845
	productBrokenTyp = 861866
	productDown      = 715990
)

type fakeCatalog struct {
	mu       sync.Mutex
	products map[int]catalog.Product
	types    map[int]catalog.ProductType
	failing  map[int]bool
	calls    atomic.Int32
}

func newFakeCatalog() *fakeCatalog {
	f := &fakeCatalog{
		products: map[int]catalog.Product{},
		types: map[int]catalog.ProductType{
			typeLaptops:     {ID: typeLaptops, Name: "Laptops", CanBeInsured: true},
			typeSmartphones: {ID: typeSmartphones, Name: "Smartphones", CanBeInsured: true},
			typeCameras:     {ID: typeCameras, Name: "Digital cameras", CanBeInsured: true},
			typeWashers:     {ID: typeWashers, Name: "Washing machines", CanBeInsured: true},
			typeUninsurable: {ID: typeUninsurable, Name: "Laptops", CanBeInsured: false},
		},
		failing: map[int]bool{productDown: true},
	}
	f.add(productCamera, typeCameras, "699")
	f.add(productCamera2, typeCameras, "2500")
	f.add(productLaptop, typeLaptops, "1299")
	f.add(productPhone, typeSmartphones, "650")
	f.add(productWasher, typeWashers, "450")
	f.add(productBlocked, typeUninsurable, "3000")
	f.add(productBrokenTyp, typeUnreachable, "1000")
	return f
}

func (f *fakeCatalog) add(id, typeID int, price string) {
	f.products[id] = catalog.Product{ID: id, Name: fmt.Sprintf("product %d", id), SalesPrice: decimal.RequireFromString(price), ProductTypeID: typeID}
}

func (f *fakeCatalog) GetProduct(_ context.Context, id int) (catalog.Product, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[id] {
		return catalog.Product{}, fmt.Errorf("catalog: product %d: %w", id, common.ErrUpstreamUnavailable)
	}
	p, ok := f.products[id]
	if !ok {
		return catalog.Product{}, fmt.Errorf("catalog: product %d: %w", id, common.ErrNotFound)
	}
	return p, nil
}

func (f *fakeCatalog) GetProductType(_ context.Context, id int) (catalog.ProductType, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	pt, ok := f.types[id]
	if !ok {
		return catalog.ProductType{}, fmt.Errorf("catalog: product_type %d: %w", id, common.ErrNotFound)
	}
	return pt, nil
}

type staticSurcharges map[int]decimal.Decimal

func (s staticSurcharges) SurchargeFor(_ context.Context, id int) (decimal.Decimal, error) {
	return s[id], nil
}

func newService(t *testing.T, cat insurance.Catalog, surcharges pricing.SurchargeSource) *insurance.Service {
	t.Helper()
	svc, err := insurance.NewService(insurance.Config{
		Engine:  pricing.NewEngine(pricing.DefaultRules(), surcharges, zerolog.Nop()),
		Catalog: cat,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	return svc
}

func cart(ids ...int) []insurance.Request {
	out := make([]insurance.Request, len(ids))
	for i, id := range ids {
		out[i] = insurance.Request{ProductID: id}
	}
	return out
}

func requireAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := insurance.NewService(insurance.Config{Catalog: newFakeCatalog()})
	require.Error(t, err)
	_, err = insurance.NewService(insurance.Config{Engine: pricing.NewEngine(pricing.DefaultRules(), nil, zerolog.Nop())})
	require.Error(t, err)
}

func TestCalculateInsuranceSingleCamera(t *testing.T) {
	svc := newService(t, newFakeCatalog(), nil)
	res, err := svc.CalculateInsurance(context.Background(), insurance.Request{ProductID: productCamera})
	require.NoError(t, err)
	require.Equal(t, productCamera, res.ProductID)
	require.NotNil(t, res.Product.ProductType)
	requireAmount(t, "1500", res.InsuranceValue)
}

func TestCalculateInsuranceIncludesSurcharge(t *testing.T) {
	svc := newService(t, newFakeCatalog(), staticSurcharges{typeLaptops: decimal.RequireFromString("12.5")})
	res, err := svc.CalculateInsurance(context.Background(), insurance.Request{ProductID: productLaptop})
	require.NoError(t, err)
	requireAmount(t, "1512.5", res.InsuranceValue)
}

func TestCalculateInsuranceErrors(t *testing.T) {
	cat := newFakeCatalog()
	svc := newService(t, cat, nil)
	ctx := context.Background()

	_, err := svc.CalculateInsurance(ctx, insurance.Request{ProductID: 0})
	require.ErrorIs(t, err, insurance.ErrInvalidProduct)
	require.ErrorIs(t, err, common.ErrInvalidInput)
	require.Zero(t, cat.calls.Load())

	_, err = svc.CalculateInsurance(ctx, insurance.Request{ProductID: 4242})
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = svc.CalculateInsurance(ctx, insurance.Request{ProductID: productBrokenTyp})
	require.ErrorIs(t, err, insurance.ErrProductNotFound)

	_, err = svc.CalculateInsurance(ctx, insurance.Request{ProductID: productDown})
	require.ErrorIs(t, err, insurance.ErrProductNotFound)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestCartRejectsEmptyBeforeCatalogAccess(t *testing.T) {
	cat := newFakeCatalog()
	svc := newService(t, cat, nil)

	for _, items := range [][]insurance.Request{nil, {}} {
		_, err := svc.CalculateCartTotal(context.Background(), items)
		require.ErrorIs(t, err, insurance.ErrEmptyCart)
		require.ErrorIs(t, err, common.ErrInvalidInput)
	}
	require.Zero(t, cat.calls.Load())
}

func TestCartTotals(t *testing.T) {
	cases := []struct {
		name  string
		items []insurance.Request
		want  string
	}{
		{"camera and non insurable item", cart(productCamera, productBlocked), "1500"},
		{"camera bonus once for many cameras", cart(productCamera, productCamera2, productCamera), "4500"},
		{"no camera no bonus", cart(productLaptop, productPhone), "3000"},
		{"cheap non laptop is worth nothing", cart(productWasher), "0"},
		{"unresolved items are left out", cart(productLaptop, 4242, productDown), "1500"},
		{"camera found before unresolved item", cart(productCamera, 4242), "1500"},
		{"unresolved item before camera skips bonus", cart(4242, productCamera), "1000"},
		{"non positive id is unresolved", cart(-1, productLaptop), "1500"},
		{"nothing resolves", cart(4242, productDown), "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newService(t, newFakeCatalog(), nil)
			total, err := svc.CalculateCartTotal(context.Background(), tc.items)
			require.NoError(t, err)
			requireAmount(t, tc.want, total)
		})
	}
}

func TestCartTotalIsOrderIndependentWithoutUnresolvedItems(t *testing.T) {
	svc := newService(t, newFakeCatalog(), staticSurcharges{typeSmartphones: decimal.NewFromInt(7)})
	ctx := context.Background()

	a, err := svc.CalculateCartTotal(ctx, cart(productLaptop, productCamera, productPhone, productBlocked))
	require.NoError(t, err)
	b, err := svc.CalculateCartTotal(ctx, cart(productBlocked, productPhone, productCamera, productLaptop))
	require.NoError(t, err)
	require.True(t, a.Equal(b))
	requireAmount(t, "4507", a)
}

func TestCartBoundedConcurrency(t *testing.T) {
	cat := newFakeCatalog()
	svc, err := insurance.NewService(insurance.Config{
		Engine:         pricing.NewEngine(pricing.DefaultRules(), nil, zerolog.Nop()),
		Catalog:        cat,
		MaxConcurrency: 2,
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, err)

	total, err := svc.CalculateCartTotal(context.Background(), cart(productLaptop, productLaptop, productLaptop, productLaptop, productLaptop))
	require.NoError(t, err)
	requireAmount(t, "7500", total)
	require.EqualValues(t, 10, cat.calls.Load())
}

type failingSurcharges struct{}

func (failingSurcharges) SurchargeFor(context.Context, int) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("store down")
}

func TestSurchargeFailureDegradesToZero(t *testing.T) {
	svc := newService(t, newFakeCatalog(), failingSurcharges{})
	total, err := svc.CalculateCartTotal(context.Background(), cart(productLaptop))
	require.NoError(t, err)
	requireAmount(t, "1500", total)
}

func TestCartMetrics(t *testing.T) {
	obs.MustRegisterDomainMetrics("insurance", prometheus.NewRegistry())
	svc := newService(t, newFakeCatalog(), nil)

	skipped := testutil.ToFloat64(obs.CameraSurchargeTotal.WithLabelValues("skipped"))
	applied := testutil.ToFloat64(obs.CameraSurchargeTotal.WithLabelValues("applied"))
	unresolved := testutil.ToFloat64(obs.CartItemsUnresolvedTotal)

	_, err := svc.CalculateCartTotal(context.Background(), cart(4242, productCamera))
	require.NoError(t, err)
	_, err = svc.CalculateCartTotal(context.Background(), cart(productCamera))
	require.NoError(t, err)

	require.Equal(t, skipped+1, testutil.ToFloat64(obs.CameraSurchargeTotal.WithLabelValues("skipped")))
	require.Equal(t, applied+1, testutil.ToFloat64(obs.CameraSurchargeTotal.WithLabelValues("applied")))
	require.Equal(t, unresolved+1, testutil.ToFloat64(obs.CartItemsUnresolvedTotal))
}
