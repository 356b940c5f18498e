package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// InsuranceCalculationsTotal counts quote calculations by kind (product, cart) and outcome.
	InsuranceCalculationsTotal *prometheus.CounterVec
	// CartItemsUnresolvedTotal counts cart items left out of a total because their
	// product or product type could not be resolved.
	CartItemsUnresolvedTotal prometheus.Counter
	// CameraSurchargeTotal counts cart camera adjustments by outcome
	// (applied, not_applicable, skipped).
	CameraSurchargeTotal *prometheus.CounterVec
	// CatalogLookupsTotal counts catalog lookups by resource, source (cache, remote) and result.
	CatalogLookupsTotal *prometheus.CounterVec
	// SurchargeUploadsTotal counts surcharge upload batches by result.
	SurchargeUploadsTotal *prometheus.CounterVec
	// CartSize records the number of items per cart quote.
	CartSize prometheus.Histogram
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		InsuranceCalculationsTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insurance_calculations_total",
			Help:      "Count of insurance calculations by kind and result.",
		}, []string{"kind", "result"}))
		CartItemsUnresolvedTotal = registerOrReuse(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_items_unresolved_total",
			Help:      "Cart items excluded from the total because they could not be resolved.",
		}))
		CameraSurchargeTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "camera_surcharge_total",
			Help:      "Cart camera surcharge decisions by outcome.",
		}, []string{"outcome"}))
		CatalogLookupsTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_lookups_total",
			Help:      "Catalog lookups by resource, source and result.",
		}, []string{"resource", "source", "result"}))
		SurchargeUploadsTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "surcharge_uploads_total",
			Help:      "Surcharge rate upload batches by result.",
		}, []string{"result"}))
		CartSize = registerOrReuse(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cart_size_items",
			Help:      "Number of items per cart insurance calculation.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 50, 100},
		}))
	})
}

// registerOrReuse registers c, returning the already registered collector of the
// same shape when there is one.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
	return c
}
