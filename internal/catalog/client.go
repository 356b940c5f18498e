package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-insurance/internal/common"
	"github.com/noah-isme/backend-insurance/internal/obs"
)

const (
	resourceProduct     = "product"
	resourceProductType = "product_type"
)

// Doer executes an HTTP request. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// ClientConfig groups Client dependencies.
type ClientConfig struct {
	BaseURL string
	HTTP    Doer
	Cache   *Cache
	Logger  zerolog.Logger
}

// Client reads products and product types from the upstream catalog API.
//
// Lookups fail with common.ErrNotFound when the catalog answers 404 and with
// common.ErrUpstreamUnavailable on transport errors, other non-2xx statuses or
// undecodable payloads. Successful lookups are cached when a Cache is configured.
type Client struct {
	baseURL string
	http    Doer
	cache   *Cache
	logger  zerolog.Logger
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("catalog: base url is required")
	}
	if cfg.HTTP == nil {
		return nil, errors.New("catalog: http client is required")
	}
	return &Client{
		baseURL: base,
		http:    cfg.HTTP,
		cache:   cfg.Cache,
		logger:  cfg.Logger.With().Str("component", "catalog_client").Logger(),
	}, nil
}

// GetProduct resolves a product by id.
func (c *Client) GetProduct(ctx context.Context, id int) (Product, error) {
	var product Product
	if err := c.lookup(ctx, resourceProduct, "products", id, productKey(id), &product); err != nil {
		return Product{}, err
	}
	return product, nil
}

// GetProductType resolves a product type by id.
func (c *Client) GetProductType(ctx context.Context, id int) (ProductType, error) {
	var pt ProductType
	if err := c.lookup(ctx, resourceProductType, "product_types", id, productTypeKey(id), &pt); err != nil {
		return ProductType{}, err
	}
	return pt, nil
}

func (c *Client) lookup(ctx context.Context, resource, route string, id int, cacheKey string, dst any) error {
	if id <= 0 {
		countLookup(resource, "remote", "not_found")
		return fmt.Errorf("catalog: %s %d: %w", resource, id, common.ErrNotFound)
	}

	ok, err := c.cache.GetJSON(ctx, cacheKey, dst)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", cacheKey).Msg("catalog cache read failed")
	}
	if ok {
		countLookup(resource, "cache", "hit")
		return nil
	}

	ctx, span := otel.Tracer("insurance.catalog").Start(ctx, "catalog.get_"+resource)
	span.SetAttributes(attribute.String("catalog.resource", resource), attribute.Int("catalog.id", id))
	defer span.End()

	if err := c.fetch(ctx, fmt.Sprintf("%s/%s/%d", c.baseURL, route, id), dst); err != nil {
		result := "unavailable"
		if errors.Is(err, common.ErrNotFound) {
			result = "not_found"
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, "catalog unavailable")
		}
		countLookup(resource, "remote", result)
		return fmt.Errorf("catalog: %s %d: %w", resource, id, err)
	}
	countLookup(resource, "remote", "ok")

	if err := c.cache.SetJSON(ctx, cacheKey, dst); err != nil {
		c.logger.Warn().Err(err).Str("key", cacheKey).Msg("catalog cache write failed")
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return common.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: status %d", common.ErrUpstreamUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: decode: %w", common.ErrUpstreamUnavailable, err)
	}
	return nil
}

func countLookup(resource, source, result string) {
	if obs.CatalogLookupsTotal == nil {
		return
	}
	obs.CatalogLookupsTotal.WithLabelValues(resource, source, result).Inc()
}
