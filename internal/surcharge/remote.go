package surcharge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-insurance/internal/common"
)

// Doer executes an HTTP request. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// RemoteClient reads surcharges from another instance's GET /api/surcharge/{id}.
// A 404 means no rate is configured; other failures wrap common.ErrUpstreamUnavailable.
type RemoteClient struct {
	baseURL string
	http    Doer
}

// NewRemoteClient builds a RemoteClient for the service rooted at baseURL.
func NewRemoteClient(baseURL string, doer Doer) (*RemoteClient, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("surcharge: remote base url is required")
	}
	if doer == nil {
		return nil, errors.New("surcharge: http client is required")
	}
	return &RemoteClient{baseURL: base, http: doer}, nil
}

// SurchargeFor implements pricing.SurchargeSource.
func (c *RemoteClient) SurchargeFor(ctx context.Context, productTypeID int) (decimal.Decimal, error) {
	if productTypeID <= 0 {
		return decimal.Zero, ErrInvalidProductType
	}
	url := fmt.Sprintf("%s/api/surcharge/%d", c.baseURL, productTypeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", common.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", common.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return decimal.Zero, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return decimal.Zero, fmt.Errorf("%w: surcharge status %d", common.ErrUpstreamUnavailable, resp.StatusCode)
	}
	var body rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("%w: decode surcharge: %w", common.ErrUpstreamUnavailable, err)
	}
	return body.Surcharge, nil
}
