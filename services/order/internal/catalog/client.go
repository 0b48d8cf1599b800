// Package catalog looks up product snapshots for order intake.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/httpclient"
)

const serviceName = "catalog"

// HTTPDoer executes HTTP requests. Both httpclient.Client and
// httpclient.CircuitBreakerClient satisfy it.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Product is the part of a catalog product an order line snapshots.
// Price is in minor units.
type Product struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Currency  string `json:"currency"`
	Available bool   `json:"available"`
}

// Client reads products from the catalog service.
type Client struct {
	http    HTTPDoer
	baseURL string
}

func NewClient(doer HTTPDoer, baseURL string) *Client {
	return &Client{http: doer, baseURL: strings.TrimRight(baseURL, "/")}
}

// CircuitOpenFallback turns an open breaker into a 503 instead of leaking
// gobreaker's sentinel to callers.
func CircuitOpenFallback(_ context.Context, _ error) (*http.Response, error) {
	return nil, apperrors.ServiceUnavailable("catalog is temporarily unavailable, please retry later")
}

// GetProduct returns the product snapshot for id. Unknown and unavailable
// products are rejected as invalid input so the order is refused.
func (c *Client) GetProduct(ctx context.Context, id string) (*Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/products/"+url.PathEscape(id), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create product request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call catalog: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, apperrors.InvalidInput(fmt.Sprintf("product %s does not exist", id))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, serviceName)
	}
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		Data *Product `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode product %s: %w", id, err)
	}
	if body.Data == nil {
		return nil, fmt.Errorf("catalog returned no product for %s", id)
	}

	p := body.Data
	if !p.Available {
		return nil, apperrors.InvalidInput(fmt.Sprintf("product %s is not available", id))
	}
	if p.Price < 0 {
		return nil, fmt.Errorf("catalog returned negative price for %s", id)
	}
	return p, nil
}
