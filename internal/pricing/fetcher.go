package pricing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
)

// DefaultEndpoint is the public retail prices API.
const DefaultEndpoint = "https://prices.azure.com/api/retail/prices"

// DefaultMaxPages bounds how many NextPageLink pages one fetch follows.
const DefaultMaxPages = 20

// CatalogFetcher executes a filter expression against the retail catalog.
type CatalogFetcher interface {
	FetchCatalogPrices(ctx context.Context, filter string) ([]PriceItem, error)
}

// StatusError is returned for non-success HTTP responses.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog returned %s", e.Status)
}

// Retryable reports whether the status indicates a transient condition.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// PayloadError is returned when a catalog page cannot be decoded.
type PayloadError struct {
	Err error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("malformed catalog payload: %v", e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

// HTTPFetcher queries the retail prices REST API and follows NextPageLink.
type HTTPFetcher struct {
	endpoint string
	client   *http.Client
	maxPages int
}

// NewHTTPFetcher creates a fetcher for endpoint. A nil client gets a pooled
// client with a conservative timeout; maxPages <= 0 uses the default bound.
func NewHTTPFetcher(endpoint string, client *http.Client, maxPages int) *HTTPFetcher {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &HTTPFetcher{endpoint: endpoint, client: client, maxPages: maxPages}
}

// FetchCatalogPrices returns every item matching filter across all pages.
func (f *HTTPFetcher) FetchCatalogPrices(ctx context.Context, filter string) ([]PriceItem, error) {
	u, err := url.Parse(f.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog endpoint: %w", err)
	}
	q := u.Query()
	q.Set("$filter", filter)
	u.RawQuery = q.Encode()

	var items []PriceItem
	next := u.String()
	for page := 0; next != "" && page < f.maxPages; page++ {
		p, err := f.fetchPage(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, it := range p.Items {
			items = append(items, it.toPriceItem())
		}
		next = p.NextPageLink
	}
	return items, nil
}

func (f *HTTPFetcher) fetchPage(ctx context.Context, pageURL string) (*retailPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var p retailPage
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, &PayloadError{Err: err}
	}
	return &p, nil
}
