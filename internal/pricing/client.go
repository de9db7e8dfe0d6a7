package pricing

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/rshade/storagecost/internal/cache"
	"github.com/rshade/storagecost/internal/logging"
	"github.com/rshade/storagecost/internal/metrics"
)

// Defaults for Options fields left at zero.
const (
	DefaultCacheTTL      = 24 * time.Hour
	DefaultFetchTimeout  = 30 * time.Second
	DefaultRetryInterval = 250 * time.Millisecond
)

// DefaultMaxRetries is the retry budget used by the CLI configuration.
// A zero Options.MaxRetries disables retries.
const DefaultMaxRetries = 2

// PricingClient provides catalog price lookups.
type PricingClient interface {
	// GetPrices returns the normalized price records for q.
	// It never fails: an empty result means no pricing data is available.
	// The returned slice belongs to the caller.
	GetPrices(ctx context.Context, q Query) []PriceItem
}

// Options tunes a Client.
type Options struct {
	CacheTTL      time.Duration
	FetchTimeout  time.Duration
	MaxRetries    int
	RetryInterval time.Duration
	Clock         func() time.Time
	Metrics       *metrics.Recorder
}

// Client implements PricingClient on top of a CatalogFetcher with a TTL cache.
type Client struct {
	fetcher CatalogFetcher
	logger  zerolog.Logger
	metrics *metrics.Recorder

	cache *cache.TTL[string, []PriceItem]
	group singleflight.Group

	fetchTimeout  time.Duration
	maxRetries    int
	retryInterval time.Duration
}

// NewClient creates a Client that fetches through fetcher and logs with logger.
func NewClient(fetcher CatalogFetcher, logger zerolog.Logger, opts Options) *Client {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	var cacheOpts []cache.Option
	if opts.Clock != nil {
		cacheOpts = append(cacheOpts, cache.WithClock(opts.Clock))
	}

	return &Client{
		fetcher:       fetcher,
		logger:        logger,
		metrics:       opts.Metrics,
		cache:         cache.New[string, []PriceItem](opts.CacheTTL, cacheOpts...),
		fetchTimeout:  opts.FetchTimeout,
		maxRetries:    opts.MaxRetries,
		retryInterval: opts.RetryInterval,
	}
}

// GetPrices returns cached prices for q, fetching them on a miss.
// Concurrent misses for the same query share one fetch. The shared fetch is
// bounded by the fetch timeout only; each caller stops waiting when its own
// ctx is done.
func (c *Client) GetPrices(ctx context.Context, q Query) []PriceItem {
	key := q.key()
	if items, ok := c.cache.Get(key); ok {
		c.metrics.CacheLookup(metrics.CachePricing, true)
		c.logger.Debug().
			Str(logging.FieldCacheKey, key).
			Int("items", len(items)).
			Msg("pricing cache hit")
		return slices.Clone(items)
	}
	c.metrics.CacheLookup(metrics.CachePricing, false)

	filter, err := BuildFilter(q)
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str(logging.FieldResourceFamily, q.Family.String()).
			Str(logging.FieldRegion, q.Region).
			Msg("cannot build catalog filter")
		return nil
	}

	start := time.Now()
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if items, ok := c.cache.Get(key); ok {
			return items, nil
		}
		gen := c.cache.Generation()
		items, err := c.fetch(fetchCtx, q, filter)
		if err != nil {
			return nil, err
		}
		c.cache.SetIfGeneration(key, items, gen)
		return items, nil
	})

	var v any
	select {
	case res := <-ch:
		v, err = res.Val, res.Err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		c.metrics.CatalogFetch(q.Family.String(), false)
		c.logger.Warn().
			Err(err).
			Str(logging.FieldResourceFamily, q.Family.String()).
			Str(logging.FieldRegion, q.Region).
			Str("filter", filter).
			Int64(logging.FieldDurationMs, time.Since(start).Milliseconds()).
			Msg("catalog fetch failed, no pricing data")
		return nil
	}
	c.metrics.CatalogFetch(q.Family.String(), true)

	items := slices.Clone(v.([]PriceItem))
	c.logger.Debug().
		Str(logging.FieldResourceFamily, q.Family.String()).
		Str(logging.FieldRegion, q.Region).
		Int("items", len(items)).
		Int64(logging.FieldDurationMs, time.Since(start).Milliseconds()).
		Msg("catalog prices fetched")
	return items
}

// Invalidate drops the cached entry for q.
func (c *Client) Invalidate(q Query) {
	c.cache.Invalidate(q.key())
}

// Purge drops every cached entry.
func (c *Client) Purge() {
	c.cache.Purge()
}

func (c *Client) fetch(ctx context.Context, q Query, filter string) ([]PriceItem, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	var raw []PriceItem
	op := func() error {
		items, err := c.fetcher.FetchCatalogPrices(ctx, filter)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		raw = items
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return normalize(raw, q.Region), nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *PayloadError
	if errors.As(err, &pe) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

// normalize drops reservation and foreign-region records, classifies the rest
// and orders them so that first-match selection is deterministic.
func normalize(items []PriceItem, region string) []PriceItem {
	out := make([]PriceItem, 0, len(items))
	for _, it := range items {
		if strings.EqualFold(it.Type, "Reservation") {
			continue
		}
		if region != "" && it.Region != "" && !strings.EqualFold(it.Region, region) {
			continue
		}
		out = append(out, classify(it))
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.MeterName != b.MeterName {
			return a.MeterName < b.MeterName
		}
		if a.SkuName != b.SkuName {
			return a.SkuName < b.SkuName
		}
		if a.TierMinimumUnits != b.TierMinimumUnits {
			return a.TierMinimumUnits < b.TierMinimumUnits
		}
		return a.UnitPrice < b.UnitPrice
	})
	return out
}
