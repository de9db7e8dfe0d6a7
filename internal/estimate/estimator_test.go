package estimate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/storagecost/internal/model"
	"github.com/rshade/storagecost/internal/pricing"
	"github.com/rshade/storagecost/internal/telemetry"
)

type mockResolver struct {
	mu          sync.Mutex
	assumptions model.CoolDataAssumptions
	err         error
	calls       int
}

func (m *mockResolver) ResolveAssumptions(context.Context, string, string) (model.CoolDataAssumptions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.assumptions, m.err
}

func globalDefaults() *mockResolver {
	return &mockResolver{assumptions: model.CoolDataAssumptions{
		CoolDataPercentage:          80,
		CoolDataRetrievalPercentage: 15,
		Source:                      model.SourceGlobal,
	}}
}

// failingFetcher fails every metric read.
type failingFetcher struct{}

func (failingFetcher) FetchResourceMetrics(context.Context, string, string, int) (float64, bool, error) {
	return 0, false, errors.New("throttled")
}

// blockingFetcher waits for the caller's deadline.
type blockingFetcher struct{}

func (blockingFetcher) FetchResourceMetrics(ctx context.Context, _, _ string, _ int) (float64, bool, error) {
	<-ctx.Done()
	return 0, false, ctx.Err()
}

// panickingFetcher panics on every metric read.
type panickingFetcher struct{}

func (panickingFetcher) FetchResourceMetrics(context.Context, string, string, int) (float64, bool, error) {
	panic("metrics client not initialised")
}

// panickingResolver panics on every resolution.
type panickingResolver struct{}

func (panickingResolver) ResolveAssumptions(context.Context, string, string) (model.CoolDataAssumptions, error) {
	panic("nil store")
}

func netappRecord(id string) model.VolumeRecord {
	return model.VolumeRecord{
		ID:                id,
		JobID:             "job-1",
		ResourceID:        "/vol/" + id,
		Name:              id,
		ResourceType:      "netapp-volume",
		Region:            "EastUS",
		Tier:              "Premium",
		ProvisionedGiB:    4096,
		UsedGiB:           floatPtr(1000),
		CoolAccessEnabled: true,
	}
}

func newTestEstimator(prices pricing.PricingClient, resolver AssumptionResolver, fetcher telemetry.MetricsFetcher) *Estimator {
	return NewEstimator(newTestRegistry(prices), resolver, fetcher, zerolog.Nop(), EstimatorOptions{
		MetricsTimeout: 20 * time.Millisecond,
	})
}

func TestEstimator_CoolSplitFromAssumptions(t *testing.T) {
	prices := newMockPricingClient()
	prices.items[model.FamilyNetAppVolume] = netappPrices()
	resolver := globalDefaults()
	e := newTestEstimator(prices, resolver, nil)

	est, err := e.EstimateVolume(context.Background(), "job-1", netappRecord("v1"))
	require.NoError(t, err)

	assert.Equal(t, 1, resolver.calls)
	require.Len(t, est.Components, 3)
	assert.Equal(t, 800.0, est.Components[1].Quantity)
	assert.Equal(t, model.DataSourceAssumption, est.Components[1].DataSource)
	assert.Equal(t, 120.0, est.Components[2].Quantity)
	assert.Equal(t, 85, est.ConfidenceLevel)
	assert.Contains(t, est.Notes, "cool data assumptions from Global settings")
	assert.Equal(t, "eastus", est.Region)
	assertTotalIsSum(t, est)
}

func TestEstimator_MeasuredSplitSkipsResolver(t *testing.T) {
	prices := newMockPricingClient()
	prices.items[model.FamilyNetAppVolume] = netappPrices()
	resolver := globalDefaults()

	metrics := telemetry.NewStaticFetcher()
	metrics.Set("/vol/v1", telemetry.MetricCoolTierSize, 600)
	metrics.Set("/vol/v1", telemetry.MetricCoolTierDataReadSize, 30)
	metrics.Set("/vol/v1", telemetry.MetricCoolTierDataWriteSize, 70)

	e := newTestEstimator(prices, resolver, metrics)
	info := e.BuildVolumeInfo(context.Background(), "job-1", netappRecord("v1"))

	assert.Equal(t, 0, resolver.calls)
	require.NotNil(t, info.CoolDataGiB)
	assert.Equal(t, 600.0, *info.CoolDataGiB)
	assert.Equal(t, 400.0, *info.HotDataGiB)
	assert.Equal(t, model.DataSourceMetrics, info.SplitSource)
	assert.Equal(t, model.DataSourceMetrics, info.TieringSource)
	assert.Equal(t, model.DataSourceMetrics, info.RetrievalSource)

	est, err := e.EstimateVolume(context.Background(), "job-1", netappRecord("v1"))
	require.NoError(t, err)
	assert.Equal(t, 100, est.ConfidenceLevel)
	assert.Len(t, est.Components, 4)
}

func TestEstimator_TelemetryFailureDegrades(t *testing.T) {
	prices := newMockPricingClient()
	prices.items[model.FamilyManagedDisk] = []pricing.PriceItem{
		{MeterName: "S10 LRS Disk", UnitPrice: 5.89, UnitOfMeasure: "1/Month"},
	}
	e := newTestEstimator(prices, nil, failingFetcher{})

	rec := model.VolumeRecord{ID: "d1", ResourceType: "Microsoft.Compute/disks", Region: "eastus", Tier: "Standard_LRS", ProvisionedGiB: 128}
	est, err := e.EstimateVolume(context.Background(), "job-1", rec)
	require.NoError(t, err)

	require.Len(t, est.Components, 1)
	assert.Len(t, est.Warnings, 2, "one warning per failed metric")
	// 100 - 15 (transactions unknown) - 2×10 (warnings)
	assert.Equal(t, 65, est.ConfidenceLevel)
}

func TestEstimator_TelemetryTimeoutIsBounded(t *testing.T) {
	prices := newMockPricingClient()
	prices.items[model.FamilyFileShare] = hotFilePrices()
	e := newTestEstimator(prices, nil, blockingFetcher{})

	rec := model.VolumeRecord{ID: "s1", ResourceType: "file-share", Region: "eastus", Tier: "Hot", ProvisionedGiB: 100}

	start := time.Now()
	est, err := e.EstimateVolume(context.Background(), "job-1", rec)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.NotEmpty(t, est.Components)
	for _, w := range est.Warnings {
		assert.Contains(t, w, "deadline exceeded")
	}
}

func TestEstimator_ResolverFailureIsWarning(t *testing.T) {
	prices := newMockPricingClient()
	prices.items[model.FamilyNetAppVolume] = netappPrices()
	e := newTestEstimator(prices, &mockResolver{err: errors.New("table unavailable")}, nil)

	est, err := e.EstimateVolume(context.Background(), "job-1", netappRecord("v1"))
	require.NoError(t, err)

	assert.Len(t, est.Components, 1)
	assert.Contains(t, est.Warnings[0], "table unavailable")
	assert.Contains(t, est.Warnings[1], "assuming all data is hot")
}

func TestEstimator_DiskOperationsFromTelemetry(t *testing.T) {
	metrics := telemetry.NewStaticFetcher()
	metrics.Set("d1", telemetry.MetricDiskReadOperationsSec, 10)
	metrics.Set("d1", telemetry.MetricDiskWriteOperationsSec, 5)
	e := newTestEstimator(newMockPricingClient(), nil, metrics)

	rec := model.VolumeRecord{ID: "d1", ResourceType: "managed-disk", Region: "eastus", Tier: "StandardSSD_LRS", ProvisionedGiB: 64}
	info := e.BuildVolumeInfo(context.Background(), "job-1", rec)

	require.NotNil(t, info.TransactionsPerMonth)
	assert.Equal(t, 15.0*2_628_000, *info.TransactionsPerMonth)
}

func TestEstimator_RecoversInputPanics(t *testing.T) {
	tests := []struct {
		name     string
		resolver AssumptionResolver
		fetcher  telemetry.MetricsFetcher
		record   model.VolumeRecord
		want     string
	}{
		{
			name:     "telemetry fetcher",
			resolver: globalDefaults(),
			fetcher:  panickingFetcher{},
			record:   netappRecord("v1"),
			want:     "metrics client not initialised",
		},
		{
			name:     "assumption resolver",
			resolver: panickingResolver{},
			record:   netappRecord("v1"),
			want:     "nil store",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prices := newMockPricingClient()
			prices.items[model.FamilyNetAppVolume] = netappPrices()
			est := newTestEstimator(prices, tt.resolver, tt.fetcher)

			var got model.VolumeCostEstimate
			var err error
			require.NotPanics(t, func() {
				got, err = est.EstimateVolume(context.Background(), "job-1", tt.record)
			})
			require.NoError(t, err)
			assert.Equal(t, MethodFailed, got.EstimationMethod)
			assert.Equal(t, model.MinConfidence, got.ConfidenceLevel)
			assert.Equal(t, "/vol/v1", got.ResourceID)
			assert.Empty(t, got.Components)
			require.Len(t, got.Warnings, 1)
			assert.Contains(t, got.Warnings[0], tt.want)
		})
	}
}

func TestEstimator_RejectsMissingID(t *testing.T) {
	e := newTestEstimator(newMockPricingClient(), nil, nil)
	_, err := e.EstimateVolume(context.Background(), "job-1", model.VolumeRecord{ResourceType: "managed-disk"})
	assert.True(t, model.IsValidationError(err))
}

func TestEstimator_EstimateJobKeepsOrder(t *testing.T) {
	prices := newMockPricingClient()
	prices.items[model.FamilyNetAppVolume] = netappPrices()
	e := newTestEstimator(prices, globalDefaults(), nil)

	records := make([]model.VolumeRecord, 0, 6)
	for i := 0; i < 5; i++ {
		records = append(records, netappRecord(fmt.Sprintf("v%d", i)))
	}
	records = append(records, model.VolumeRecord{ResourceType: "netapp-volume"})

	results := e.EstimateJob(context.Background(), "job-1", records)

	require.Len(t, results, 6)
	for i := 0; i < 5; i++ {
		assert.Equal(t, fmt.Sprintf("v%d", i), results[i].VolumeID)
		assert.NoError(t, results[i].Err)
		assert.Equal(t, "/vol/"+results[i].VolumeID, results[i].Estimate.ResourceID)
	}
	assert.Error(t, results[5].Err)
}

// countingCatalog is a pricing.CatalogFetcher that counts fetches.
type countingCatalog struct {
	mu    sync.Mutex
	calls int
	items []pricing.PriceItem
}

func (c *countingCatalog) FetchCatalogPrices(context.Context, string) ([]pricing.PriceItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.items, nil
}

func TestEstimator_SharesCatalogCache(t *testing.T) {
	catalog := &countingCatalog{items: netappPrices()}
	client := pricing.NewClient(catalog, zerolog.Nop(), pricing.Options{})
	e := newTestEstimator(client, globalDefaults(), nil)

	for _, id := range []string{"v1", "v2", "v3"} {
		est, err := e.EstimateVolume(context.Background(), "job-1", netappRecord(id))
		require.NoError(t, err)
		assert.Len(t, est.Components, 3)
	}
	assert.Equal(t, 1, catalog.calls)
}
