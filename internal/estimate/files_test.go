package estimate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/storagecost/internal/model"
	"github.com/rshade/storagecost/internal/pricing"
)

func hotFilePrices() []pricing.PriceItem {
	return []pricing.PriceItem{
		{MeterName: "Data Transfer Out", UnitPrice: 0.087, UnitOfMeasure: "1 GB"},
		{MeterName: "Hot LRS Data Stored", UnitPrice: 0.0255, UnitOfMeasure: "1 GB/Month"},
		{MeterName: "Hot LRS Snapshot", UnitPrice: 0.0255, UnitOfMeasure: "1 GB/Month"},
		{MeterName: "Hot Read Operations", UnitPrice: 0.0052, UnitOfMeasure: "10K"},
		{MeterName: "Hot Write Operations", UnitPrice: 0.065, UnitOfMeasure: "10K"},
	}
}

func fileInfo(tier string) VolumeInfo {
	return VolumeInfo{
		ResourceID:     "share-1",
		Name:           "share-1",
		ResourceType:   "Microsoft.Storage/storageAccounts/fileServices/shares",
		Family:         model.FamilyFileShare,
		Region:         "westeurope",
		Tier:           tier,
		Redundancy:     "lrs",
		ProvisionedGiB: 500,
	}
}

func TestFileShare_ConsumptionMeasured(t *testing.T) {
	prices := newMockPricingClient()
	prices.items[model.FamilyFileShare] = hotFilePrices()
	reg := newTestRegistry(prices)

	info := fileInfo("Hot")
	info.UsedGiB = floatPtr(200)
	info.TransactionsPerMonth = floatPtr(1_000_000)
	info.EgressGiB = floatPtr(10)
	info.SnapshotSizeGiB = floatPtr(40)

	est := reg.Calculate(context.Background(), info)

	require.Len(t, prices.queries, 1)
	assert.Equal(t, pricing.Query{Family: model.FamilyFileShare, Region: "westeurope", Tier: "Hot", Redundancy: "LRS"}, prices.queries[0])

	assert.Equal(t, MethodFileConsumption, est.EstimationMethod)
	assert.InDelta(t, 5.1, est.ComponentCost(model.ComponentStorage), 1e-6)
	assert.InDelta(t, 6.5, est.ComponentCost(model.ComponentTransaction), 1e-6)
	assert.InDelta(t, 0.87, est.ComponentCost(model.ComponentEgress), 1e-6)
	assert.InDelta(t, 1.02, est.ComponentCost(model.ComponentSnapshot), 1e-6)
	assert.InDelta(t, 13.49, est.TotalEstimatedCost, 1e-6)
	assert.Equal(t, 100, est.ConfidenceLevel)
	assertTotalIsSum(t, est)
}

func TestFileShare_UnknownUsageDegrades(t *testing.T) {
	prices := newMockPricingClient()
	prices.items[model.FamilyFileShare] = hotFilePrices()
	reg := newTestRegistry(prices)

	est := reg.Calculate(context.Background(), fileInfo("Hot"))

	require.Len(t, est.Components, 1)
	assert.Equal(t, 500.0, est.Components[0].Quantity, "quota is billed when usage is unknown")
	assert.Equal(t, model.DataSourceConfiguration, est.Components[0].DataSource)
	// 100 - 15 (used unknown) - 20 (transactions unknown)
	assert.Equal(t, 65, est.ConfidenceLevel)
	assert.Len(t, est.Notes, 2)
}

func TestFileShare_CoolRetrieval(t *testing.T) {
	prices := newMockPricingClient()
	prices.items[model.FamilyFileShare] = []pricing.PriceItem{
		{MeterName: "Cool Data Retrieval", UnitPrice: 0.01, UnitOfMeasure: "1 GB"},
		{MeterName: "Cool LRS Data Stored", UnitPrice: 0.015, UnitOfMeasure: "1 GB/Month"},
	}
	reg := newTestRegistry(prices)

	info := fileInfo("cool")
	info.UsedGiB = floatPtr(300)
	info.TransactionsPerMonth = floatPtr(0)
	info.RetrievalGiB, info.RetrievalSource = floatPtr(45), model.DataSourceAssumption

	est := reg.Calculate(context.Background(), info)

	assert.Equal(t, pricing.TierCool, prices.queries[0].Tier)
	assert.InDelta(t, 4.5, est.ComponentCost(model.ComponentStorage), 1e-6)
	assert.InDelta(t, 0.45, est.ComponentCost(model.ComponentRetrieval), 1e-6)
	assert.Equal(t, 100, est.ConfidenceLevel)
	assertTotalIsSum(t, est)
}

func TestFileShare_PremiumMinimum(t *testing.T) {
	prices := newMockPricingClient()
	prices.items[model.FamilyFileShare] = []pricing.PriceItem{
		{MeterName: "Premium LRS Provisioned", UnitPrice: 0.16, UnitOfMeasure: "1 GiB/Month"},
	}
	reg := newTestRegistry(prices)

	info := fileInfo("Premium")
	info.ProvisionedGiB = 50

	est := reg.Calculate(context.Background(), info)

	assert.Equal(t, MethodFileProvisioned, est.EstimationMethod)
	require.Len(t, est.Components, 1)
	assert.Equal(t, 100.0, est.Components[0].Quantity)
	assert.InDelta(t, 16.0, est.TotalEstimatedCost, 1e-6)
	assert.Contains(t, est.Notes[0], "requested 50 GiB")
	assert.Equal(t, 100, est.ConfidenceLevel)
}

func TestFileShare_NoPrices(t *testing.T) {
	reg := newTestRegistry(newMockPricingClient())
	est := reg.Calculate(context.Background(), fileInfo(""))

	assert.Empty(t, est.Components)
	assert.Equal(t, model.MinConfidence, est.ConfidenceLevel)
	assert.Contains(t, est.Warnings[0], "TransactionOptimized LRS")
}
