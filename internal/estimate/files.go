package estimate

import (
	"context"
	"strings"

	"github.com/rshade/storagecost/internal/logging"
	"github.com/rshade/storagecost/internal/model"
	"github.com/rshade/storagecost/internal/pricing"
)

var (
	fileStorageRules = []meterRule{
		has("Data Stored").without("Snapshot", "Metadata"),
		has("Capacity").without("Snapshot"),
	}
	filePremiumRules = []meterRule{
		has("Provisioned").without("Snapshot"),
		has("Data Stored").without("Snapshot"),
	}
	fileTransactionRules = []meterRule{
		has("Write Operations"),
		has("Operations").without("Delete"),
	}
	fileRetrievalRules = []meterRule{has("Data Retrieval"), has("Retrieval")}
	fileEgressRules    = []meterRule{has("Data Transfer"), has("Egress")}
	fileSnapshotRules  = []meterRule{has("Snapshot")}
)

// FileShareCalculator prices file shares: consumption-billed tiers on used
// capacity plus operations, and Premium shares on provisioned size.
type FileShareCalculator struct {
	calculator
}

// Calculate implements Calculator.
func (c *FileShareCalculator) Calculate(ctx context.Context, info VolumeInfo) model.VolumeCostEstimate {
	tier := pricing.NormalizeFileTier(info.Tier)
	redundancy := strings.ToUpper(info.Redundancy)
	if redundancy == "" {
		redundancy = "LRS"
	}
	q := pricing.Query{Family: model.FamilyFileShare, Region: info.Region, Tier: tier, Redundancy: redundancy}

	method := MethodFileConsumption
	if q.IsPremiumFileShare() {
		method = MethodFileProvisioned
	}
	b := newBuilder(info, method, c.now())

	items := c.prices.GetPrices(ctx, q)
	if len(items) == 0 {
		b.warn(PricingNotFoundTemplate, model.FamilyFileShare, tier+" "+redundancy, info.Region)
		return b.build()
	}

	if q.IsPremiumFileShare() {
		c.premium(b, info, items)
	} else {
		c.consumption(b, info, tier, items)
	}

	addSnapshot(b, info, items, fileSnapshotRules)

	est := b.build()
	c.logger.Debug().
		Str(logging.FieldResourceID, info.ResourceID).
		Str("access_tier", tier).
		Str("redundancy", redundancy).
		Float64(logging.FieldCostMonthly, est.TotalEstimatedCost).
		Int(logging.FieldConfidence, est.ConfidenceLevel).
		Msg("file share estimated")
	return est
}

func (c *FileShareCalculator) premium(b *builder, info VolumeInfo, items []pricing.PriceItem) {
	billable := info.ProvisionedGiB
	if billable < premiumFileMinGiB {
		b.note(MinimumCapacityTemplate, info.ProvisionedGiB, premiumFileMinGiB, "premium file shares", premiumFileMinGiB)
		billable = premiumFileMinGiB
	}
	item, ok := selectPrice(items, filePremiumRules...)
	if !ok {
		b.warn(MeterNotFoundTemplate, "provisioned capacity", model.FamilyFileShare)
		return
	}
	b.add(model.ComponentStorage, "Premium provisioned share capacity",
		billable, "GiB/month", item.MonthlyUnitPrice(), model.DataSourceConfiguration, item)
	b.note("premium file shares include transactions in the provisioned price")
}

func (c *FileShareCalculator) consumption(b *builder, info VolumeInfo, tier string, items []pricing.PriceItem) {
	stored := info.ProvisionedGiB
	source := model.DataSourceConfiguration
	if info.UsedGiB != nil {
		stored = *info.UsedGiB
		source = model.DataSourceMetrics
	} else {
		b.note("used capacity unknown; billing the share quota of %g GiB", info.ProvisionedGiB)
		b.deduct(confidenceNoUsedSize)
	}

	if item, ok := selectPrice(items, fileStorageRules...); ok {
		if stored > 0 {
			b.add(model.ComponentStorage, tier+" data stored", stored, "GiB/month", item.MonthlyUnitPrice(), source, item)
		}
	} else {
		b.warn(MeterNotFoundTemplate, "data stored", model.FamilyFileShare)
	}

	if info.TransactionsPerMonth == nil {
		b.note("transaction volume unknown; operation charges are not included")
		b.deduct(confidenceNoFileTx)
	} else if *info.TransactionsPerMonth > 0 {
		if item, ok := selectPrice(items, fileTransactionRules...); ok {
			divisor := item.UnitDivisor()
			b.add(model.ComponentTransaction, tier+" operations",
				*info.TransactionsPerMonth/divisor, item.UnitOfMeasure, item.UnitPrice, model.DataSourceMetrics, item)
		} else {
			b.note(MeterNotFoundTemplate, "operations", model.FamilyFileShare)
		}
	}

	if tier == pricing.TierCool && info.RetrievalGiB != nil {
		addIfPriced(b, items, fileRetrievalRules, model.ComponentRetrieval,
			"Cool tier data retrieval", *info.RetrievalGiB, info.RetrievalSource)
	}

	if info.EgressGiB != nil {
		addIfPriced(b, items, fileEgressRules, model.ComponentEgress,
			"Outbound data transfer", *info.EgressGiB, model.DataSourceMetrics)
	}
}

// addSnapshot emits a snapshot component when the snapshot size is known.
func addSnapshot(b *builder, info VolumeInfo, items []pricing.PriceItem, rules []meterRule) {
	if info.SnapshotSizeGiB == nil || *info.SnapshotSizeGiB <= 0 {
		return
	}
	item, ok := selectPrice(items, rules...)
	if !ok {
		b.note(MeterNotFoundTemplate, model.ComponentSnapshot, b.est.ResourceType)
		return
	}
	b.add(model.ComponentSnapshot, "Snapshot storage", *info.SnapshotSizeGiB, "GiB/month",
		item.MonthlyUnitPrice(), model.DataSourceMetrics, item)
}
