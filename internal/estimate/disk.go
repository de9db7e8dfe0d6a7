package estimate

import (
	"context"
	"fmt"
	"strings"

	"github.com/rshade/storagecost/internal/logging"
	"github.com/rshade/storagecost/internal/model"
	"github.com/rshade/storagecost/internal/pricing"
)

// DiskTier is a fixed-size managed disk offering.
type DiskTier struct {
	Name    string
	SizeGiB float64
}

var (
	premiumDiskTiers = []DiskTier{
		{"P1", 4}, {"P2", 8}, {"P3", 16}, {"P4", 32}, {"P6", 64}, {"P10", 128}, {"P15", 256},
		{"P20", 512}, {"P30", 1024}, {"P40", 2048}, {"P50", 4096}, {"P60", 8192}, {"P70", 16384}, {"P80", 32767},
	}
	standardSSDTiers = []DiskTier{
		{"E1", 4}, {"E2", 8}, {"E3", 16}, {"E4", 32}, {"E6", 64}, {"E10", 128}, {"E15", 256},
		{"E20", 512}, {"E30", 1024}, {"E40", 2048}, {"E50", 4096}, {"E60", 8192}, {"E70", 16384}, {"E80", 32767},
	}
	standardHDDTiers = []DiskTier{
		{"S4", 32}, {"S6", 64}, {"S10", 128}, {"S15", 256}, {"S20", 512}, {"S30", 1024},
		{"S40", 2048}, {"S50", 4096}, {"S60", 8192}, {"S70", 16384}, {"S80", 32767},
	}
)

// Baseline performance included with Premium SSD v2 capacity.
const (
	premiumV2BaselineIOPS       = 3000.0
	premiumV2BaselineThroughput = 125.0
)

var (
	diskTransactionRules = []meterRule{has("Disk Operations"), has("Operations")}
	diskSnapshotRules    = []meterRule{has("Snapshot")}
	diskCapacityRules    = []meterRule{has("Provisioned Capacity"), has("Capacity").without("Snapshot")}
	diskIOPSRules        = []meterRule{has("Provisioned IOPS"), has("IOPS")}
	diskThroughputRules  = []meterRule{has("Provisioned Throughput"), has("Throughput")}
)

// SelectDiskTier returns the smallest tier of diskType that holds sizeGiB.
// The second result is false when the type has no fixed tiers or the size exceeds the largest tier.
func SelectDiskTier(diskType string, sizeGiB float64) (DiskTier, bool) {
	label, ok := pricing.DiskTypeLabel(diskType)
	if !ok {
		return DiskTier{}, false
	}
	var tiers []DiskTier
	switch label {
	case pricing.DiskLabelPremium:
		tiers = premiumDiskTiers
	case pricing.DiskLabelStandardSSD:
		tiers = standardSSDTiers
	case pricing.DiskLabelStandardHDD:
		tiers = standardHDDTiers
	default:
		return DiskTier{}, false
	}
	for _, t := range tiers {
		if sizeGiB <= t.SizeGiB {
			return t, true
		}
	}
	return DiskTier{}, false
}

// ManagedDiskCalculator prices managed block volumes.
type ManagedDiskCalculator struct {
	calculator
}

// Calculate implements Calculator.
func (c *ManagedDiskCalculator) Calculate(ctx context.Context, info VolumeInfo) model.VolumeCostEstimate {
	b := newBuilder(info, MethodDiskTier, c.now())

	label, ok := pricing.DiskTypeLabel(info.Tier)
	if !ok {
		b.warn("unknown disk type %q", info.Tier)
		return b.build()
	}
	redundancy := diskRedundancy(info)

	items := c.prices.GetPrices(ctx, pricing.Query{
		Family:     model.FamilyManagedDisk,
		Region:     info.Region,
		Tier:       info.Tier,
		Redundancy: redundancy,
	})
	if len(items) == 0 {
		b.warn(PricingNotFoundTemplate, model.FamilyManagedDisk, label, info.Region)
		return b.build()
	}

	switch label {
	case pricing.DiskLabelUltra, pricing.DiskLabelPremiumV2:
		b.method(MethodDiskProvisioned)
		c.provisioned(b, info, label, items)
	default:
		c.tiered(b, info, label, redundancy, items)
	}

	addSnapshot(b, info, items, diskSnapshotRules)

	est := b.build()
	c.logger.Debug().
		Str(logging.FieldResourceID, info.ResourceID).
		Str("disk_type", label).
		Float64(logging.FieldCostMonthly, est.TotalEstimatedCost).
		Int(logging.FieldConfidence, est.ConfidenceLevel).
		Msg("managed disk estimated")
	return est
}

func (c *ManagedDiskCalculator) tiered(b *builder, info VolumeInfo, label, redundancy string, items []pricing.PriceItem) {
	tier, ok := SelectDiskTier(info.Tier, info.ProvisionedGiB)
	if !ok {
		b.warn("disk size %g GiB exceeds the largest %s tier", info.ProvisionedGiB, label)
		return
	}
	if tier.SizeGiB != info.ProvisionedGiB {
		b.note("%g GiB disk is billed as the %s tier (%g GiB)", info.ProvisionedGiB, tier.Name, tier.SizeGiB)
	}

	meter := fmt.Sprintf("%s %s Disk", tier.Name, redundancy)
	item, ok := selectPrice(items, has(meter), has(tier.Name+" ", "Disk").without("Snapshot"))
	if !ok {
		b.warn(MeterNotFoundTemplate, meter, model.FamilyManagedDisk)
	} else {
		b.add(model.ComponentStorage, fmt.Sprintf("%s %s disk", label, tier.Name),
			1, "disk/month", item.MonthlyUnitPrice(), model.DataSourceCatalog, item)
	}

	if label == pricing.DiskLabelPremium {
		return
	}
	if info.TransactionsPerMonth == nil {
		b.note("transaction volume unknown; disk operation charges are not included")
		b.deduct(confidenceNoDiskTx)
		return
	}
	if *info.TransactionsPerMonth <= 0 {
		return
	}
	if tx, ok := selectPrice(items, diskTransactionRules...); ok {
		b.add(model.ComponentTransaction, label+" disk operations",
			*info.TransactionsPerMonth/tx.UnitDivisor(), tx.UnitOfMeasure, tx.UnitPrice, model.DataSourceMetrics, tx)
	} else {
		b.note(MeterNotFoundTemplate, "disk operations", model.FamilyManagedDisk)
	}
}

func (c *ManagedDiskCalculator) provisioned(b *builder, info VolumeInfo, label string, items []pricing.PriceItem) {
	if item, ok := selectPrice(items, diskCapacityRules...); ok {
		b.add(model.ComponentStorage, label+" provisioned capacity",
			info.ProvisionedGiB, "GiB/month", item.MonthlyUnitPrice(), model.DataSourceConfiguration, item)
	} else {
		b.warn(MeterNotFoundTemplate, "capacity", model.FamilyManagedDisk)
	}

	baseIOPS, baseThroughput := 0.0, 0.0
	if label == pricing.DiskLabelPremiumV2 {
		baseIOPS, baseThroughput = premiumV2BaselineIOPS, premiumV2BaselineThroughput
		b.note("includes %g IOPS and %g MiB/s baseline performance", baseIOPS, baseThroughput)
	}

	if extra := info.ProvisionedIOPS - baseIOPS; extra > 0 {
		if item, ok := selectPrice(items, diskIOPSRules...); ok {
			b.add(model.ComponentIOPS, "Provisioned IOPS above baseline",
				extra, "IOPS/month", item.MonthlyUnitPrice(), model.DataSourceConfiguration, item)
		} else {
			b.warn(MeterNotFoundTemplate, "IOPS", model.FamilyManagedDisk)
		}
	}
	if extra := info.ProvisionedThroughputMiBps - baseThroughput; extra > 0 {
		if item, ok := selectPrice(items, diskThroughputRules...); ok {
			b.add(model.ComponentThroughput, "Provisioned throughput above baseline",
				extra, "MiB/s/month", item.MonthlyUnitPrice(), model.DataSourceConfiguration, item)
		} else {
			b.warn(MeterNotFoundTemplate, "throughput", model.FamilyManagedDisk)
		}
	}
}

// diskRedundancy returns the explicit redundancy or the suffix of a SKU name
// such as "Premium_ZRS", defaulting to LRS.
func diskRedundancy(info VolumeInfo) string {
	if info.Redundancy != "" {
		return strings.ToUpper(info.Redundancy)
	}
	if i := strings.LastIndexByte(info.Tier, '_'); i > 0 && i < len(info.Tier)-1 {
		return strings.ToUpper(info.Tier[i+1:])
	}
	return "LRS"
}
