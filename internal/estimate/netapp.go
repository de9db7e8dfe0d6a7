package estimate

import (
	"context"
	"strings"

	"github.com/rshade/storagecost/internal/logging"
	"github.com/rshade/storagecost/internal/model"
	"github.com/rshade/storagecost/internal/pricing"
)

// NetApp service levels.
const (
	ServiceLevelStandard = "Standard"
	ServiceLevelPremium  = "Premium"
	ServiceLevelUltra    = "Ultra"
	ServiceLevelFlexible = "Flexible"
)

// throughputPerTiB is the included throughput in MiB/s per provisioned TiB,
// indexed by service level and whether cool access is enabled.
var throughputPerTiB = map[string][2]float64{
	ServiceLevelStandard: {16, 16},
	ServiceLevelPremium:  {64, 36},
	ServiceLevelUltra:    {128, 68},
	ServiceLevelFlexible: {128, 128},
}

// IncludedThroughputMiBps returns the throughput a volume of provisionedGiB
// receives at level. The second result is false for an unknown level.
func IncludedThroughputMiBps(level string, coolAccess bool, provisionedGiB float64) (float64, bool) {
	rates, ok := throughputPerTiB[NormalizeServiceLevel(level)]
	if !ok {
		return 0, false
	}
	rate := rates[0]
	if coolAccess {
		rate = rates[1]
	}
	return rate * provisionedGiB / gibPerTiB, true
}

// NormalizeServiceLevel maps a service level spelling onto its canonical name.
func NormalizeServiceLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "standard":
		return ServiceLevelStandard
	case "premium":
		return ServiceLevelPremium
	case "ultra":
		return ServiceLevelUltra
	case "flexible":
		return ServiceLevelFlexible
	default:
		return strings.TrimSpace(level)
	}
}

var (
	netappCapacityRules = []meterRule{
		has("Provisioned").without("Cool"),
		has("Capacity").without("Cool"),
	}
	netappCoolStorageRules = []meterRule{has("Cool", "Storage")}
	netappTieringRules     = []meterRule{has("Tiering"), has("Cool", "Write")}
	netappRetrievalRules   = []meterRule{has("Retrieval"), has("Cool", "Read")}
)

// NetAppCalculator prices network-attached file volumes billed by provisioned capacity.
type NetAppCalculator struct {
	calculator
}

// Calculate implements Calculator.
func (c *NetAppCalculator) Calculate(ctx context.Context, info VolumeInfo) model.VolumeCostEstimate {
	b := newBuilder(info, MethodNetAppCapacity, c.now())

	level := NormalizeServiceLevel(info.Tier)
	if level == "" {
		level = ServiceLevelStandard
		b.note("service level not specified; assuming %s", level)
	}

	items := c.prices.GetPrices(ctx, pricing.Query{Family: model.FamilyNetAppVolume, Region: info.Region, Tier: level})
	if len(items) == 0 {
		b.warn(PricingNotFoundTemplate, model.FamilyNetAppVolume, level, info.Region)
		return b.build()
	}

	minimum := netappMinCapacityGiB
	if info.CoolAccessEnabled {
		minimum = netappMinCoolGiB
	}
	billable := info.ProvisionedGiB
	if billable < minimum {
		b.note(MinimumCapacityTemplate, info.ProvisionedGiB, minimum, netappVolumeKind(info.CoolAccessEnabled), minimum)
		billable = minimum
	}

	if capacity, ok := selectPrice(items, netappCapacityRules...); ok {
		b.add(model.ComponentStorage,
			level+" provisioned capacity",
			billable, "GiB/month", capacity.MonthlyUnitPrice(), model.DataSourceCatalog, capacity)
	} else {
		b.warn(MeterNotFoundTemplate, "capacity", model.FamilyNetAppVolume)
	}

	if tput, ok := IncludedThroughputMiBps(level, info.CoolAccessEnabled, billable); ok {
		b.note("includes %.1f MiB/s throughput at the %s service level", tput, level)
	}

	if info.CoolAccessEnabled {
		c.addCoolComponents(b, info, items)
	}

	est := b.build()
	c.logger.Debug().
		Str(logging.FieldResourceID, info.ResourceID).
		Str("service_level", level).
		Float64("billable_gib", billable).
		Float64(logging.FieldCostMonthly, est.TotalEstimatedCost).
		Int(logging.FieldConfidence, est.ConfidenceLevel).
		Msg("netapp volume estimated")
	return est
}

func (c *NetAppCalculator) addCoolComponents(b *builder, info VolumeInfo, items []pricing.PriceItem) {
	if info.CoolDataGiB == nil {
		b.warn("cool access is enabled but the hot/cool data split is unknown; assuming all data is hot")
		b.deduct(confidenceNoSplit)
	} else {
		addIfPriced(b, items, netappCoolStorageRules, model.ComponentCoolStorage,
			"Cool tier storage", *info.CoolDataGiB, info.SplitSource)
		if info.TieringGiB != nil {
			addIfPriced(b, items, netappTieringRules, model.ComponentTiering,
				"Data tiered from hot to cool", *info.TieringGiB, info.TieringSource)
		}
		if info.RetrievalGiB != nil {
			addIfPriced(b, items, netappRetrievalRules, model.ComponentRetrieval,
				"Data retrieved from cool to hot", *info.RetrievalGiB, info.RetrievalSource)
		}
	}

	measured := info.TieringGiB != nil && info.TieringSource == model.DataSourceMetrics &&
		info.RetrievalGiB != nil && info.RetrievalSource == model.DataSourceMetrics
	if !measured {
		b.deduct(confidenceNoTierVolume)
		b.note("tiering and retrieval volumes are not measured; cool tier movement costs may be understated")
	}
}

// addIfPriced emits a per-GiB component when quantity is positive and a meter matches.
func addIfPriced(b *builder, items []pricing.PriceItem, rules []meterRule, componentType, description string, quantity float64, source string) {
	if quantity <= 0 {
		return
	}
	item, ok := selectPrice(items, rules...)
	if !ok {
		b.note(MeterNotFoundTemplate, componentType, b.est.ResourceType)
		return
	}
	if source == "" {
		source = model.DataSourceAssumption
	}
	b.add(componentType, description, quantity, "GiB", item.MonthlyUnitPrice(), source, item)
}

func netappVolumeKind(cool bool) string {
	if cool {
		return "volumes with cool access"
	}
	return "volumes"
}
