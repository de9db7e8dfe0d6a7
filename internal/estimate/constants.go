package estimate

// PricingNotFoundTemplate is the warning recorded when the catalog returns no
// prices for a lookup.
//
// Example: fmt.Sprintf(PricingNotFoundTemplate, "netapp-volume", "Premium", "eastus")
const PricingNotFoundTemplate = "no %s pricing found for %q in region %s"

// MeterNotFoundTemplate is recorded when prices exist but none matches a component.
//
// Example: fmt.Sprintf(MeterNotFoundTemplate, "capacity", "netapp-volume")
const MeterNotFoundTemplate = "no %s meter found in %s pricing"

// MinimumCapacityTemplate documents a floored capacity. Arguments are the
// requested size, the minimum and the resource description.
const MinimumCapacityTemplate = "requested %g GiB is below the %g GiB minimum for %s; billed as %g GiB"

// Estimation method labels recorded on VolumeCostEstimate.
const (
	MethodNetAppCapacity   = "netapp-capacity-pricing"
	MethodFileConsumption  = "file-share-consumption-pricing"
	MethodFileProvisioned  = "file-share-provisioned-pricing"
	MethodDiskTier         = "managed-disk-tier-pricing"
	MethodDiskProvisioned  = "managed-disk-provisioned-performance-pricing"
	MethodUnsupported      = "unsupported"
	MethodFailed           = "failed"
	defaultCurrency        = "USD"
	secondsPerMonth        = 730 * 3600
	netappMinCapacityGiB   = 50.0
	netappMinCoolGiB       = 2400.0
	premiumFileMinGiB      = 100.0
	gibPerTiB              = 1024.0
	confidenceNoSplit      = 30
	confidenceNoTierVolume = 15
	confidenceNoUsedSize   = 15
	confidenceNoFileTx     = 20
	confidenceNoDiskTx     = 15
	confidencePerWarning   = 10
)
