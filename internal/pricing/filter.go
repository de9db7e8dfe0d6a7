package pricing

import (
	"fmt"
	"strings"

	"github.com/rshade/storagecost/internal/model"
)

// Catalog service and product names used in filter expressions.
const (
	serviceNetApp      = "Azure NetApp Files"
	serviceStorage     = "Storage"
	productFiles       = "Files"
	productPremiumFile = "Premium Files"
	productManagedDisk = "Managed Disks"
)

// File share access tiers.
const (
	TierTransactionOptimized = "TransactionOptimized"
	TierHot                  = "Hot"
	TierCool                 = "Cool"
	TierPremium              = "Premium"
)

// Query identifies one catalog lookup. It is also the cache key.
type Query struct {
	Family     model.ResourceFamily
	Region     string
	Tier       string
	Redundancy string
}

func (q Query) key() string {
	return strings.ToLower(fmt.Sprintf("%s|%s|%s|%s", q.Family, q.Region, q.Tier, q.Redundancy))
}

// IsPremiumFileShare reports whether the query targets provisioned (Premium) file shares.
func (q Query) IsPremiumFileShare() bool {
	return q.Family == model.FamilyFileShare && strings.EqualFold(q.Tier, TierPremium)
}

// BuildFilter returns the catalog filter expression for q.
func BuildFilter(q Query) (string, error) {
	if q.Region == "" {
		return "", fmt.Errorf("region is required")
	}
	region := quote(strings.ToLower(q.Region))

	switch q.Family {
	case model.FamilyNetAppVolume:
		if q.Tier == "" {
			return "", fmt.Errorf("service level is required for %s", q.Family)
		}
		return fmt.Sprintf("serviceName eq %s and contains(productName, %s) and armRegionName eq %s",
			quote(serviceNetApp), quote(q.Tier), region), nil

	case model.FamilyFileShare:
		redundancy := q.Redundancy
		if redundancy == "" {
			redundancy = "LRS"
		}
		if q.IsPremiumFileShare() {
			return fmt.Sprintf("serviceName eq %s and productName eq %s and armRegionName eq %s and contains(skuName, %s)",
				quote(serviceStorage), quote(productPremiumFile), region, quote(redundancy)), nil
		}
		filter := fmt.Sprintf("serviceName eq %s and contains(productName, %s) and armRegionName eq %s and contains(skuName, %s)",
			quote(serviceStorage), quote(productFiles), region, quote(redundancy))
		tier := NormalizeFileTier(q.Tier)
		if tier == TierTransactionOptimized {
			// The catalog names this tier implicitly: its SKUs carry no tier token.
			return filter + " and not contains(skuName, 'Hot') and not contains(skuName, 'Cool')", nil
		}
		return filter + fmt.Sprintf(" and contains(skuName, %s)", quote(tier)), nil

	case model.FamilyManagedDisk:
		label, ok := DiskTypeLabel(q.Tier)
		if !ok {
			return "", fmt.Errorf("unknown disk type %q", q.Tier)
		}
		if label == DiskLabelUltra || label == DiskLabelPremiumV2 {
			return fmt.Sprintf("serviceName eq %s and contains(productName, %s) and armRegionName eq %s",
				quote(serviceStorage), quote(label), region), nil
		}
		return fmt.Sprintf("serviceName eq %s and contains(productName, %s) and contains(productName, %s) and armRegionName eq %s",
			quote(serviceStorage), quote(label), quote(productManagedDisk), region), nil

	default:
		return "", fmt.Errorf("unsupported resource family %q", q.Family)
	}
}

// NormalizeFileTier maps user-supplied access tier spellings onto catalog tiers.
// An empty tier is the default transaction-optimized class.
func NormalizeFileTier(tier string) string {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(tier), " ", "")) {
	case "", "transactionoptimized", "transaction-optimized", "standard":
		return TierTransactionOptimized
	case "hot":
		return TierHot
	case "cool":
		return TierCool
	case "premium":
		return TierPremium
	default:
		return tier
	}
}

// Disk type labels as they appear in catalog product names.
const (
	DiskLabelPremium     = "Premium SSD"
	DiskLabelStandardSSD = "Standard SSD"
	DiskLabelStandardHDD = "Standard HDD"
	DiskLabelUltra       = "Ultra Disks"
	DiskLabelPremiumV2   = "Premium SSD v2"
)

// DiskTypeLabel maps a disk SKU or type name to its catalog product label.
func DiskTypeLabel(diskType string) (string, bool) {
	t := strings.ToLower(strings.TrimSpace(diskType))
	if i := strings.IndexByte(t, '_'); i > 0 {
		t = t[:i]
	}
	switch t {
	case "premium", "premiumssd", "premium ssd":
		return DiskLabelPremium, true
	case "standardssd", "standard ssd":
		return DiskLabelStandardSSD, true
	case "standard", "standardhdd", "standard hdd":
		return DiskLabelStandardHDD, true
	case "ultrassd", "ultra", "ultra ssd":
		return DiskLabelUltra, true
	case "premiumv2", "premiumssdv2", "premium ssd v2":
		return DiskLabelPremiumV2, true
	default:
		return "", false
	}
}

// quote renders s as an OData string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
