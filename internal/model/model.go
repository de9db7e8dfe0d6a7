// Package model holds the value objects shared by the pricing, estimation,
// assumption and forecasting packages.
package model

import (
	"strings"
	"time"
)

// ResourceFamily is the closed set of storage resource kinds the engine prices.
type ResourceFamily int

const (
	// FamilyUnknown is returned when a resource type string cannot be mapped.
	FamilyUnknown ResourceFamily = iota
	// FamilyNetAppVolume is a network-attached file volume billed by provisioned capacity.
	FamilyNetAppVolume
	// FamilyFileShare is a file share, either consumption-billed or provisioned (Premium).
	FamilyFileShare
	// FamilyManagedDisk is a managed block volume.
	FamilyManagedDisk
)

// Families lists every priced family. Calculator registries are checked against it.
var Families = []ResourceFamily{FamilyNetAppVolume, FamilyFileShare, FamilyManagedDisk}

// String returns the canonical short name of the family.
func (f ResourceFamily) String() string {
	switch f {
	case FamilyNetAppVolume:
		return "netapp-volume"
	case FamilyFileShare:
		return "file-share"
	case FamilyManagedDisk:
		return "managed-disk"
	default:
		return "unknown"
	}
}

// ParseResourceFamily maps a short name or an ARM resource type onto a family.
//
// Accepted forms include "netapp-volume", "Microsoft.NetApp/netAppAccounts/capacityPools/volumes",
// "file-share", "Microsoft.Storage/storageAccounts/fileServices/shares", "managed-disk"
// and "Microsoft.Compute/disks". Matching is case-insensitive.
func ParseResourceFamily(resourceType string) ResourceFamily {
	t := strings.ToLower(strings.TrimSpace(resourceType))
	switch {
	case t == "":
		return FamilyUnknown
	case t == "netapp-volume", strings.HasPrefix(t, "microsoft.netapp/"):
		return FamilyNetAppVolume
	case t == "file-share", strings.HasPrefix(t, "microsoft.storage/storageaccounts/fileservices"):
		return FamilyFileShare
	case t == "managed-disk", t == "microsoft.compute/disks":
		return FamilyManagedDisk
	default:
		return FamilyUnknown
	}
}

// AssumptionSource records which level of the hierarchy supplied an assumption.
type AssumptionSource string

const (
	SourceGlobal AssumptionSource = "Global"
	SourceJob    AssumptionSource = "Job"
	SourceVolume AssumptionSource = "Volume"
)

// CoolDataAssumptions describes how much of a cool-access volume is expected
// to sit in the cool tier and how much of that cool data is read back monthly.
type CoolDataAssumptions struct {
	CoolDataPercentage          float64          `json:"coolDataPercentage"`
	CoolDataRetrievalPercentage float64          `json:"coolDataRetrievalPercentage"`
	Source                      AssumptionSource `json:"source"`
	ModifiedBy                  string           `json:"modifiedBy,omitempty"`
	ModifiedAt                  time.Time        `json:"modifiedAt,omitempty"`
}

// AssumptionOverride is a partially specified assumption attached to a job or
// volume record. It only takes effect when both percentages are present.
type AssumptionOverride struct {
	CoolDataPercentage          *float64  `json:"coolDataPercentage,omitempty"`
	CoolDataRetrievalPercentage *float64  `json:"coolDataRetrievalPercentage,omitempty"`
	ModifiedBy                  string    `json:"modifiedBy,omitempty"`
	ModifiedAt                  time.Time `json:"modifiedAt,omitempty"`
}

// Complete reports whether both percentage fields are set.
func (o *AssumptionOverride) Complete() bool {
	return o != nil && o.CoolDataPercentage != nil && o.CoolDataRetrievalPercentage != nil
}

// Resolve converts a complete override into assumptions tagged with source.
// Callers must check Complete first.
func (o *AssumptionOverride) Resolve(source AssumptionSource) CoolDataAssumptions {
	return CoolDataAssumptions{
		CoolDataPercentage:          *o.CoolDataPercentage,
		CoolDataRetrievalPercentage: *o.CoolDataRetrievalPercentage,
		Source:                      source,
		ModifiedBy:                  o.ModifiedBy,
		ModifiedAt:                  o.ModifiedAt,
	}
}

// VolumeRecord is a discovered storage resource as persisted by the record store.
type VolumeRecord struct {
	ID           string `json:"id"`
	JobID        string `json:"jobId"`
	ResourceID   string `json:"resourceId"`
	Name         string `json:"name"`
	ResourceType string `json:"resourceType"`
	Region       string `json:"region"`

	// Tier is the service level (NetApp), access tier (file share) or disk type (managed disk).
	Tier       string `json:"tier"`
	Redundancy string `json:"redundancy,omitempty"`

	ProvisionedGiB float64  `json:"provisionedGiB"`
	UsedGiB        *float64 `json:"usedGiB,omitempty"`

	CoolAccessEnabled bool `json:"coolAccessEnabled"`

	SnapshotCount   int      `json:"snapshotCount,omitempty"`
	SnapshotSizeGiB *float64 `json:"snapshotSizeGiB,omitempty"`

	ProvisionedIOPS            float64 `json:"provisionedIops,omitempty"`
	ProvisionedThroughputMiBps float64 `json:"provisionedThroughputMiBps,omitempty"`

	// AssumptionOverride pins cool-tier assumptions for this volume only.
	AssumptionOverride *AssumptionOverride `json:"assumptionOverride,omitempty"`

	// CostAnalysis is the most recent estimate saved for this volume.
	CostAnalysis *VolumeCostEstimate `json:"costAnalysis,omitempty"`
}

// Family returns the parsed resource family of the record.
func (v VolumeRecord) Family() ResourceFamily {
	return ParseResourceFamily(v.ResourceType)
}

// Pinned reports whether the volume carries a complete assumption override and
// is therefore unaffected by job or global assumption changes.
func (v VolumeRecord) Pinned() bool {
	return v.AssumptionOverride.Complete()
}
