// Package estimate turns storage resource configuration, usage telemetry and
// cool-tier assumptions into confidence-scored monthly cost estimates.
package estimate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rshade/storagecost/internal/logging"
	"github.com/rshade/storagecost/internal/model"
	"github.com/rshade/storagecost/internal/pricing"
)

// VolumeInfo is the normalized input of a calculator. Pointer fields are nil
// when the value is unknown; the matching *Source field records where a known
// value came from (one of the model.DataSource* tags).
type VolumeInfo struct {
	ResourceID   string
	Name         string
	ResourceType string
	Family       model.ResourceFamily
	Region       string
	Tier         string
	Redundancy   string

	ProvisionedGiB float64
	UsedGiB        *float64

	CoolAccessEnabled bool
	HotDataGiB        *float64
	CoolDataGiB       *float64
	SplitSource       string

	TieringGiB      *float64
	TieringSource   string
	RetrievalGiB    *float64
	RetrievalSource string

	TransactionsPerMonth *float64
	EgressGiB            *float64
	SnapshotSizeGiB      *float64

	ProvisionedIOPS            float64
	ProvisionedThroughputMiBps float64

	Assumptions *model.CoolDataAssumptions

	// Warnings and Notes gathered while building the input are carried into the estimate.
	Warnings []string
	Notes    []string
}

// Calculator prices one resource family. Calculate never fails: missing data
// lowers the confidence of the returned estimate instead.
type Calculator interface {
	Calculate(ctx context.Context, info VolumeInfo) model.VolumeCostEstimate
}

// calculator holds what every family calculator shares.
type calculator struct {
	prices pricing.PricingClient
	logger zerolog.Logger
	now    func() time.Time
}

func newCalculator(prices pricing.PricingClient, logger zerolog.Logger, now func() time.Time) calculator {
	if now == nil {
		now = time.Now
	}
	return calculator{prices: prices, logger: logger, now: now}
}

// Registry dispatches to the calculator registered for a resource family.
type Registry struct {
	calculators map[model.ResourceFamily]Calculator
	logger      zerolog.Logger
	now         func() time.Time
}

// NewRegistry creates a Registry with a calculator for every family in model.Families.
// A nil now uses time.Now.
func NewRegistry(prices pricing.PricingClient, logger zerolog.Logger, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	base := newCalculator(prices, logger, now)
	return &Registry{
		calculators: map[model.ResourceFamily]Calculator{
			model.FamilyNetAppVolume: &NetAppCalculator{calculator: base},
			model.FamilyFileShare:    &FileShareCalculator{calculator: base},
			model.FamilyManagedDisk:  &ManagedDiskCalculator{calculator: base},
		},
		logger: logger,
		now:    now,
	}
}

// Register replaces the calculator for family.
func (r *Registry) Register(family model.ResourceFamily, c Calculator) {
	r.calculators[family] = c
}

// Lookup returns the calculator registered for family.
func (r *Registry) Lookup(family model.ResourceFamily) (Calculator, bool) {
	c, ok := r.calculators[family]
	return c, ok
}

// Calculate dispatches info to its family calculator. A panic inside the
// calculator is recovered and reported as a warning with minimum confidence.
func (r *Registry) Calculate(ctx context.Context, info VolumeInfo) (est model.VolumeCostEstimate) {
	c, ok := r.calculators[info.Family]
	if !ok {
		b := newBuilder(info, MethodUnsupported, r.now())
		b.warn("resource type %q is not supported for cost estimation", info.ResourceType)
		return b.build()
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str(logging.FieldResourceID, info.ResourceID).
				Str(logging.FieldResourceFamily, info.Family.String()).
				Interface("panic", rec).
				Msg("calculator panicked")
			b := newBuilder(info, MethodFailed, r.now())
			b.warn("cost calculation failed: %s", fmt.Sprint(rec))
			est = b.build()
		}
	}()
	return c.Calculate(ctx, info)
}
