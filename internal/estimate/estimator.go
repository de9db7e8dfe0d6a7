package estimate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rshade/storagecost/internal/logging"
	"github.com/rshade/storagecost/internal/metrics"
	"github.com/rshade/storagecost/internal/model"
	"github.com/rshade/storagecost/internal/pricing"
	"github.com/rshade/storagecost/internal/telemetry"
)

// Defaults for EstimatorOptions fields left at zero.
const (
	DefaultMetricsTimeout = 10 * time.Second
	DefaultLookbackDays   = 30
	DefaultConcurrency    = 4
)

// AssumptionResolver resolves the cool-tier assumptions in effect for a volume.
type AssumptionResolver interface {
	ResolveAssumptions(ctx context.Context, jobID, volumeID string) (model.CoolDataAssumptions, error)
}

// EstimatorOptions tunes an Estimator.
type EstimatorOptions struct {
	MetricsTimeout time.Duration
	LookbackDays   int
	Concurrency    int
	Metrics        *metrics.Recorder
}

// Estimator assembles calculator inputs from stored records, telemetry and
// resolved assumptions, then dispatches them through a Registry.
type Estimator struct {
	registry    *Registry
	resolver    AssumptionResolver
	telemetry   telemetry.MetricsFetcher
	logger      zerolog.Logger
	metrics     *metrics.Recorder
	timeout     time.Duration
	lookback    int
	concurrency int
}

// NewEstimator creates an Estimator. fetcher may be nil when no telemetry is available.
func NewEstimator(registry *Registry, resolver AssumptionResolver, fetcher telemetry.MetricsFetcher, logger zerolog.Logger, opts EstimatorOptions) *Estimator {
	if opts.MetricsTimeout <= 0 {
		opts.MetricsTimeout = DefaultMetricsTimeout
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = DefaultLookbackDays
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Estimator{
		registry:    registry,
		resolver:    resolver,
		telemetry:   fetcher,
		logger:      logger,
		metrics:     opts.Metrics,
		timeout:     opts.MetricsTimeout,
		lookback:    opts.LookbackDays,
		concurrency: opts.Concurrency,
	}
}

// EstimateVolume estimates the monthly cost of one stored volume of job jobID.
// Only a record missing its identity is rejected; every data problem is
// reported on the returned estimate.
func (e *Estimator) EstimateVolume(ctx context.Context, jobID string, rec model.VolumeRecord) (model.VolumeCostEstimate, error) {
	if rec.ID == "" {
		ve := &model.ValidationError{}
		ve.Add("id", "volume id is required")
		return model.VolumeCostEstimate{}, ve
	}

	start := time.Now()
	info, est := e.estimate(ctx, jobID, rec)
	e.metrics.EstimateConfidence(info.Family.String(), est.ConfidenceLevel)

	e.logger.Info().
		Str(logging.FieldOperation, "EstimateVolume").
		Str(logging.FieldJobID, jobID).
		Str(logging.FieldVolumeID, rec.ID).
		Str(logging.FieldResourceFamily, info.Family.String()).
		Str(logging.FieldRegion, info.Region).
		Float64(logging.FieldCostMonthly, est.TotalEstimatedCost).
		Int(logging.FieldConfidence, est.ConfidenceLevel).
		Int("warnings", len(est.Warnings)).
		Int64(logging.FieldDurationMs, time.Since(start).Milliseconds()).
		Msg("cost calculated")
	return est, nil
}

// estimate builds the calculator input and dispatches it. A panic while
// building the input becomes a failed estimate with minimum confidence.
func (e *Estimator) estimate(ctx context.Context, jobID string, rec model.VolumeRecord) (info VolumeInfo, est model.VolumeCostEstimate) {
	defer func() {
		if r := recover(); r != nil {
			info = baseVolumeInfo(rec)
			e.logger.Error().
				Str(logging.FieldJobID, jobID).
				Str(logging.FieldVolumeID, rec.ID).
				Interface("panic", r).
				Msg("building calculator input panicked")
			b := newBuilder(info, MethodFailed, e.registry.now())
			b.warn("cost calculation failed: %s", fmt.Sprint(r))
			est = b.build()
		}
	}()
	info = e.BuildVolumeInfo(ctx, jobID, rec)
	return info, e.registry.Calculate(ctx, info)
}

// Result is the outcome of estimating one volume in a batch.
type Result struct {
	VolumeID string
	Estimate model.VolumeCostEstimate
	Err      error
}

// EstimateJob estimates every record concurrently. Results are returned in
// input order; a failed item never affects the others.
func (e *Estimator) EstimateJob(ctx context.Context, jobID string, records []model.VolumeRecord) []Result {
	results := make([]Result, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			est, err := e.EstimateVolume(gctx, jobID, rec)
			results[i] = Result{VolumeID: rec.ID, Estimate: est, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// BuildVolumeInfo converts a stored record into calculator input, consulting
// telemetry and, where cool-tier data matters, the assumption hierarchy.
func (e *Estimator) BuildVolumeInfo(ctx context.Context, jobID string, rec model.VolumeRecord) VolumeInfo {
	info := baseVolumeInfo(rec)
	m := &metricReader{e: e, resourceID: info.ResourceID, info: &info}

	switch info.Family {
	case model.FamilyNetAppVolume:
		if info.UsedGiB == nil {
			info.UsedGiB = m.read(ctx, telemetry.MetricVolumeLogicalSize)
		}
		if info.CoolAccessEnabled {
			e.coolSplit(ctx, jobID, rec, &info, m)
		}
	case model.FamilyFileShare:
		if info.UsedGiB == nil {
			info.UsedGiB = m.read(ctx, telemetry.MetricFileCapacity)
		}
		info.TransactionsPerMonth = m.read(ctx, telemetry.MetricTransactions)
		info.EgressGiB = m.read(ctx, telemetry.MetricEgress)
		if pricing.NormalizeFileTier(info.Tier) == pricing.TierCool {
			e.coolRetrieval(ctx, jobID, rec, &info)
		}
	case model.FamilyManagedDisk:
		reads := m.read(ctx, telemetry.MetricDiskReadOperationsSec)
		writes := m.read(ctx, telemetry.MetricDiskWriteOperationsSec)
		if reads != nil || writes != nil {
			tx := (deref(reads) + deref(writes)) * secondsPerMonth
			info.TransactionsPerMonth = &tx
		}
	}
	return info
}

// baseVolumeInfo copies the record's own attributes into calculator input.
func baseVolumeInfo(rec model.VolumeRecord) VolumeInfo {
	info := VolumeInfo{
		ResourceID:                 rec.ResourceID,
		Name:                       rec.Name,
		ResourceType:               rec.ResourceType,
		Family:                     rec.Family(),
		Region:                     strings.ToLower(rec.Region),
		Tier:                       rec.Tier,
		Redundancy:                 rec.Redundancy,
		ProvisionedGiB:             rec.ProvisionedGiB,
		UsedGiB:                    rec.UsedGiB,
		CoolAccessEnabled:          rec.CoolAccessEnabled,
		SnapshotSizeGiB:            rec.SnapshotSizeGiB,
		ProvisionedIOPS:            rec.ProvisionedIOPS,
		ProvisionedThroughputMiBps: rec.ProvisionedThroughputMiBps,
	}
	if info.ResourceID == "" {
		info.ResourceID = rec.ID
	}
	return info
}

// coolSplit fills the hot/cool breakdown and tier movement volumes from
// telemetry, falling back to resolved assumptions.
func (e *Estimator) coolSplit(ctx context.Context, jobID string, rec model.VolumeRecord, info *VolumeInfo, m *metricReader) {
	size := info.ProvisionedGiB
	if info.UsedGiB != nil {
		size = *info.UsedGiB
	}

	if v := m.read(ctx, telemetry.MetricCoolTierDataWriteSize); v != nil {
		info.TieringGiB, info.TieringSource = v, model.DataSourceMetrics
	}
	if v := m.read(ctx, telemetry.MetricCoolTierDataReadSize); v != nil {
		info.RetrievalGiB, info.RetrievalSource = v, model.DataSourceMetrics
	}
	if v := m.read(ctx, telemetry.MetricCoolTierSize); v != nil {
		cool := *v
		hot := max(size-cool, 0)
		info.CoolDataGiB, info.HotDataGiB, info.SplitSource = &cool, &hot, model.DataSourceMetrics
	}
	if info.CoolDataGiB != nil && info.RetrievalGiB != nil {
		return
	}

	a, ok := e.resolve(ctx, jobID, rec, info)
	if !ok {
		return
	}
	if info.CoolDataGiB == nil {
		cool := size * a.CoolDataPercentage / 100
		hot := size - cool
		info.CoolDataGiB, info.HotDataGiB, info.SplitSource = &cool, &hot, model.DataSourceAssumption
	}
	if info.RetrievalGiB == nil {
		retrieval := *info.CoolDataGiB * a.CoolDataRetrievalPercentage / 100
		info.RetrievalGiB, info.RetrievalSource = &retrieval, model.DataSourceAssumption
	}
}

// coolRetrieval estimates monthly reads from a cool-tier file share.
func (e *Estimator) coolRetrieval(ctx context.Context, jobID string, rec model.VolumeRecord, info *VolumeInfo) {
	a, ok := e.resolve(ctx, jobID, rec, info)
	if !ok {
		return
	}
	size := info.ProvisionedGiB
	if info.UsedGiB != nil {
		size = *info.UsedGiB
	}
	retrieval := size * a.CoolDataRetrievalPercentage / 100
	info.RetrievalGiB, info.RetrievalSource = &retrieval, model.DataSourceAssumption
}

func (e *Estimator) resolve(ctx context.Context, jobID string, rec model.VolumeRecord, info *VolumeInfo) (model.CoolDataAssumptions, bool) {
	if info.Assumptions != nil {
		return *info.Assumptions, true
	}
	if e.resolver == nil {
		return model.CoolDataAssumptions{}, false
	}
	a, err := e.resolver.ResolveAssumptions(ctx, jobID, rec.ID)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str(logging.FieldJobID, jobID).
			Str(logging.FieldVolumeID, rec.ID).
			Msg("assumption resolution failed")
		info.Warnings = append(info.Warnings, "cool data assumptions unavailable: "+err.Error())
		return model.CoolDataAssumptions{}, false
	}
	info.Assumptions = &a
	info.Notes = append(info.Notes, "cool data assumptions from "+string(a.Source)+" settings")
	return a, true
}

// metricReader reads optional telemetry with a bounded timeout per call.
// Failures become warnings on the volume info; absent metrics are silent.
type metricReader struct {
	e          *Estimator
	resourceID string
	info       *VolumeInfo
}

func (m *metricReader) read(ctx context.Context, name string) *float64 {
	if m.e.telemetry == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.e.timeout)
	defer cancel()

	v, ok, err := m.e.telemetry.FetchResourceMetrics(ctx, m.resourceID, name, m.e.lookback)
	if err != nil {
		m.e.logger.Warn().
			Err(err).
			Str(logging.FieldResourceID, m.resourceID).
			Str("metric", name).
			Msg("metrics fetch failed")
		m.info.Warnings = append(m.info.Warnings, "metric "+name+" unavailable: "+err.Error())
		return nil
	}
	if !ok {
		return nil
	}
	return &v
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
