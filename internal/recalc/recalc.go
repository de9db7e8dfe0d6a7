// Package recalc re-estimates stored volumes after assumption changes.
package recalc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rshade/storagecost/internal/logging"
	"github.com/rshade/storagecost/internal/metrics"
	"github.com/rshade/storagecost/internal/model"
)

// DefaultConcurrency bounds per-volume fan-out when Options.Concurrency is zero.
const DefaultConcurrency = 4

// RecordStore loads volume records and persists their estimates.
type RecordStore interface {
	// GetVolumesByJob returns an error wrapping model.ErrNotFound for an unknown job.
	GetVolumesByJob(ctx context.Context, jobID string) ([]model.VolumeRecord, error)
	SaveCostAnalysis(ctx context.Context, jobID, volumeID string, est model.VolumeCostEstimate) error
}

// VolumeEstimator produces an estimate for one stored volume.
type VolumeEstimator interface {
	EstimateVolume(ctx context.Context, jobID string, rec model.VolumeRecord) (model.VolumeCostEstimate, error)
}

// Options tunes an Orchestrator.
type Options struct {
	Concurrency int
	Metrics     *metrics.Recorder
}

// Orchestrator recalculates the volumes of a job.
type Orchestrator struct {
	store       RecordStore
	estimator   VolumeEstimator
	logger      zerolog.Logger
	metrics     *metrics.Recorder
	concurrency int
}

// New creates an Orchestrator.
func New(store RecordStore, estimator VolumeEstimator, logger zerolog.Logger, opts Options) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Orchestrator{
		store:       store,
		estimator:   estimator,
		logger:      logger,
		metrics:     opts.Metrics,
		concurrency: opts.Concurrency,
	}
}

// VolumeResult is the outcome of recalculating one volume.
type VolumeResult struct {
	VolumeID string
	Estimate model.VolumeCostEstimate
	Err      error
}

// Report summarizes a job recalculation run.
type Report struct {
	RunID   string
	JobID   string
	Results []VolumeResult
	// Skipped lists volumes excluded by the cool-access or pinned filters.
	Skipped []string
}

// Succeeded counts the volumes recalculated without error.
func (r Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the results that carry an error.
func (r Report) Failed() []VolumeResult {
	var out []VolumeResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// RecalculateJob recalculates every cool-access volume of the job that is
// not pinned by a volume-level override and returns how many succeeded.
// Individual volume failures are logged and never returned.
func (o *Orchestrator) RecalculateJob(ctx context.Context, jobID string) (int, error) {
	report, err := o.RecalculateJobResults(ctx, jobID)
	if err != nil {
		return 0, err
	}
	return report.Succeeded(), nil
}

// RecalculateJobResults is RecalculateJob with per-volume outcomes.
// Only a failure to load the job's volumes is returned as an error.
func (o *Orchestrator) RecalculateJobResults(ctx context.Context, jobID string) (Report, error) {
	if jobID == "" {
		ve := &model.ValidationError{}
		ve.Add("jobId", "is required")
		return Report{}, ve
	}

	start := time.Now()
	report := Report{RunID: uuid.NewString(), JobID: jobID}
	log := o.logger.With().
		Str(logging.FieldRunID, report.RunID).
		Str(logging.FieldJobID, jobID).
		Logger()

	volumes, err := o.store.GetVolumesByJob(ctx, jobID)
	if err != nil {
		return Report{}, fmt.Errorf("load volumes for job %s: %w", jobID, err)
	}

	eligible := make([]model.VolumeRecord, 0, len(volumes))
	for _, v := range volumes {
		if !v.CoolAccessEnabled || v.Pinned() {
			report.Skipped = append(report.Skipped, v.ID)
			continue
		}
		eligible = append(eligible, v)
	}

	report.Results = make([]VolumeResult, len(eligible))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, v := range eligible {
		i, v := i, v
		g.Go(func() error {
			est, err := o.recalculate(gctx, jobID, v)
			report.Results[i] = VolumeResult{VolumeID: v.ID, Estimate: est, Err: err}
			if err != nil {
				log.Warn().
					Err(err).
					Str(logging.FieldVolumeID, v.ID).
					Msg("volume recalculation failed, continuing")
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info().
		Str(logging.FieldOperation, "RecalculateJob").
		Int("volumes", len(volumes)).
		Int("skipped", len(report.Skipped)).
		Int("succeeded", report.Succeeded()).
		Int("failed", len(report.Failed())).
		Int64(logging.FieldDurationMs, time.Since(start).Milliseconds()).
		Msg("job recalculated")
	return report, nil
}

// RecalculateVolume recalculates a single volume regardless of its cool
// access or pin state. It returns an error wrapping model.ErrNotFound when
// the volume is not part of the job.
func (o *Orchestrator) RecalculateVolume(ctx context.Context, jobID, volumeID string) (model.VolumeCostEstimate, error) {
	volumes, err := o.store.GetVolumesByJob(ctx, jobID)
	if err != nil {
		return model.VolumeCostEstimate{}, fmt.Errorf("load volumes for job %s: %w", jobID, err)
	}
	for _, v := range volumes {
		if v.ID != volumeID {
			continue
		}
		est, err := o.recalculate(ctx, jobID, v)
		if err != nil {
			return model.VolumeCostEstimate{}, err
		}
		o.logger.Info().
			Str(logging.FieldOperation, "RecalculateVolume").
			Str(logging.FieldJobID, jobID).
			Str(logging.FieldVolumeID, volumeID).
			Float64(logging.FieldCostMonthly, est.TotalEstimatedCost).
			Msg("volume recalculated")
		return est, nil
	}
	return model.VolumeCostEstimate{}, model.NotFoundf("volume %s in job %s", volumeID, jobID)
}

func (o *Orchestrator) recalculate(ctx context.Context, jobID string, v model.VolumeRecord) (est model.VolumeCostEstimate, err error) {
	defer func() { o.metrics.Recalculation(err == nil) }()

	est, err = o.estimator.EstimateVolume(ctx, jobID, v)
	if err != nil {
		return model.VolumeCostEstimate{}, fmt.Errorf("estimate volume %s: %w", v.ID, err)
	}
	if err = o.store.SaveCostAnalysis(ctx, jobID, v.ID, est); err != nil {
		return model.VolumeCostEstimate{}, fmt.Errorf("save cost analysis for %s: %w", v.ID, err)
	}
	return est, nil
}

