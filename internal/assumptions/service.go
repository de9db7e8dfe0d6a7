// Package assumptions resolves cool-tier data assumptions through the
// global, job and volume override hierarchy and validates writes to it.
package assumptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rshade/storagecost/internal/cache"
	"github.com/rshade/storagecost/internal/logging"
	"github.com/rshade/storagecost/internal/metrics"
	"github.com/rshade/storagecost/internal/model"
)

// Defaults for Options fields left at zero.
const (
	DefaultGlobalCacheTTL              = 5 * time.Minute
	DefaultCoolDataPercentage          = 80.0
	DefaultCoolDataRetrievalPercentage = 15.0
)

const (
	globalCacheKey = "global"
	systemActor    = "system"
)

// GlobalStore persists the singleton global assumptions record.
type GlobalStore interface {
	// GetGlobalAssumptions returns nil without error when no record exists yet.
	GetGlobalAssumptions(ctx context.Context) (*model.CoolDataAssumptions, error)
	SetGlobalAssumptions(ctx context.Context, a model.CoolDataAssumptions) error
}

// JobStore reads and writes the assumption override stored on a job record.
// Every method returns an error wrapping model.ErrNotFound when the job does not exist.
type JobStore interface {
	// GetJobAssumptionOverride returns nil without error when the job has no override.
	GetJobAssumptionOverride(ctx context.Context, jobID string) (*model.AssumptionOverride, error)
	SetJobAssumptionOverride(ctx context.Context, jobID string, o model.AssumptionOverride) error
	ClearJobAssumptionOverride(ctx context.Context, jobID string) error
}

// VolumeStore reads volume records and updates the override stored on them.
// Methods return an error wrapping model.ErrNotFound when the volume does not exist in the job.
type VolumeStore interface {
	GetVolume(ctx context.Context, jobID, volumeID string) (model.VolumeRecord, error)
	// SetVolumeAssumptionOverride replaces the override; nil clears it.
	SetVolumeAssumptionOverride(ctx context.Context, jobID, volumeID string, o *model.AssumptionOverride) error
}

// Store is everything the Service persists through.
type Store interface {
	GlobalStore
	JobStore
	VolumeStore
}

// Options tunes a Service. When both default percentages are zero the
// package defaults (80% cool, 15% retrieval) apply.
type Options struct {
	GlobalCacheTTL             time.Duration
	DefaultCoolDataPercentage  float64
	DefaultRetrievalPercentage float64
	Clock                      func() time.Time
	Metrics                    *metrics.Recorder
}

// Service resolves and updates cool data assumptions.
type Service struct {
	store   Store
	logger  zerolog.Logger
	metrics *metrics.Recorder
	now     func() time.Time
	global  *cache.TTL[string, model.CoolDataAssumptions]

	defaultCool      float64
	defaultRetrieval float64
}

// NewService creates a Service persisting through store.
func NewService(store Store, logger zerolog.Logger, opts Options) *Service {
	if opts.GlobalCacheTTL <= 0 {
		opts.GlobalCacheTTL = DefaultGlobalCacheTTL
	}
	if opts.DefaultCoolDataPercentage == 0 && opts.DefaultRetrievalPercentage == 0 {
		opts.DefaultCoolDataPercentage = DefaultCoolDataPercentage
		opts.DefaultRetrievalPercentage = DefaultCoolDataRetrievalPercentage
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{
		store:            store,
		logger:           logger,
		metrics:          opts.Metrics,
		now:              opts.Clock,
		global:           cache.New[string, model.CoolDataAssumptions](opts.GlobalCacheTTL, cache.WithClock(opts.Clock)),
		defaultCool:      opts.DefaultCoolDataPercentage,
		defaultRetrieval: opts.DefaultRetrievalPercentage,
	}
}

// ResolveAssumptions returns the most specific complete assumptions for the
// volume and job, falling back to the global record. Empty ids skip their level.
// Missing jobs or volumes fall through silently.
func (s *Service) ResolveAssumptions(ctx context.Context, jobID, volumeID string) (model.CoolDataAssumptions, error) {
	if jobID != "" && volumeID != "" {
		vol, err := s.store.GetVolume(ctx, jobID, volumeID)
		switch {
		case err == nil:
			if vol.AssumptionOverride.Complete() {
				return vol.AssumptionOverride.Resolve(model.SourceVolume), nil
			}
		case !errors.Is(err, model.ErrNotFound):
			s.logger.Warn().
				Err(err).
				Str(logging.FieldJobID, jobID).
				Str(logging.FieldVolumeID, volumeID).
				Msg("volume override lookup failed, falling back")
		}
	}

	if jobID != "" {
		if a, ok := s.jobOverride(ctx, jobID); ok {
			return a, nil
		}
	}
	return s.GetGlobalAssumptions(ctx)
}

// GetJobAssumptions returns the job's override when complete, otherwise the global assumptions.
func (s *Service) GetJobAssumptions(ctx context.Context, jobID string) (model.CoolDataAssumptions, error) {
	if a, ok := s.jobOverride(ctx, jobID); ok {
		return a, nil
	}
	return s.GetGlobalAssumptions(ctx)
}

func (s *Service) jobOverride(ctx context.Context, jobID string) (model.CoolDataAssumptions, bool) {
	o, err := s.store.GetJobAssumptionOverride(ctx, jobID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			s.logger.Warn().
				Err(err).
				Str(logging.FieldJobID, jobID).
				Msg("job override lookup failed, falling back")
		}
		return model.CoolDataAssumptions{}, false
	}
	if !o.Complete() {
		return model.CoolDataAssumptions{}, false
	}
	return o.Resolve(model.SourceJob), true
}

// GetGlobalAssumptions returns the cached global record, creating it with
// default values on first use.
func (s *Service) GetGlobalAssumptions(ctx context.Context) (model.CoolDataAssumptions, error) {
	if a, ok := s.global.Get(globalCacheKey); ok {
		s.metrics.CacheLookup(metrics.CacheAssumptions, true)
		return a, nil
	}
	s.metrics.CacheLookup(metrics.CacheAssumptions, false)

	gen := s.global.Generation()
	stored, err := s.store.GetGlobalAssumptions(ctx)
	if err != nil {
		return model.CoolDataAssumptions{}, fmt.Errorf("load global assumptions: %w", err)
	}

	var a model.CoolDataAssumptions
	if stored != nil {
		a = *stored
	} else {
		a = model.CoolDataAssumptions{
			CoolDataPercentage:          s.defaultCool,
			CoolDataRetrievalPercentage: s.defaultRetrieval,
			ModifiedBy:                  systemActor,
			ModifiedAt:                  s.now().UTC(),
		}
		if err := s.store.SetGlobalAssumptions(ctx, withSource(a, model.SourceGlobal)); err != nil {
			return model.CoolDataAssumptions{}, fmt.Errorf("create default global assumptions: %w", err)
		}
		s.logger.Info().
			Float64("cool_pct", a.CoolDataPercentage).
			Float64("retrieval_pct", a.CoolDataRetrievalPercentage).
			Msg("created default global assumptions")
	}
	a.Source = model.SourceGlobal
	s.global.SetIfGeneration(globalCacheKey, a, gen)
	return a, nil
}

// SetGlobalAssumptions validates and stores new global assumptions. The
// cached copy is dropped before returning.
func (s *Service) SetGlobalAssumptions(ctx context.Context, coolPct, retrievalPct float64, modifiedBy string) (model.CoolDataAssumptions, error) {
	if err := model.ValidatePercentages(coolPct, retrievalPct); err != nil {
		return model.CoolDataAssumptions{}, err
	}
	a := model.CoolDataAssumptions{
		CoolDataPercentage:          coolPct,
		CoolDataRetrievalPercentage: retrievalPct,
		Source:                      model.SourceGlobal,
		ModifiedBy:                  modifiedBy,
		ModifiedAt:                  s.now().UTC(),
	}
	err := s.store.SetGlobalAssumptions(ctx, a)
	s.global.Invalidate(globalCacheKey)
	if err != nil {
		return model.CoolDataAssumptions{}, fmt.Errorf("save global assumptions: %w", err)
	}
	s.logWrite("SetGlobalAssumptions", "", "", a)
	return a, nil
}

// SetJobAssumptions validates and stores a job-level override.
func (s *Service) SetJobAssumptions(ctx context.Context, jobID string, coolPct, retrievalPct float64, modifiedBy string) (model.CoolDataAssumptions, error) {
	if err := validateIDs(jobID, "", false); err != nil {
		return model.CoolDataAssumptions{}, err
	}
	o, err := s.override(coolPct, retrievalPct, modifiedBy)
	if err != nil {
		return model.CoolDataAssumptions{}, err
	}
	if err := s.store.SetJobAssumptionOverride(ctx, jobID, o); err != nil {
		return model.CoolDataAssumptions{}, fmt.Errorf("save job %s assumptions: %w", jobID, err)
	}
	a := o.Resolve(model.SourceJob)
	s.logWrite("SetJobAssumptions", jobID, "", a)
	return a, nil
}

// ClearJobAssumptions removes a job-level override. Clearing a job without
// an override is a no-op; clearing a missing job returns model.ErrNotFound.
func (s *Service) ClearJobAssumptions(ctx context.Context, jobID string) error {
	if err := validateIDs(jobID, "", false); err != nil {
		return err
	}
	if err := s.store.ClearJobAssumptionOverride(ctx, jobID); err != nil {
		return fmt.Errorf("clear job %s assumptions: %w", jobID, err)
	}
	s.logger.Info().
		Str(logging.FieldOperation, "ClearJobAssumptions").
		Str(logging.FieldJobID, jobID).
		Msg("assumptions cleared")
	return nil
}

// SetVolumeAssumptions validates and stores a volume-level override, pinning
// the volume against job and global changes.
func (s *Service) SetVolumeAssumptions(ctx context.Context, jobID, volumeID string, coolPct, retrievalPct float64, modifiedBy string) (model.CoolDataAssumptions, error) {
	if err := validateIDs(jobID, volumeID, true); err != nil {
		return model.CoolDataAssumptions{}, err
	}
	o, err := s.override(coolPct, retrievalPct, modifiedBy)
	if err != nil {
		return model.CoolDataAssumptions{}, err
	}
	if err := s.store.SetVolumeAssumptionOverride(ctx, jobID, volumeID, &o); err != nil {
		return model.CoolDataAssumptions{}, fmt.Errorf("save volume %s assumptions: %w", volumeID, err)
	}
	a := o.Resolve(model.SourceVolume)
	s.logWrite("SetVolumeAssumptions", jobID, volumeID, a)
	return a, nil
}

// ClearVolumeAssumptions removes a volume-level override.
func (s *Service) ClearVolumeAssumptions(ctx context.Context, jobID, volumeID string) error {
	if err := validateIDs(jobID, volumeID, true); err != nil {
		return err
	}
	if err := s.store.SetVolumeAssumptionOverride(ctx, jobID, volumeID, nil); err != nil {
		return fmt.Errorf("clear volume %s assumptions: %w", volumeID, err)
	}
	s.logger.Info().
		Str(logging.FieldOperation, "ClearVolumeAssumptions").
		Str(logging.FieldJobID, jobID).
		Str(logging.FieldVolumeID, volumeID).
		Msg("assumptions cleared")
	return nil
}

func (s *Service) override(coolPct, retrievalPct float64, modifiedBy string) (model.AssumptionOverride, error) {
	if err := model.ValidatePercentages(coolPct, retrievalPct); err != nil {
		return model.AssumptionOverride{}, err
	}
	return model.AssumptionOverride{
		CoolDataPercentage:          &coolPct,
		CoolDataRetrievalPercentage: &retrievalPct,
		ModifiedBy:                  modifiedBy,
		ModifiedAt:                  s.now().UTC(),
	}, nil
}

func (s *Service) logWrite(op, jobID, volumeID string, a model.CoolDataAssumptions) {
	s.logger.Info().
		Str(logging.FieldOperation, op).
		Str(logging.FieldJobID, jobID).
		Str(logging.FieldVolumeID, volumeID).
		Float64("cool_pct", a.CoolDataPercentage).
		Float64("retrieval_pct", a.CoolDataRetrievalPercentage).
		Str("modified_by", a.ModifiedBy).
		Msg("assumptions updated")
}

func validateIDs(jobID, volumeID string, needVolume bool) error {
	ve := &model.ValidationError{}
	if jobID == "" {
		ve.Add("jobId", "is required")
	}
	if needVolume && volumeID == "" {
		ve.Add("volumeId", "is required")
	}
	return ve.OrNil()
}

func withSource(a model.CoolDataAssumptions, src model.AssumptionSource) model.CoolDataAssumptions {
	a.Source = src
	return a
}
