package recalc

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/storagecost/internal/metrics"
	"github.com/rshade/storagecost/internal/model"
)

type fakeStore struct {
	mu      sync.Mutex
	jobs    map[string][]model.VolumeRecord
	saved   map[string]model.VolumeCostEstimate
	saveErr map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:    make(map[string][]model.VolumeRecord),
		saved:   make(map[string]model.VolumeCostEstimate),
		saveErr: make(map[string]error),
	}
}

func (f *fakeStore) GetVolumesByJob(_ context.Context, jobID string) ([]model.VolumeRecord, error) {
	v, ok := f.jobs[jobID]
	if !ok {
		return nil, model.NotFoundf("job %s", jobID)
	}
	return v, nil
}

func (f *fakeStore) SaveCostAnalysis(_ context.Context, _ string, volumeID string, est model.VolumeCostEstimate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.saveErr[volumeID]; err != nil {
		return err
	}
	f.saved[volumeID] = est
	return nil
}

type fakeEstimator struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
}

func (f *fakeEstimator) EstimateVolume(_ context.Context, _ string, rec model.VolumeRecord) (model.VolumeCostEstimate, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rec.ID)
	f.mu.Unlock()
	if f.fail[rec.ID] {
		return model.VolumeCostEstimate{}, errors.New("catalog exploded")
	}
	return model.VolumeCostEstimate{ResourceID: rec.ID, TotalEstimatedCost: 42, ConfidenceLevel: 80}, nil
}

func coolVolume(id string) model.VolumeRecord {
	return model.VolumeRecord{ID: id, JobID: "job-1", ResourceType: "netapp-volume", CoolAccessEnabled: true}
}

func TestRecalculateJobIsolatesFailures(t *testing.T) {
	store := newFakeStore()
	store.jobs["job-1"] = []model.VolumeRecord{
		coolVolume("v1"), coolVolume("v2"), coolVolume("v3"), coolVolume("v4"), coolVolume("v5"),
	}
	est := &fakeEstimator{fail: map[string]bool{"v3": true}}
	reg := prometheus.NewRegistry()
	o := New(store, est, zerolog.Nop(), Options{Metrics: metrics.NewRecorder(reg)})

	n, err := o.RecalculateJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Len(t, est.calls, 5)
	assert.Len(t, store.saved, 4)
	assert.NotContains(t, store.saved, "v3")

	expected := `
# HELP storagecost_volume_recalculations_total Per-volume recalculations by outcome.
# TYPE storagecost_volume_recalculations_total counter
storagecost_volume_recalculations_total{outcome="failure"} 1
storagecost_volume_recalculations_total{outcome="success"} 4
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "storagecost_volume_recalculations_total"))
}

func TestRecalculateJobFiltersVolumes(t *testing.T) {
	pct := 50.0
	pinned := coolVolume("pinned")
	pinned.AssumptionOverride = &model.AssumptionOverride{CoolDataPercentage: &pct, CoolDataRetrievalPercentage: &pct}
	partial := coolVolume("partial")
	partial.AssumptionOverride = &model.AssumptionOverride{CoolDataPercentage: &pct}
	hot := coolVolume("hot")
	hot.CoolAccessEnabled = false

	store := newFakeStore()
	store.jobs["job-1"] = []model.VolumeRecord{pinned, partial, hot, coolVolume("cool")}
	est := &fakeEstimator{}
	o := New(store, est, zerolog.Nop(), Options{})

	report, err := o.RecalculateJobResults(context.Background(), "job-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"partial", "cool"}, est.calls)
	assert.ElementsMatch(t, []string{"pinned", "hot"}, report.Skipped)
	assert.Equal(t, 2, report.Succeeded())
	assert.Empty(t, report.Failed())
	assert.NotEmpty(t, report.RunID)
}

func TestRecalculateJobSaveFailureCounted(t *testing.T) {
	store := newFakeStore()
	store.jobs["job-1"] = []model.VolumeRecord{coolVolume("v1"), coolVolume("v2")}
	store.saveErr["v2"] = errors.New("conditional check failed")
	o := New(store, &fakeEstimator{}, zerolog.Nop(), Options{Concurrency: 1})

	report, err := o.RecalculateJobResults(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded())
	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "v2", failed[0].VolumeID)
	assert.ErrorContains(t, failed[0].Err, "conditional check failed")
}

func TestRecalculateJobErrors(t *testing.T) {
	o := New(newFakeStore(), &fakeEstimator{}, zerolog.Nop(), Options{})

	_, err := o.RecalculateJob(context.Background(), "")
	assert.True(t, model.IsValidationError(err))

	_, err = o.RecalculateJob(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRecalculateJobEmpty(t *testing.T) {
	store := newFakeStore()
	store.jobs["job-1"] = nil
	o := New(store, &fakeEstimator{}, zerolog.Nop(), Options{})

	n, err := o.RecalculateJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecalculateVolume(t *testing.T) {
	store := newFakeStore()
	hot := coolVolume("hot")
	hot.CoolAccessEnabled = false
	store.jobs["job-1"] = []model.VolumeRecord{hot, coolVolume("v1")}
	est := &fakeEstimator{fail: map[string]bool{"v1": true}}
	o := New(store, est, zerolog.Nop(), Options{})

	got, err := o.RecalculateVolume(context.Background(), "job-1", "hot")
	require.NoError(t, err)
	assert.Equal(t, "hot", got.ResourceID)
	assert.Contains(t, store.saved, "hot")

	_, err = o.RecalculateVolume(context.Background(), "job-1", "v1")
	assert.ErrorContains(t, err, "catalog exploded")

	_, err = o.RecalculateVolume(context.Background(), "job-1", "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = o.RecalculateVolume(context.Background(), "missing", "hot")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
