package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/storagecost/internal/assumptions"
	"github.com/rshade/storagecost/internal/model"
	"github.com/rshade/storagecost/internal/recalc"
)

var (
	_ assumptions.Store  = (*Memory)(nil)
	_ recalc.RecordStore = (*Memory)(nil)
	_ assumptions.Store  = (*DynamoStore)(nil)
	_ recalc.RecordStore = (*DynamoStore)(nil)
)

func pct(v float64) *float64 { return &v }

func TestMemoryVolumes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.PutVolume(ctx, model.VolumeRecord{ID: "v2", JobID: "job-1"}))
	require.NoError(t, m.PutVolume(ctx, model.VolumeRecord{ID: "v1", JobID: "job-1"}))

	vols, err := m.GetVolumesByJob(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, vols, 2)
	assert.Equal(t, "v1", vols[0].ID)
	assert.Equal(t, "v2", vols[1].ID)

	_, err = m.GetVolumesByJob(ctx, "job-2")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = m.GetVolume(ctx, "job-1", "v9")
	assert.ErrorIs(t, err, model.ErrNotFound)

	err = m.PutVolume(ctx, model.VolumeRecord{})
	assert.True(t, model.IsValidationError(err))
}

func TestMemorySaveCostAnalysis(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.PutVolume(ctx, model.VolumeRecord{ID: "v1", JobID: "job-1"}))

	est := model.VolumeCostEstimate{ResourceID: "v1", TotalEstimatedCost: 12.5}
	require.NoError(t, m.SaveCostAnalysis(ctx, "job-1", "v1", est))

	v, err := m.GetVolume(ctx, "job-1", "v1")
	require.NoError(t, err)
	require.NotNil(t, v.CostAnalysis)
	assert.InDelta(t, 12.5, v.CostAnalysis.TotalEstimatedCost, 1e-9)

	assert.ErrorIs(t, m.SaveCostAnalysis(ctx, "job-1", "v2", est), model.ErrNotFound)
	assert.ErrorIs(t, m.SaveCostAnalysis(ctx, "job-2", "v1", est), model.ErrNotFound)
}

func TestMemoryJobOverride(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.PutJob(ctx, "job-1"))

	o, err := m.GetJobAssumptionOverride(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, o)

	require.NoError(t, m.SetJobAssumptionOverride(ctx, "job-1", model.AssumptionOverride{
		CoolDataPercentage: pct(60), CoolDataRetrievalPercentage: pct(5),
	}))
	o, err = m.GetJobAssumptionOverride(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, o.Complete())

	require.NoError(t, m.ClearJobAssumptionOverride(ctx, "job-1"))
	require.NoError(t, m.ClearJobAssumptionOverride(ctx, "job-1"))
	o, err = m.GetJobAssumptionOverride(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, o)

	assert.ErrorIs(t, m.ClearJobAssumptionOverride(ctx, "nope"), model.ErrNotFound)
	_, err = m.GetJobAssumptionOverride(ctx, "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMemoryStateFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	m, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, m.PutVolume(ctx, model.VolumeRecord{ID: "v1", JobID: "job-1", ProvisionedGiB: 500}))
	require.NoError(t, m.SetVolumeAssumptionOverride(ctx, "job-1", "v1", &model.AssumptionOverride{
		CoolDataPercentage: pct(70), CoolDataRetrievalPercentage: pct(10),
	}))
	require.NoError(t, m.SetGlobalAssumptions(ctx, model.CoolDataAssumptions{CoolDataPercentage: 80, CoolDataRetrievalPercentage: 15}))

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	v, err := reopened.GetVolume(ctx, "job-1", "v1")
	require.NoError(t, err)
	assert.InDelta(t, 500.0, v.ProvisionedGiB, 1e-9)
	assert.True(t, v.Pinned())

	g, err := reopened.GetGlobalAssumptions(ctx)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.InDelta(t, 80.0, g.CoolDataPercentage, 1e-9)
}

func TestMemoryFailedFlushLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m, err := OpenFile(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	require.NoError(t, m.PutVolume(ctx, model.VolumeRecord{ID: "v1", JobID: "job-1", ProvisionedGiB: 500}))
	require.NoError(t, m.SetGlobalAssumptions(ctx, model.CoolDataAssumptions{CoolDataPercentage: 80, CoolDataRetrievalPercentage: 15}))

	// Every later write fails: the state file's directory does not exist.
	m.path = filepath.Join(dir, "missing", "state.json")

	assert.Error(t, m.PutVolume(ctx, model.VolumeRecord{ID: "v1", JobID: "job-1", ProvisionedGiB: 900}))
	assert.Error(t, m.PutVolume(ctx, model.VolumeRecord{ID: "v2", JobID: "job-1"}))
	assert.Error(t, m.PutVolume(ctx, model.VolumeRecord{ID: "v1", JobID: "job-2"}))
	assert.Error(t, m.PutJob(ctx, "job-3"))
	assert.Error(t, m.SaveCostAnalysis(ctx, "job-1", "v1", model.VolumeCostEstimate{TotalEstimatedCost: 12}))
	assert.Error(t, m.SetVolumeAssumptionOverride(ctx, "job-1", "v1", &model.AssumptionOverride{
		CoolDataPercentage: pct(70), CoolDataRetrievalPercentage: pct(10),
	}))
	assert.Error(t, m.SetJobAssumptionOverride(ctx, "job-1", model.AssumptionOverride{
		CoolDataPercentage: pct(60), CoolDataRetrievalPercentage: pct(5),
	}))
	assert.Error(t, m.SetGlobalAssumptions(ctx, model.CoolDataAssumptions{CoolDataPercentage: 40}))

	vols, err := m.GetVolumesByJob(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, vols, 1)
	assert.InDelta(t, 500.0, vols[0].ProvisionedGiB, 1e-9)
	assert.Nil(t, vols[0].CostAnalysis)
	assert.False(t, vols[0].Pinned())

	_, err = m.GetVolumesByJob(ctx, "job-2")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = m.GetJobAssumptionOverride(ctx, "job-3")
	assert.ErrorIs(t, err, model.ErrNotFound)

	o, err := m.GetJobAssumptionOverride(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, o)

	g, err := m.GetGlobalAssumptions(ctx)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.InDelta(t, 80.0, g.CoolDataPercentage, 1e-9)
}

func TestOpenFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := OpenFile(path)
	assert.ErrorContains(t, err, "parse state file")
}

func TestMemoryBacksAssumptionService(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.PutVolume(ctx, model.VolumeRecord{ID: "v1", JobID: "job-1"}))
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc := assumptions.NewService(m, zerolog.Nop(), assumptions.Options{Clock: func() time.Time { return now }})

	a, err := svc.ResolveAssumptions(ctx, "job-1", "v1")
	require.NoError(t, err)
	assert.Equal(t, model.SourceGlobal, a.Source)
	assert.InDelta(t, 80.0, a.CoolDataPercentage, 1e-9)

	_, err = svc.SetJobAssumptions(ctx, "job-1", 50, 20, "alice")
	require.NoError(t, err)
	a, err = svc.ResolveAssumptions(ctx, "job-1", "v1")
	require.NoError(t, err)
	assert.Equal(t, model.SourceJob, a.Source)

	_, err = svc.SetVolumeAssumptions(ctx, "job-1", "v1", 10, 1, "bob")
	require.NoError(t, err)
	a, err = svc.ResolveAssumptions(ctx, "job-1", "v1")
	require.NoError(t, err)
	assert.Equal(t, model.SourceVolume, a.Source)
	assert.Equal(t, "bob", a.ModifiedBy)
}
