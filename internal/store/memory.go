// Package store provides record store implementations for jobs, volumes,
// assumptions and saved cost analyses.
package store

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/rshade/storagecost/internal/model"
)

// Job is a discovery job and the volumes found by it.
type Job struct {
	ID                 string                        `json:"id"`
	AssumptionOverride *model.AssumptionOverride     `json:"assumptionOverride,omitempty"`
	Volumes            map[string]model.VolumeRecord `json:"volumes"`
}

// State is the serialized form of a Memory store.
type State struct {
	Global *model.CoolDataAssumptions `json:"globalAssumptions,omitempty"`
	Jobs   map[string]*Job            `json:"jobs"`
}

// Memory is an in-process store. When a state file is configured every
// successful write is flushed to it.
type Memory struct {
	mu    sync.RWMutex
	state State
	path  string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{state: State{Jobs: make(map[string]*Job)}}
}

// OpenFile loads a Memory store from path. A missing file yields an empty
// store that will be created on the first write.
func OpenFile(path string) (*Memory, error) {
	m := NewMemory()
	m.path = path

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if err := json.Unmarshal(data, &m.state); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	if m.state.Jobs == nil {
		m.state.Jobs = make(map[string]*Job)
	}
	for id, j := range m.state.Jobs {
		j.ID = id
		if j.Volumes == nil {
			j.Volumes = make(map[string]model.VolumeRecord)
		}
	}
	return m, nil
}

// flush writes the state file. Callers hold the write lock.
func (m *Memory) flush() error {
	if m.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return os.Rename(tmp, m.path)
}

// commit flushes the state and runs undo when the flush fails, so memory
// never holds a change the state file rejected. Callers hold the write lock.
func (m *Memory) commit(undo func()) error {
	if err := m.flush(); err != nil {
		undo()
		return err
	}
	return nil
}

// PutJob creates the job if it does not exist.
func (m *Memory) PutJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.Jobs[jobID]; ok {
		return nil
	}
	m.state.Jobs[jobID] = &Job{ID: jobID, Volumes: make(map[string]model.VolumeRecord)}
	return m.commit(func() { delete(m.state.Jobs, jobID) })
}

// PutVolume stores a volume record, creating its job when needed.
func (m *Memory) PutVolume(_ context.Context, rec model.VolumeRecord) error {
	ve := &model.ValidationError{}
	if rec.JobID == "" {
		ve.Add("jobId", "is required")
	}
	if rec.ID == "" {
		ve.Add("id", "is required")
	}
	if err := ve.OrNil(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, jobExisted := m.state.Jobs[rec.JobID]
	if !jobExisted {
		j = &Job{ID: rec.JobID, Volumes: make(map[string]model.VolumeRecord)}
		m.state.Jobs[rec.JobID] = j
	}
	prev, volExisted := j.Volumes[rec.ID]
	j.Volumes[rec.ID] = rec
	return m.commit(func() {
		switch {
		case !jobExisted:
			delete(m.state.Jobs, rec.JobID)
		case volExisted:
			j.Volumes[rec.ID] = prev
		default:
			delete(j.Volumes, rec.ID)
		}
	})
}

// GetVolumesByJob returns the job's volumes ordered by id.
func (m *Memory) GetVolumesByJob(_ context.Context, jobID string) ([]model.VolumeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.state.Jobs[jobID]
	if !ok {
		return nil, model.NotFoundf("job %s", jobID)
	}
	out := make([]model.VolumeRecord, 0, len(j.Volumes))
	for _, v := range j.Volumes {
		out = append(out, v)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

// GetVolume returns one volume of a job.
func (m *Memory) GetVolume(_ context.Context, jobID, volumeID string) (model.VolumeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.state.Jobs[jobID]
	if !ok {
		return model.VolumeRecord{}, model.NotFoundf("job %s", jobID)
	}
	v, ok := j.Volumes[volumeID]
	if !ok {
		return model.VolumeRecord{}, model.NotFoundf("volume %s in job %s", volumeID, jobID)
	}
	return v, nil
}

// SaveCostAnalysis attaches est to the volume record.
func (m *Memory) SaveCostAnalysis(_ context.Context, jobID, volumeID string, est model.VolumeCostEstimate) error {
	return m.updateVolume(jobID, volumeID, func(v *model.VolumeRecord) {
		v.CostAnalysis = &est
	})
}

// SetVolumeAssumptionOverride replaces the volume override; nil clears it.
func (m *Memory) SetVolumeAssumptionOverride(_ context.Context, jobID, volumeID string, o *model.AssumptionOverride) error {
	return m.updateVolume(jobID, volumeID, func(v *model.VolumeRecord) {
		v.AssumptionOverride = o
	})
}

func (m *Memory) updateVolume(jobID, volumeID string, fn func(*model.VolumeRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.state.Jobs[jobID]
	if !ok {
		return model.NotFoundf("job %s", jobID)
	}
	v, ok := j.Volumes[volumeID]
	if !ok {
		return model.NotFoundf("volume %s in job %s", volumeID, jobID)
	}
	prev := v
	fn(&v)
	j.Volumes[volumeID] = v
	return m.commit(func() { j.Volumes[volumeID] = prev })
}

// GetJobAssumptionOverride returns the job override, nil when unset.
func (m *Memory) GetJobAssumptionOverride(_ context.Context, jobID string) (*model.AssumptionOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.state.Jobs[jobID]
	if !ok {
		return nil, model.NotFoundf("job %s", jobID)
	}
	if j.AssumptionOverride == nil {
		return nil, nil
	}
	o := *j.AssumptionOverride
	return &o, nil
}

// SetJobAssumptionOverride stores the job override.
func (m *Memory) SetJobAssumptionOverride(_ context.Context, jobID string, o model.AssumptionOverride) error {
	return m.updateJob(jobID, func(j *Job) { j.AssumptionOverride = &o })
}

// ClearJobAssumptionOverride removes the job override.
func (m *Memory) ClearJobAssumptionOverride(_ context.Context, jobID string) error {
	return m.updateJob(jobID, func(j *Job) { j.AssumptionOverride = nil })
}

func (m *Memory) updateJob(jobID string, fn func(*Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.state.Jobs[jobID]
	if !ok {
		return model.NotFoundf("job %s", jobID)
	}
	prev := *j
	fn(j)
	return m.commit(func() { *j = prev })
}

// GetGlobalAssumptions returns the global record, nil when absent.
func (m *Memory) GetGlobalAssumptions(context.Context) (*model.CoolDataAssumptions, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state.Global == nil {
		return nil, nil
	}
	g := *m.state.Global
	return &g, nil
}

// SetGlobalAssumptions replaces the global record.
func (m *Memory) SetGlobalAssumptions(_ context.Context, a model.CoolDataAssumptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.state.Global
	m.state.Global = &a
	return m.commit(func() { m.state.Global = prev })
}
