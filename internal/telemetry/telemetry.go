// Package telemetry defines the usage-metrics collaborator consulted when
// building estimate inputs, plus a static implementation backed by recorded values.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// Metric names understood by the estimator. Size metrics are reported in GiB,
// transactions and egress as monthly totals, disk operations as a per-second average.
const (
	MetricVolumeLogicalSize      = "VolumeLogicalSize"
	MetricCoolTierSize           = "VolumeCoolTierSize"
	MetricCoolTierDataReadSize   = "VolumeCoolTierDataReadSize"
	MetricCoolTierDataWriteSize  = "VolumeCoolTierDataWriteSize"
	MetricFileCapacity           = "FileCapacity"
	MetricTransactions           = "Transactions"
	MetricEgress                 = "Egress"
	MetricDiskReadOperationsSec  = "Composite Disk Read Operations/sec"
	MetricDiskWriteOperationsSec = "Composite Disk Write Operations/sec"
)

// MetricsFetcher returns an aggregated metric value for a resource over the
// last days days. ok is false when the metric is absent.
type MetricsFetcher interface {
	FetchResourceMetrics(ctx context.Context, resourceID, metricName string, days int) (value float64, ok bool, err error)
}

// StaticFetcher serves previously recorded metric values.
type StaticFetcher struct {
	mu     sync.RWMutex
	values map[string]map[string]float64
}

// NewStaticFetcher creates an empty StaticFetcher.
func NewStaticFetcher() *StaticFetcher {
	return &StaticFetcher{values: make(map[string]map[string]float64)}
}

// LoadStaticFile reads a JSON document of the form
// {"<resourceId>": {"<metricName>": value}} into a StaticFetcher.
func LoadStaticFile(path string) (*StaticFetcher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metrics file: %w", err)
	}
	var raw map[string]map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse metrics file %s: %w", path, err)
	}
	f := NewStaticFetcher()
	for id, metrics := range raw {
		for name, v := range metrics {
			f.Set(id, name, v)
		}
	}
	return f, nil
}

// Set records a metric value for a resource.
func (f *StaticFetcher) Set(resourceID, metricName string, value float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := strings.ToLower(resourceID)
	if f.values[id] == nil {
		f.values[id] = make(map[string]float64)
	}
	f.values[id][metricName] = value
}

// FetchResourceMetrics implements MetricsFetcher. The lookback window is
// ignored: recorded values are already aggregated.
func (f *StaticFetcher) FetchResourceMetrics(ctx context.Context, resourceID, metricName string, _ int) (float64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[strings.ToLower(resourceID)][metricName]
	return v, ok, nil
}
