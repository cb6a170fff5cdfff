// Package store defines the run report storage interface and its local
// backends.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

// Store persists finalized run reports.
type Store interface {
	// NextBuildNumber allocates the next build number for a pipeline. Numbers
	// start at 1 and are never reused.
	NextBuildNumber(ctx context.Context, pipeline string) (int64, error)

	PutReport(ctx context.Context, report types.RunReport) error
	// GetReport returns nil, nil when the run is unknown.
	GetReport(ctx context.Context, runID string) (*types.RunReport, error)
	// ListReports returns reports for a pipeline, newest first. An empty
	// pipeline lists every pipeline.
	ListReports(ctx context.Context, pipeline string, limit int) ([]types.RunReport, error)

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Ping(ctx context.Context) error
}

const defaultListLimit = 20

// Memory is an in-process Store. Reports are lost when the process exits.
type Memory struct {
	mu       sync.RWMutex
	reports  map[string]types.RunReport
	order    []string
	counters map[string]int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		reports:  make(map[string]types.RunReport),
		counters: make(map[string]int64),
	}
}

func (m *Memory) NextBuildNumber(_ context.Context, pipeline string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[pipeline]++
	return m.counters[pipeline], nil
}

func (m *Memory) PutReport(_ context.Context, report types.RunReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reports[report.RunID]; !exists {
		m.order = append(m.order, report.RunID)
	}
	m.reports[report.RunID] = copyReport(report)
	return nil
}

func (m *Memory) GetReport(_ context.Context, runID string) (*types.RunReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[runID]
	if !ok {
		return nil, nil
	}
	r = copyReport(r)
	return &r, nil
}

func (m *Memory) ListReports(_ context.Context, pipeline string, limit int) ([]types.RunReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]types.RunReport, 0, len(m.order))
	for _, id := range m.order {
		r := m.reports[id]
		if pipeline == "" || r.Pipeline == pipeline {
			all = append(all, copyReport(r))
		}
	}
	return newestFirst(all, limit), nil
}

func (m *Memory) Start(context.Context) error { return nil }
func (m *Memory) Stop(context.Context) error  { return nil }
func (m *Memory) Ping(context.Context) error  { return nil }

func copyReport(r types.RunReport) types.RunReport {
	r.Stages = append([]types.StageResult(nil), r.Stages...)
	return r
}

// newestFirst sorts by start time descending, breaking ties by run ID, and
// applies the limit.
func newestFirst(reports []types.RunReport, limit int) []types.RunReport {
	if limit <= 0 {
		limit = defaultListLimit
	}
	sort.SliceStable(reports, func(i, j int) bool {
		if !reports[i].StartedAt.Equal(reports[j].StartedAt) {
			return reports[i].StartedAt.After(reports[j].StartedAt)
		}
		return reports[i].RunID > reports[j].RunID
	})
	if len(reports) > limit {
		reports = reports[:limit]
	}
	return reports
}
