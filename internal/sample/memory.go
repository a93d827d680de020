// Package sample provides core.SampleProvider implementations: an in-memory
// provider and a DuckDB provider over per-table CSV snapshots.
package sample

import (
	"context"
	"sort"
	"sync"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Memory serves snapshots held in memory. It is safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string][]core.Row
}

var _ core.SampleProvider = (*Memory)(nil)

// NewMemory creates an empty provider.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string][]core.Row)}
}

// Put replaces the snapshot of a table at a date.
func (m *Memory) Put(tableKey, asOf string, rows []core.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDate, ok := m.data[tableKey]
	if !ok {
		byDate = make(map[string][]core.Row)
		m.data[tableKey] = byDate
	}
	byDate[asOf] = rows
}

// Dates returns the snapshot dates of a table, newest first.
func (m *Memory) Dates(_ context.Context, tableKey string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dates := make([]string, 0, len(m.data[tableKey]))
	for d := range m.data[tableKey] {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

// Rows returns a snapshot, or a NoDataError when none exists.
func (m *Memory) Rows(_ context.Context, tableKey, asOf string) ([]core.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, ok := m.data[tableKey][asOf]
	if !ok {
		return nil, core.Errorf(core.KindNoData, tableKey, "no snapshot at %s", asOf)
	}
	return rows, nil
}
