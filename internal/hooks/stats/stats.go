// Package stats keeps the per-worker CredentialHookStats counters. Counters
// only grow; every delivery outcome adds to one or more of them.
package stats

import (
	"context"
	"sort"
	"sync"

	"vcr/internal/hooks/models"
)

// Recorder increments and reads hook delivery counters.
type Recorder interface {
	Incr(ctx context.Context, workerID string, stat models.Stat, n int64) error
	Get(ctx context.Context, workerID string) (*models.CredentialHookStats, error)
	All(ctx context.Context) ([]*models.CredentialHookStats, error)
}

// InMemory keeps counters in process memory.
type InMemory struct {
	mu      sync.Mutex
	workers map[string]*models.CredentialHookStats
}

func NewInMemory() *InMemory {
	return &InMemory{workers: make(map[string]*models.CredentialHookStats)}
}

func (m *InMemory) Incr(_ context.Context, workerID string, stat models.Stat, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.workers[workerID]
	if !ok {
		st = &models.CredentialHookStats{WorkerID: workerID}
		m.workers[workerID] = st
	}
	switch stat {
	case models.StatTotal:
		st.Total += n
	case models.StatAttempt:
		st.Attempt += n
	case models.StatSuccess:
		st.Success += n
	case models.StatFail:
		st.Fail += n
	case models.StatRetry:
		st.Retry += n
	case models.StatRetryFail:
		st.RetryFail += n
	}
	return nil
}

func (m *InMemory) Get(_ context.Context, workerID string) (*models.CredentialHookStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.workers[workerID]; ok {
		out := *st
		return &out, nil
	}
	return &models.CredentialHookStats{WorkerID: workerID}, nil
}

func (m *InMemory) All(_ context.Context) ([]*models.CredentialHookStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.CredentialHookStats, 0, len(m.workers))
	for _, st := range m.workers {
		v := *st
		out = append(out, &v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out, nil
}
