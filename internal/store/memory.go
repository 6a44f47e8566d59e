package store

import (
	"context"
	"slices"
	"sync"
)

// Memory is an in-process Store. Nothing survives a restart.
type Memory struct {
	mu       sync.Mutex
	best     int
	unlocked []string
	runs     []Run
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) GetBestScore(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.best, nil
}

func (m *Memory) SetBestScore(_ context.Context, score int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.best = score
	return nil
}

func (m *Memory) GetUnlockedAchievements(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.unlocked)
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func (m *Memory) SetUnlockedAchievements(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := slices.Clone(ids)
	slices.Sort(set)
	m.unlocked = slices.Compact(set)
	return nil
}

func (m *Memory) ResetProgress(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.best = 0
	m.unlocked = nil
	return nil
}

func (m *Memory) SaveRun(_ context.Context, r Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

// ListRuns returns up to limit runs, newest first.
func (m *Memory) ListRuns(_ context.Context, limit int) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Run, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, m.runs[i])
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
