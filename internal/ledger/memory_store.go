package ledger

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Storage for tests and development.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts []ProofArtifact
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(ctx context.Context, a *ProofArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts = append(m.artifacts, *a)
	return nil
}

func (m *MemoryStore) ReadAll(ctx context.Context) ([]ProofArtifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ProofArtifact, len(m.artifacts))
	copy(out, m.artifacts)
	return out, nil
}

func (m *MemoryStore) Tail(ctx context.Context) (*ProofArtifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.artifacts) == 0 {
		return nil, ErrNotFound
	}
	a := m.artifacts[len(m.artifacts)-1]
	return &a, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// Corrupt overwrites the stored record at index, for chain-verification tests.
func (m *MemoryStore) Corrupt(index int, mutate func(*ProofArtifact)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.artifacts) {
		return false
	}
	mutate(&m.artifacts[index])
	return true
}
