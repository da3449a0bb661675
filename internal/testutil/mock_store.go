package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/SafeSignal-Labs/beacon/internal/artifact"
)

// MockStore is a thread-safe in-memory implementation of store.DataStore
// for testing.
type MockStore struct {
	mu sync.Mutex

	Artifacts []artifact.Artifact
	Observers map[int64][]string

	InsertErr    error
	ObserversErr error

	InsertCalls int
}

func NewMockStore() *MockStore {
	return &MockStore{
		Artifacts: make([]artifact.Artifact, 0),
		Observers: make(map[int64][]string),
	}
}

func (m *MockStore) InsertArtifact(_ context.Context, a artifact.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertCalls++
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.Artifacts = append(m.Artifacts, a)
	return nil
}

func (m *MockStore) ObserverIDs(_ context.Context, userID int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ObserversErr != nil {
		return nil, m.ObserversErr
	}
	return append([]string(nil), m.Observers[userID]...), nil
}

func (m *MockStore) GetArtifact(_ context.Context, artifactID string) (*artifact.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Artifacts {
		if m.Artifacts[i].ID == artifactID {
			cp := m.Artifacts[i]
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("artifact %s not found", artifactID)
}

func (m *MockStore) QueryArtifacts(_ context.Context, userID int64, limit int) ([]artifact.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var results []artifact.Artifact
	for _, a := range m.Artifacts {
		if a.UserID != userID {
			continue
		}
		results = append(results, a)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (m *MockStore) Close() {}

// SetObservers seeds the observer directory for a user.
func (m *MockStore) SetObservers(userID int64, observers []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Observers[userID] = observers
}

// StoredArtifacts returns a copy of all inserted artifact records.
func (m *MockStore) StoredArtifacts() []artifact.Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]artifact.Artifact(nil), m.Artifacts...)
}

// GetInsertCalls returns how many times InsertArtifact was called.
func (m *MockStore) GetInsertCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.InsertCalls
}
