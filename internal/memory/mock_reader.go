package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/synapselabs/synapse/internal/models"
)

// MockReader is an in-memory SnapshotReader for testing.
type MockReader struct {
	mu        sync.Mutex
	snapshots map[string]*models.MemorySnapshot
	versions  map[string]int64
	reads     int
}

// NewMockReader creates an empty mock reader.
func NewMockReader() *MockReader {
	return &MockReader{
		snapshots: make(map[string]*models.MemorySnapshot),
		versions:  make(map[string]int64),
	}
}

// SetSnapshot stores a snapshot under ref. Calling it again for the same
// ref bumps the version, which changes the fingerprint the way a file
// modification would.
func (m *MockReader) SetSnapshot(ref string, snap *models.MemorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[ref] = snap
	m.versions[ref]++
}

// Reads returns how many times Read has been called.
func (m *MockReader) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Read returns the stored snapshot for ref.
func (m *MockReader) Read(_ context.Context, ref string) (*models.MemorySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	snap, ok := m.snapshots[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDataNotFound, ref)
	}
	return snap, nil
}

// Fingerprint derives a key from the ref's version counter in place of
// file metadata.
func (m *MockReader) Fingerprint(ref, model string, opts models.AnalysisOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[ref]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrDataNotFound, ref)
	}
	return ComputeFingerprint(ref, m.versions[ref], int64(len(snap.Insights)), model, opts), nil
}
