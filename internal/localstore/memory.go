// Copyright (c) 2026 Keyward Team
// Keyward - signing key custody and execution session manager
// This source code is licensed under the MIT license found in the LICENSE file.

package localstore

import "sync"

// MemStore is an in-memory BlobStore for tests and ephemeral runs.
type MemStore struct {
	mu     sync.RWMutex
	values map[string]string

	// FailSets, when non-nil, is returned by every Set. Tests use it to
	// exercise the fire-and-forget persistence path.
	FailSets error
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string]string)}
}

// Get returns the stored value for key.
func (m *MemStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set stores value under key, or fails when FailSets is armed.
func (m *MemStore) Set(key, value string) error {
	if m.FailSets != nil {
		return m.FailSets
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
