// Copyright (c) 2026 Keyward Team
// Keyward - signing key custody and execution session manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package statestore holds the in-memory SecurityTierState and persists it
// through the local encrypted blob store. Persistence is fire-and-forget:
// the in-memory state stays authoritative even when a save fails, but the
// failure is retained for diagnostics.
package statestore

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/keyward/keyward/internal/localstore"
	"github.com/keyward/keyward/internal/logging"
	"github.com/keyward/keyward/internal/model"
)

const keyPrefix = "security_tier_"

// persistedState is the on-disk subset of the aggregate. The remote-store
// flags are a mirror of remote row presence and are re-derived on load and
// on every reconciliation, so they are not persisted.
type persistedState struct {
	CurrentTier model.SecurityTier      `json:"currentTier"`
	Session     *model.ExecutionSession `json:"session"`
}

// Store owns one user's cached SecurityTierState.
type Store struct {
	blobs  localstore.BlobStore
	userID string

	mu      sync.RWMutex
	state   model.SecurityTierState
	saveErr error
}

// New creates a state store for userID starting at the all-local default.
// Callers normally Load immediately after.
func New(blobs localstore.BlobStore, userID string) *Store {
	return &Store{blobs: blobs, userID: userID, state: model.DefaultState()}
}

// Load reads the persisted state. A persisted session whose expiry is in the
// past is cleared immediately, and if the cached tier was session it reverts
// to local, so an expired session never silently remains current. A missing or
// undecodable blob leaves the default state in place.
func (s *Store) Load(now time.Time) error {
	raw, ok, err := s.blobs.Get(s.key())
	if err != nil {
		return fmt.Errorf("load cached tier state: %w", err)
	}
	if !ok {
		return nil
	}

	var p persistedState
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		logging.Warnf("statestore: discarding undecodable cached state for %s: %v", s.userID, err)
		return nil
	}
	if !p.CurrentTier.Valid() {
		p.CurrentTier = model.TierLocal
	}

	if p.Session != nil && !p.Session.ActiveAt(now) {
		p.Session = nil
		if p.CurrentTier == model.TierSession {
			p.CurrentTier = model.TierLocal
		}
	}

	st := model.SecurityTierState{
		CurrentTier: p.CurrentTier,
		Session:     p.Session,
		// Mirror flags re-derived from the cached tier until the next
		// reconciliation overwrites them with remote ground truth.
		KeysInRemoteStore:           p.CurrentTier != model.TierLocal,
		PasswordStoredInRemoteStore: p.CurrentTier == model.TierPersistent,
	}

	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	return nil
}

// Get returns a snapshot of the current state.
func (s *Store) Get() model.SecurityTierState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Set replaces the in-memory state. It does not persist; callers decide
// when to Save.
func (s *Store) Set(st model.SecurityTierState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Save persists the current state. Failures are logged and retained but
// never surfaced to the mutation path: the in-memory state is authoritative.
func (s *Store) Save() {
	s.mu.RLock()
	p := persistedState{CurrentTier: s.state.CurrentTier, Session: s.state.Session}
	s.mu.RUnlock()

	raw, err := json.Marshal(p)
	if err == nil {
		err = s.blobs.Set(s.key(), string(raw))
	}

	s.mu.Lock()
	s.saveErr = err
	s.mu.Unlock()
	if err != nil {
		logging.Errorf("statestore: failed to persist tier state for %s: %v", s.userID, err)
	}
}

// LastPersistErr reports the outcome of the most recent Save: nil after a
// successful save, the failure otherwise.
func (s *Store) LastPersistErr() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveErr
}

func (s *Store) key() string { return keyPrefix + s.userID }
