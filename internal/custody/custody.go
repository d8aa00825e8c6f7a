// Copyright (c) 2026 Keyward Team
// Keyward - signing key custody and execution session manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package custody implements the credential tier and execution session
// manager: it tracks which custody tier currently applies to a user's
// signing key, orchestrates tier migrations against the remote credential
// store, and exposes a synchronous, always-current status that unattended
// consumers (trading engine, scheduler) must consult before operating
// without the user present.
//
// A Manager is constructed once by the application's composition root and
// passed by handle to consumers. It does not serialize migration
// operations internally: callers must not run two migrations concurrently
// for the same user. Status accessors are safe to call from any goroutine.
package custody

import (
	"sync"
	"time"

	"github.com/keyward/keyward/internal/identity"
	"github.com/keyward/keyward/internal/model"
	"github.com/keyward/keyward/internal/remotestore"
	"github.com/keyward/keyward/internal/statestore"
)

// DefaultSessionHours is the execution session duration used when a caller
// passes a non-positive duration.
const DefaultSessionHours = 24

// DefaultKeyName is the key record name used when none is configured. One
// record exists per credential domain (e.g. per exchange integration).
const DefaultKeyName = "primary"

// Listener is notified synchronously with the new state after every
// successful migration and reconciliation.
type Listener func(model.SecurityTierState)

type listenerEntry struct {
	id int
	fn Listener
}

// Manager owns one user's SecurityTierState and the operations that move
// key material between custody tiers.
type Manager struct {
	remote  remotestore.Remote
	states  *statestore.Store
	ident   identity.Provider
	keyName string
	clock   Clock

	mu        sync.Mutex // guards listeners; state itself is guarded by states
	listeners []listenerEntry
	nextID    int
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects a clock; tests use this to control expiry.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithKeyName sets the credential-domain key record name.
func WithKeyName(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.keyName = name
		}
	}
}

// New creates a Manager over the given collaborators. The caller is
// expected to have loaded the state store and should normally Sync
// immediately afterwards so the cached tier reflects remote ground truth.
func New(remote remotestore.Remote, states *statestore.Store, ident identity.Provider, opts ...Option) *Manager {
	m := &Manager{
		remote:  remote,
		states:  states,
		ident:   ident,
		keyName: DefaultKeyName,
		clock:   systemClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns a snapshot of the aggregate state.
func (m *Manager) State() model.SecurityTierState {
	return m.states.Get()
}

// CurrentTier returns the cached custody tier.
func (m *Manager) CurrentTier() model.SecurityTier {
	return m.states.Get().CurrentTier
}

// TierInfo returns the registry metadata for the current tier.
func (m *Manager) TierInfo() model.TierInfo {
	return model.InfoFor(m.CurrentTier())
}

// SessionStatus reports the execution session state as of now. Expiry is
// evaluated lazily here; an expired session is first observed as inactive
// on the read after its deadline.
func (m *Manager) SessionStatus() model.SessionStatus {
	sess := m.states.Get().Session
	now := m.clock.Now()
	if !sess.ActiveAt(now) {
		return model.SessionStatus{}
	}
	return model.SessionStatus{
		Active:         true,
		ExpiresAt:      sess.ExpiresAt,
		RemainingHours: sess.ExpiresAt.Sub(now).Hours(),
	}
}

// UnattendedAllowed reports whether a consumer may execute operations
// without the user present: either the persistent tier, or the session
// tier with a currently active session.
func (m *Manager) UnattendedAllowed() bool {
	st := m.states.Get()
	switch st.CurrentTier {
	case model.TierPersistent:
		return true
	case model.TierSession:
		return st.Session.ActiveAt(m.clock.Now())
	}
	return false
}

// LastPersistErr exposes the outcome of the most recent local persistence
// attempt for diagnostics. Persistence failures never roll back in-memory
// state.
func (m *Manager) LastPersistErr() error {
	return m.states.LastPersistErr()
}

// Subscribe registers a listener and returns its unsubscribe function.
// Listeners run synchronously, in registration order.
func (m *Manager) Subscribe(fn Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listenerEntry{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, e := range m.listeners {
			if e.id == id {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// commit replaces the state, notifies listeners in order, then persists.
// Persistence runs last and is fire-and-forget by contract.
func (m *Manager) commit(st model.SecurityTierState) {
	m.states.Set(st)

	m.mu.Lock()
	entries := make([]listenerEntry, len(m.listeners))
	copy(entries, m.listeners)
	m.mu.Unlock()

	for _, e := range entries {
		e.fn(st)
	}
	m.states.Save()
}

// repersist re-saves the unchanged state after a failed migration, keeping
// the persisted mirror aligned with memory.
func (m *Manager) repersist() {
	m.states.Save()
}

func (m *Manager) now() time.Time { return m.clock.Now() }
