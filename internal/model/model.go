// Copyright (c) 2026 Keyward Team
// Keyward - signing key custody and execution session manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package model defines the value types owned by the custody subsystem:
// the three security tiers, execution sessions, and the aggregate state
// that tracks where a user's signing key material currently lives.
package model

import "time"

// SecurityTier identifies one of the three mutually exclusive custody modes
// for a signing key. Exactly one tier is current at any time; it is a
// derived, cached value; row presence in the remote credential store is
// the ground truth.
type SecurityTier string

const (
	// TierLocal keeps key material on this device only. Unattended
	// execution is forbidden.
	TierLocal SecurityTier = "local"
	// TierSession uploads encrypted key material and grants a time-boxed,
	// revocable execution session.
	TierSession SecurityTier = "session"
	// TierPersistent additionally stores the sealed password remotely so
	// execution can continue without any open session.
	TierPersistent SecurityTier = "persistent"
)

// Valid reports whether t is one of the three known tiers.
func (t SecurityTier) Valid() bool {
	switch t {
	case TierLocal, TierSession, TierPersistent:
		return true
	}
	return false
}

// ExecutionSession is a single time-boxed grant allowing unattended use of a
// key. At most one session per user is treated as authoritative at a time.
type ExecutionSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Active    bool      `json:"active"`
}

// ActiveAt reports whether the session grants execution rights at the given
// instant. Expiry is evaluated lazily; there is no background timer, so
// every status read and reconciliation funnels through this one predicate.
func (s *ExecutionSession) ActiveAt(now time.Time) bool {
	return s != nil && s.Active && now.Before(s.ExpiresAt)
}

// SecurityTierState is the aggregate the custody subsystem owns.
//
// Invariants (post-reconciliation):
//   - PasswordStoredInRemoteStore implies CurrentTier == TierPersistent.
//   - !KeysInRemoteStore implies CurrentTier == TierLocal and Session == nil.
//   - CurrentTier == TierSession implies Session != nil and Session.Active.
type SecurityTierState struct {
	CurrentTier                 SecurityTier      `json:"currentTier"`
	Session                     *ExecutionSession `json:"session"`
	KeysInRemoteStore           bool              `json:"keysInRemoteStore"`
	PasswordStoredInRemoteStore bool              `json:"passwordStoredInRemoteStore"`
}

// DefaultState returns the all-local reset state: no session, nothing in the
// remote store.
func DefaultState() SecurityTierState {
	return SecurityTierState{CurrentTier: TierLocal}
}

// SessionStatus is the read-only view handed to consumers (trading engine,
// scheduler). A consumer must treat TierLocal with Active == false as
// "unattended execution forbidden".
type SessionStatus struct {
	Active         bool
	ExpiresAt      time.Time
	RemainingHours float64
}

// EncryptedKeyRecord mirrors one row of the remote store's encrypted_keys
// table. This subsystem upserts, deletes and reads it but never interprets
// the blob contents.
type EncryptedKeyRecord struct {
	UserID            string
	KeyName           string
	EncryptedBlob     string
	EncryptionSalt    string
	EncryptedPassword *string
}
