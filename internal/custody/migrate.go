// Copyright (c) 2026 Keyward Team
// Keyward - signing key custody and execution session manager
// This source code is licensed under the MIT license found in the LICENSE file.

package custody

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/keyward/keyward/internal/logging"
	"github.com/keyward/keyward/internal/model"
	"github.com/keyward/keyward/internal/remotestore"
	"github.com/keyward/keyward/internal/seal"
	"github.com/keyward/keyward/internal/security"
)

// Every migration performs its remote writes first and commits local state
// only after all of them succeed; on any remote failure the prior state is
// left untouched and re-persisted unmodified. A partial remote failure
// (e.g. key upload succeeded, session insert failed) leaves the remote
// store recoverable via a subsequent ToLocal or a retried ToSession.

// ToSession uploads the encrypted key blob, creates a fresh time-boxed
// execution session, and commits the session tier. A non-positive
// durationHours means DefaultSessionHours.
func (m *Manager) ToSession(ctx context.Context, blob, salt string, password security.Secret, durationHours int) error {
	userID, err := m.ident.UserID()
	if err != nil {
		return err
	}
	store, ok := m.remote.Store()
	if !ok {
		return remotestore.ErrNotConnected
	}
	if durationHours <= 0 {
		durationHours = DefaultSessionHours
	}

	if err := store.UpsertKeyRecord(ctx, model.EncryptedKeyRecord{
		UserID:         userID,
		KeyName:        m.keyName,
		EncryptedBlob:  blob,
		EncryptionSalt: salt,
		// EncryptedPassword deliberately nil: the password lives only
		// inside the sealed session token in this tier.
	}); err != nil {
		m.repersist()
		return fmt.Errorf("upload key record: %w", err)
	}

	now := m.now()
	expiresAt := now.Add(time.Duration(durationHours) * time.Hour)

	token, err := seal.SealSessionToken(userID, password, expiresAt)
	if err != nil {
		m.repersist()
		return err
	}

	sess := model.ExecutionSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		Active:    true,
	}
	if err := store.InsertSession(ctx, sess, token); err != nil {
		m.repersist()
		return fmt.Errorf("create execution session: %w", err)
	}

	m.commit(model.SecurityTierState{
		CurrentTier:       model.TierSession,
		Session:           &sess,
		KeysInRemoteStore: true,
	})
	return nil
}

// ToPersistent uploads the encrypted key blob together with the sealed
// password and commits the persistent tier. Any existing session is
// superseded; no remote session revoke is performed in this path (known
// gap; ToLocal is the full reset).
func (m *Manager) ToPersistent(ctx context.Context, blob, salt string, password security.Secret) error {
	userID, err := m.ident.UserID()
	if err != nil {
		return err
	}
	store, ok := m.remote.Store()
	if !ok {
		return remotestore.ErrNotConnected
	}

	sealed, err := seal.SealPersistentPassword(password)
	if err != nil {
		m.repersist()
		return err
	}

	if err := store.UpsertKeyRecord(ctx, model.EncryptedKeyRecord{
		UserID:            userID,
		KeyName:           m.keyName,
		EncryptedBlob:     blob,
		EncryptionSalt:    salt,
		EncryptedPassword: &sealed,
	}); err != nil {
		m.repersist()
		return fmt.Errorf("upload key record: %w", err)
	}

	m.commit(model.SecurityTierState{
		CurrentTier:                 model.TierPersistent,
		Session:                     nil,
		KeysInRemoteStore:           true,
		PasswordStoredInRemoteStore: true,
	})
	return nil
}

// ToLocal deletes the remote key record, revokes every session for the
// user, and resets local state to the all-local defaults. With no remote
// store configured there is nothing to delete: the state is reset and the
// call succeeds (the user is treated as already local).
func (m *Manager) ToLocal(ctx context.Context) error {
	store, ok := m.remote.Store()
	if !ok {
		m.commit(model.DefaultState())
		return nil
	}

	userID, err := m.ident.UserID()
	if err != nil {
		return err
	}

	if err := store.DeleteKeyRecord(ctx, userID, m.keyName); err != nil {
		m.repersist()
		return fmt.Errorf("delete key record: %w", err)
	}
	// All sessions, not just the cached one: a stray active row left by an
	// interrupted earlier migration must not keep execution alive.
	if err := store.RevokeAllSessions(ctx, userID); err != nil {
		m.repersist()
		return fmt.Errorf("revoke sessions: %w", err)
	}

	m.commit(model.DefaultState())
	return nil
}

// EndSession revokes the cached execution session remotely (best effort)
// and clears it from local state. With no session cached this is a no-op
// success and no remote call is attempted.
//
// The tier is intentionally left untouched: the resulting transient
// (tier=session, session=nil) state reads as inactive through
// SessionStatus and is resolved by the next Sync.
func (m *Manager) EndSession(ctx context.Context) error {
	st := m.states.Get()
	if st.Session == nil {
		return nil
	}

	if store, ok := m.remote.Store(); ok {
		if err := store.RevokeSession(ctx, st.Session.ID); err != nil {
			logging.Warnf("custody: best-effort session revoke for %s failed: %v", st.Session.ID, err)
		}
	}

	st.Session = nil
	m.commit(st)
	return nil
}

// RefreshSession rotates the current execution session without requiring
// the caller to resupply key material: it ends the cached session,
// re-reads the stored key record, and opens a fresh session with a new
// expiry. Fails with ErrNotInSessionTier unless the current tier is
// session, and with ErrKeyRecordNotFound when the remote record is gone.
func (m *Manager) RefreshSession(ctx context.Context, password security.Secret, durationHours int) error {
	if m.CurrentTier() != model.TierSession {
		return ErrNotInSessionTier
	}
	userID, err := m.ident.UserID()
	if err != nil {
		return err
	}
	store, ok := m.remote.Store()
	if !ok {
		return remotestore.ErrNotConnected
	}

	rec, err := store.GetKeyRecord(ctx, userID, m.keyName)
	if err != nil {
		m.repersist()
		return fmt.Errorf("fetch key record: %w", err)
	}
	if rec == nil {
		return ErrKeyRecordNotFound
	}

	if err := m.EndSession(ctx); err != nil {
		return err
	}
	return m.ToSession(ctx, rec.EncryptedBlob, rec.EncryptionSalt, password, durationHours)
}
