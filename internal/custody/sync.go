// Copyright (c) 2026 Keyward Team
// Keyward - signing key custody and execution session manager
// This source code is licensed under the MIT license found in the LICENSE file.

package custody

import (
	"context"
	"fmt"

	"github.com/keyward/keyward/internal/model"
)

// Sync reconciles the cached state against the remote store and commits
// the result. The remote is ground truth: a key record with a sealed
// password means persistent, an active execution session means session,
// anything else means local. Stale local state (e.g. a tier left behind
// by a crashed migration, or a session revoked from another machine) is
// overwritten.
//
// With no remote store configured Sync is a no-op success: the cached
// state is the only state there is.
func (m *Manager) Sync(ctx context.Context) error {
	store, ok := m.remote.Store()
	if !ok {
		return nil
	}
	userID, err := m.ident.UserID()
	if err != nil {
		return err
	}

	rec, err := store.GetKeyRecord(ctx, userID, m.keyName)
	if err != nil {
		return fmt.Errorf("fetch key record: %w", err)
	}
	sess, err := store.ActiveSession(ctx, userID, m.now())
	if err != nil {
		return fmt.Errorf("fetch active session: %w", err)
	}

	st := model.DefaultState()
	st.KeysInRemoteStore = rec != nil
	st.PasswordStoredInRemoteStore = rec != nil && rec.EncryptedPassword != nil

	switch {
	case st.PasswordStoredInRemoteStore:
		st.CurrentTier = model.TierPersistent
	case sess != nil:
		st.CurrentTier = model.TierSession
		st.Session = sess
	}

	m.commit(st)
	return nil
}
