// Copyright (c) 2026 Keyward Team
// Keyward - signing key custody and execution session manager
// This source code is licensed under the MIT license found in the LICENSE file.

package custody

import "errors"

// Expected failure classes. Together with remotestore.ErrNotConnected
// (connectivity), identity.ErrNoIdentity (authentication) and
// seal.ErrCrypto (primitive failure) they form the full error taxonomy of
// the migration operations. All are returned, never panicked; callers
// classify with errors.Is.
var (
	// ErrKeyRecordNotFound is returned when an operation needs the user's
	// encrypted key record and the remote store has none.
	ErrKeyRecordNotFound = errors.New("no encrypted key record for user")

	// ErrNotInSessionTier is returned by RefreshSession when the current
	// tier is not session mode.
	ErrNotInSessionTier = errors.New("not in session custody tier")
)
