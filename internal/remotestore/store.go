// Copyright (c) 2026 Keyward Team
// Keyward - signing key custody and execution session manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package remotestore provides the data access layer for the remote
// credential store. It abstracts the underlying database (SQLite,
// PostgreSQL, MySQL) behind a consistent interface; row presence here is
// the ground truth for whether unattended execution capability exists.
package remotestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/keyward/keyward/internal/model"
)

// ErrNotConnected is returned when an operation requires the remote
// credential store and none is configured.
var ErrNotConnected = errors.New("remote credential store not configured")

// ErrDuplicate is returned when attempting to insert a record that already exists.
var ErrDuplicate = errors.New("duplicate record")

// Store defines the remote credential store operations the custody
// subsystem performs. Implementations exist per database backend.
type Store interface {
	// Encrypted key records, keyed on (user_id, key_name).
	UpsertKeyRecord(ctx context.Context, rec model.EncryptedKeyRecord) error
	GetKeyRecord(ctx context.Context, userID, keyName string) (*model.EncryptedKeyRecord, error)
	DeleteKeyRecord(ctx context.Context, userID, keyName string) error

	// Execution sessions.
	InsertSession(ctx context.Context, sess model.ExecutionSession, encryptedToken string) error
	RevokeSession(ctx context.Context, id string) error
	RevokeAllSessions(ctx context.Context, userID string) error
	// ActiveSession returns the newest non-revoked, non-expired session for
	// the user, or (nil, nil) when none qualifies.
	ActiveSession(ctx context.Context, userID string, now time.Time) (*model.ExecutionSession, error)

	Close() error
}

// Remote is the capability handle for the optional remote store: either
// connected to a Store or disconnected. Callers branch on the second return
// of Store instead of scattering nil checks.
type Remote struct {
	store Store
}

// Connected wraps an open store.
func Connected(s Store) Remote { return Remote{store: s} }

// Disconnected is the absent-capability value.
func Disconnected() Remote { return Remote{} }

// Store returns the underlying store and whether one is configured.
func (r Remote) Store() (Store, bool) { return r.store, r.store != nil }

// MapDBError inspects low-level driver errors and maps common constraint
// violations to package-level sentinel errors (like ErrDuplicate). This is a
// conservative, string-based mapping to avoid importing SQL driver packages
// into this package file.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}
	le := strings.ToLower(err.Error())
	// MySQL duplicate entry, Postgres unique violation (23505), SQLite unique constraint
	if strings.Contains(le, "duplicate") || strings.Contains(le, "unique") || strings.Contains(le, "23505") || strings.Contains(le, "1062") {
		return ErrDuplicate
	}
	return err
}
