// Copyright (c) 2026 Keyward Team
// Keyward - signing key custody and execution session manager
// This source code is licensed under the MIT license found in the LICENSE file.

// This file contains the PostgreSQL implementation of the remote credential
// store.
package remotestore

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"

	"github.com/keyward/keyward/internal/model"
)

// PostgresStore is the PostgreSQL implementation of the Store interface.
type PostgresStore struct {
	bun *bun.DB
}

// UpsertKeyRecord inserts or replaces the encrypted key record keyed on
// (user_id, key_name).
func (s *PostgresStore) UpsertKeyRecord(ctx context.Context, rec model.EncryptedKeyRecord) error {
	km := &EncryptedKeyModel{
		UserID:         rec.UserID,
		KeyName:        rec.KeyName,
		EncryptedBlob:  rec.EncryptedBlob,
		EncryptionSalt: rec.EncryptionSalt,
		UpdatedAt:      time.Now().UTC(),
	}
	if rec.EncryptedPassword != nil {
		km.EncryptedPassword = sql.NullString{String: *rec.EncryptedPassword, Valid: true}
	}
	_, err := s.bun.NewInsert().Model(km).
		On("CONFLICT (user_id, key_name) DO UPDATE").
		Set("encrypted_blob = EXCLUDED.encrypted_blob").
		Set("encryption_salt = EXCLUDED.encryption_salt").
		Set("encrypted_password = EXCLUDED.encrypted_password").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return MapDBError(err)
}

// GetKeyRecord retrieves the record for (userID, keyName), (nil, nil) when absent.
func (s *PostgresStore) GetKeyRecord(ctx context.Context, userID, keyName string) (*model.EncryptedKeyRecord, error) {
	return GetKeyRecordBun(ctx, s.bun, userID, keyName)
}

// DeleteKeyRecord removes the record for (userID, keyName).
func (s *PostgresStore) DeleteKeyRecord(ctx context.Context, userID, keyName string) error {
	return DeleteKeyRecordBun(ctx, s.bun, userID, keyName)
}

// InsertSession inserts a new execution session row.
func (s *PostgresStore) InsertSession(ctx context.Context, sess model.ExecutionSession, encryptedToken string) error {
	return InsertSessionBun(ctx, s.bun, sess, encryptedToken)
}

// RevokeSession marks one session row revoked.
func (s *PostgresStore) RevokeSession(ctx context.Context, id string) error {
	return RevokeSessionBun(ctx, s.bun, id)
}

// RevokeAllSessions marks every session row for the user revoked.
func (s *PostgresStore) RevokeAllSessions(ctx context.Context, userID string) error {
	return RevokeAllSessionsBun(ctx, s.bun, userID)
}

// ActiveSession returns the authoritative session for the user, if any.
func (s *PostgresStore) ActiveSession(ctx context.Context, userID string, now time.Time) (*model.ExecutionSession, error) {
	return ActiveSessionBun(ctx, s.bun, userID, now)
}

// Close releases the underlying database handle.
func (s *PostgresStore) Close() error { return s.bun.Close() }
