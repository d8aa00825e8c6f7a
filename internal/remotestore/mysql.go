// Copyright (c) 2026 Keyward Team
// Keyward - signing key custody and execution session manager
// This source code is licensed under the MIT license found in the LICENSE file.

// This file contains the MySQL implementation of the remote credential
// store. MySQL has no EXCLUDED pseudo-table, so the upsert uses
// ON DUPLICATE KEY UPDATE with VALUES().
package remotestore

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"

	"github.com/keyward/keyward/internal/model"
)

// MySQLStore is the MySQL implementation of the Store interface.
type MySQLStore struct {
	bun *bun.DB
}

// UpsertKeyRecord inserts or replaces the encrypted key record keyed on
// (user_id, key_name).
func (s *MySQLStore) UpsertKeyRecord(ctx context.Context, rec model.EncryptedKeyRecord) error {
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
		On("DUPLICATE KEY UPDATE").
		Set("encrypted_blob = VALUES(encrypted_blob)").
		Set("encryption_salt = VALUES(encryption_salt)").
		Set("encrypted_password = VALUES(encrypted_password)").
		Set("updated_at = VALUES(updated_at)").
		Exec(ctx)
	return MapDBError(err)
}

// GetKeyRecord retrieves the record for (userID, keyName), (nil, nil) when absent.
func (s *MySQLStore) GetKeyRecord(ctx context.Context, userID, keyName string) (*model.EncryptedKeyRecord, error) {
	return GetKeyRecordBun(ctx, s.bun, userID, keyName)
}

// DeleteKeyRecord removes the record for (userID, keyName).
func (s *MySQLStore) DeleteKeyRecord(ctx context.Context, userID, keyName string) error {
	return DeleteKeyRecordBun(ctx, s.bun, userID, keyName)
}

// InsertSession inserts a new execution session row.
func (s *MySQLStore) InsertSession(ctx context.Context, sess model.ExecutionSession, encryptedToken string) error {
	return InsertSessionBun(ctx, s.bun, sess, encryptedToken)
}

// RevokeSession marks one session row revoked.
func (s *MySQLStore) RevokeSession(ctx context.Context, id string) error {
	return RevokeSessionBun(ctx, s.bun, id)
}

// RevokeAllSessions marks every session row for the user revoked.
func (s *MySQLStore) RevokeAllSessions(ctx context.Context, userID string) error {
	return RevokeAllSessionsBun(ctx, s.bun, userID)
}

// ActiveSession returns the authoritative session for the user, if any.
func (s *MySQLStore) ActiveSession(ctx context.Context, userID string, now time.Time) (*model.ExecutionSession, error) {
	return ActiveSessionBun(ctx, s.bun, userID, now)
}

// Close releases the underlying database handle.
func (s *MySQLStore) Close() error { return s.bun.Close() }
