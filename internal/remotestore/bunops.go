// Copyright (c) 2026 Keyward Team
// Keyward - signing key custody and execution session manager
// This source code is licensed under the MIT license found in the LICENSE file.

package remotestore

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"

	"github.com/keyward/keyward/internal/model"
)

// execRawProvider is a small interface used to accept either *bun.DB or *bun.Tx
// since both expose NewRaw(...).* methods returning *bun.RawQuery.
type execRawProvider interface {
	NewRaw(query string, args ...interface{}) *bun.RawQuery
}

// ExecRaw executes a raw SQL statement using the provided Bun DB or transaction.
func ExecRaw(ctx context.Context, exec execRawProvider, query string, args ...interface{}) (sql.Result, error) {
	return exec.NewRaw(query, args...).Exec(ctx)
}

// GetKeyRecordBun retrieves the encrypted key record for (userID, keyName).
// Returns (nil, nil) when no row exists.
func GetKeyRecordBun(ctx context.Context, bdb *bun.DB, userID, keyName string) (*model.EncryptedKeyRecord, error) {
	var km EncryptedKeyModel
	err := bdb.NewSelect().Model(&km).
		Where("user_id = ?", userID).
		Where("key_name = ?", keyName).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	m := keyModelToModel(km)
	return &m, nil
}

// DeleteKeyRecordBun removes the encrypted key record for (userID, keyName).
// Deleting an absent row is not an error.
func DeleteKeyRecordBun(ctx context.Context, bdb *bun.DB, userID, keyName string) error {
	_, err := bdb.NewDelete().Model((*EncryptedKeyModel)(nil)).
		Where("user_id = ?", userID).
		Where("key_name = ?", keyName).
		Exec(ctx)
	return err
}

// InsertSessionBun inserts a new execution session row.
func InsertSessionBun(ctx context.Context, bdb *bun.DB, sess model.ExecutionSession, encryptedToken string) error {
	sm := &ExecutionSessionModel{
		ID:                    sess.ID,
		UserID:                sess.UserID,
		EncryptedSessionToken: encryptedToken,
		CreatedAt:             sess.CreatedAt,
		ExpiresAt:             sess.ExpiresAt,
		Revoked:               !sess.Active,
	}
	_, err := bdb.NewInsert().Model(sm).Exec(ctx)
	return MapDBError(err)
}

// RevokeSessionBun marks one session row revoked.
func RevokeSessionBun(ctx context.Context, bdb *bun.DB, id string) error {
	_, err := ExecRaw(ctx, bdb, "UPDATE execution_sessions SET revoked = ? WHERE id = ?", true, id)
	return err
}

// RevokeAllSessionsBun marks every session row for the user revoked.
// Deliberately not scoped to the current session id: a full reset must not
// leave strays behind.
func RevokeAllSessionsBun(ctx context.Context, bdb *bun.DB, userID string) error {
	_, err := ExecRaw(ctx, bdb, "UPDATE execution_sessions SET revoked = ? WHERE user_id = ?", true, userID)
	return err
}

// ActiveSessionBun returns the newest non-revoked session whose expiry is
// still in the future, or (nil, nil) when none qualifies.
func ActiveSessionBun(ctx context.Context, bdb *bun.DB, userID string, now time.Time) (*model.ExecutionSession, error) {
	var sm ExecutionSessionModel
	err := bdb.NewSelect().Model(&sm).
		Where("user_id = ?", userID).
		Where("revoked = ?", false).
		Where("expires_at > ?", now).
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	m := sessionModelToModel(sm)
	return &m, nil
}
