// Copyright (c) 2026 Keyward Team
// Keyward - signing key custody and execution session manager
// This source code is licensed under the MIT license found in the LICENSE file.

package remotestore

import (
	"database/sql"
	"time"

	"github.com/uptrace/bun"

	"github.com/keyward/keyward/internal/model"
)

// EncryptedKeyModel maps the encrypted_keys table for Bun queries.
type EncryptedKeyModel struct {
	bun.BaseModel     `bun:"table:encrypted_keys"`
	UserID            string         `bun:"user_id,pk"`
	KeyName           string         `bun:"key_name,pk"`
	EncryptedBlob     string         `bun:"encrypted_blob"`
	EncryptionSalt    string         `bun:"encryption_salt"`
	EncryptedPassword sql.NullString `bun:"encrypted_password"`
	UpdatedAt         time.Time      `bun:"updated_at"`
}

// ExecutionSessionModel maps the execution_sessions table.
type ExecutionSessionModel struct {
	bun.BaseModel         `bun:"table:execution_sessions"`
	ID                    string    `bun:"id,pk"`
	UserID                string    `bun:"user_id"`
	EncryptedSessionToken string    `bun:"encrypted_session_token"`
	CreatedAt             time.Time `bun:"created_at"`
	ExpiresAt             time.Time `bun:"expires_at"`
	Revoked               bool      `bun:"revoked"`
}

// --- Mapping helpers (centralized conversions) ---

func keyModelToModel(k EncryptedKeyModel) model.EncryptedKeyRecord {
	rec := model.EncryptedKeyRecord{
		UserID:         k.UserID,
		KeyName:        k.KeyName,
		EncryptedBlob:  k.EncryptedBlob,
		EncryptionSalt: k.EncryptionSalt,
	}
	if k.EncryptedPassword.Valid {
		pw := k.EncryptedPassword.String
		rec.EncryptedPassword = &pw
	}
	return rec
}

func sessionModelToModel(s ExecutionSessionModel) model.ExecutionSession {
	return model.ExecutionSession{
		ID:        s.ID,
		UserID:    s.UserID,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
		Active:    !s.Revoked,
	}
}
