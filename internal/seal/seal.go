// Copyright (c) 2026 Keyward Team
// Keyward - signing key custody and execution session manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package seal implements the two symmetric sealing routines that produce
// the persisted session-token and persistent-password blobs. Both byte
// layouts are load-bearing: stored blobs must remain decodable across
// releases, so neither routine may be changed without a format migration.
//
// SECURITY REVIEW REQUIRED: both routines reproduce the persisted format of
// the system they replace, including its weaknesses. The session token
// embeds the raw AES key in the same blob it decrypts, and the persistent
// password key is derived from fixed, code-embedded inputs. Neither provides
// real confidentiality against a reader of the stored blob; production
// hardening needs a server-held secret and a format version bump.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/keyward/keyward/internal/security"
)

const (
	keyLen   = 32 // AES-256
	nonceLen = 12 // GCM standard nonce size

	// Fixed derivation inputs for the persistent-password routine. These are
	// deliberately not user- or server-specific; see the package comment.
	persistentKeyInput  = "keyward-persistent-password-v1"
	persistentSaltLabel = "keyward-password-salt-v1"
	persistentIter      = 100_000
)

// ErrCrypto marks failures of the underlying cryptographic primitives or a
// malformed/tampered blob. Callers classify with errors.Is.
var ErrCrypto = errors.New("sealing primitive failure")

// SessionTokenPayload is the plaintext sealed into a session token.
// ExpiresAt is unix milliseconds.
type SessionTokenPayload struct {
	UserID    string `json:"userId"`
	Password  string `json:"password"`
	ExpiresAt int64  `json:"expiresAt"`
}

// SealSessionToken seals {userId, password, expiresAt} under a fresh random
// AES-256-GCM key and serializes nonce ‖ ciphertext ‖ raw key, base64
// encoded. The key rides along with the ciphertext on purpose: the stored
// token format requires it (see the package comment).
func SealSessionToken(userID string, password security.Secret, expiresAt time.Time) (string, error) {
	payload, err := json.Marshal(SessionTokenPayload{
		UserID:    userID,
		Password:  string(password.Bytes()),
		ExpiresAt: expiresAt.UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode payload: %v", ErrCrypto, err)
	}

	key := make([]byte, keyLen)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("%w: generate key: %v", ErrCrypto, err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: generate nonce: %v", ErrCrypto, err)
	}

	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}
	ciphertext := aead.Seal(nil, nonce, payload, nil)

	blob := make([]byte, 0, nonceLen+len(ciphertext)+keyLen)
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)
	blob = append(blob, key...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// UnsealSessionToken decodes a token produced by SealSessionToken and
// recovers its payload.
func UnsealSessionToken(token string) (*SessionTokenPayload, error) {
	blob, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: decode token: %v", ErrCrypto, err)
	}
	// Minimum: nonce + GCM tag + trailing key.
	if len(blob) < nonceLen+16+keyLen {
		return nil, fmt.Errorf("%w: token too short", ErrCrypto)
	}

	nonce := blob[:nonceLen]
	key := blob[len(blob)-keyLen:]
	ciphertext := blob[nonceLen : len(blob)-keyLen]

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	payload, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open token: %v", ErrCrypto, err)
	}

	var p SessionTokenPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", ErrCrypto, err)
	}
	return &p, nil
}

// SealPersistentPassword seals a password under a key derived with
// PBKDF2-HMAC-SHA256 (100,000 iterations) from the fixed code-embedded
// inputs above, and serializes nonce ‖ ciphertext, base64 encoded.
func SealPersistentPassword(password security.Secret) (string, error) {
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: generate nonce: %v", ErrCrypto, err)
	}

	aead, err := newGCM(persistentKey())
	if err != nil {
		return "", err
	}
	ciphertext := aead.Seal(nil, nonce, password.Bytes(), nil)

	blob := make([]byte, 0, nonceLen+len(ciphertext))
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// UnsealPersistentPassword decodes a blob produced by SealPersistentPassword
// and recovers the original password bytes.
func UnsealPersistentPassword(blob string) (security.Secret, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: decode blob: %v", ErrCrypto, err)
	}
	if len(raw) < nonceLen+16 {
		return nil, fmt.Errorf("%w: blob too short", ErrCrypto)
	}

	aead, err := newGCM(persistentKey())
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, raw[:nonceLen], raw[nonceLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open blob: %v", ErrCrypto, err)
	}
	return security.FromBytes(plaintext), nil
}

func persistentKey() []byte {
	return pbkdf2.Key([]byte(persistentKeyInput), []byte(persistentSaltLabel), persistentIter, keyLen, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return aead, nil
}
