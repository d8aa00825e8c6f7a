// Copyright (c) 2026 Keyward Team
// Keyward - signing key custody and execution session manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package localstore provides the encrypted key/value store the custody
// subsystem persists its cached state into. The store exposes only Get and
// Set; one key is used per user.
package localstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// BlobStore is the minimal contract the state store persists through.
type BlobStore interface {
	// Get returns the value for key. The second return is false when the
	// key has never been set.
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

const keyFileName = "store.key"

// keySanitizer maps store keys to safe file names.
var keySanitizer = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// FileStore is a directory-backed BlobStore encrypting each value with
// AES-256-GCM under a per-store key file. Files are created 0600 inside a
// 0700 directory.
type FileStore struct {
	dir string
	key []byte
}

// OpenFileStore opens (or initializes) the store at dir, generating the
// store key on first use.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	keyPath := filepath.Join(dir, keyFileName)
	key, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate store key: %w", err)
		}
		if err := os.WriteFile(keyPath, key, 0600); err != nil {
			return nil, fmt.Errorf("write store key: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read store key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("store key at %s has length %d, want 32", keyPath, len(key))
	}

	return &FileStore{dir: dir, key: key}, nil
}

// Get reads and decrypts the value for key. A missing file reports
// (_, false, nil).
func (s *FileStore) Get(key string) (string, bool, error) {
	raw, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	aead, err := s.aead()
	if err != nil {
		return "", false, err
	}
	if len(raw) < aead.NonceSize() {
		return "", false, fmt.Errorf("blob for %q is truncated", key)
	}
	plaintext, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], nil)
	if err != nil {
		return "", false, fmt.Errorf("decrypt blob for %q: %w", key, err)
	}
	return string(plaintext), true, nil
}

// Set encrypts and writes the value for key.
func (s *FileStore) Set(key, value string) error {
	aead, err := s.aead()
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	blob := aead.Seal(nonce, nonce, []byte(value), nil)
	return os.WriteFile(s.path(key), blob, 0600)
}

func (s *FileStore) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (s *FileStore) path(key string) string {
	safe := keySanitizer.ReplaceAllString(key, "_")
	if safe == "" || safe == keyFileName {
		safe = "k_" + hex.EncodeToString([]byte(key))
	}
	return filepath.Join(s.dir, safe+".blob")
}
