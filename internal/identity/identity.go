// Copyright (c) 2026 Keyward Team
// Keyward - signing key custody and execution session manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package identity is the boundary to the authentication provider. The
// custody subsystem never looks identity up ambiently; the provider is
// injected into every construction site.
package identity

import "errors"

// ErrNoIdentity is returned when no authenticated user identifier is
// available. Every operation that touches the remote store treats this as a
// precondition failure.
var ErrNoIdentity = errors.New("no authenticated user identity")

// Provider supplies the active user identifier.
type Provider interface {
	UserID() (string, error)
}

// Static is a fixed identity, typically sourced from configuration.
type Static string

// UserID returns the configured identifier, or ErrNoIdentity when empty.
func (s Static) UserID() (string, error) {
	if s == "" {
		return "", ErrNoIdentity
	}
	return string(s), nil
}
