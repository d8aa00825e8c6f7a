// Copyright (c) 2026 Keyward Team
// Keyward - signing key custody and execution session manager
// This source code is licensed under the MIT license found in the LICENSE file.

package model

// TierInfo carries the static, descriptive metadata for one custody tier.
// Downstream UI and tests depend on the exact field values, so the registry
// below is fixed data and must not be derived at runtime.
type TierInfo struct {
	Tier                       SecurityTier
	Label                      string
	Description                string
	SecurityLevel              int
	ExecutionUnattended        bool
	RequiresForegroundPresence bool
}

// tierRegistry is the static Tier -> TierInfo lookup table. Security levels
// run 3 (most restrictive custody) down to 1 (least restrictive).
var tierRegistry = map[SecurityTier]TierInfo{
	TierLocal: {
		Tier:                       TierLocal,
		Label:                      "Local",
		Description:                "Key material never leaves this device. Operations require the user present with a foreground session open.",
		SecurityLevel:              3,
		ExecutionUnattended:        false,
		RequiresForegroundPresence: true,
	},
	TierSession: {
		Tier:                       TierSession,
		Label:                      "Session",
		Description:                "Encrypted key material is held remotely under a time-boxed, revocable execution session for unattended operation.",
		SecurityLevel:              2,
		ExecutionUnattended:        true,
		RequiresForegroundPresence: false,
	},
	TierPersistent: {
		Tier:                       TierPersistent,
		Label:                      "Persistent",
		Description:                "Encrypted key material and sealed password are held remotely, allowing 24/7 unattended operation with no open session.",
		SecurityLevel:              1,
		ExecutionUnattended:        true,
		RequiresForegroundPresence: false,
	},
}

// InfoFor returns the registry entry for a tier. Unknown tiers map to the
// local entry, the most restrictive interpretation.
func InfoFor(t SecurityTier) TierInfo {
	if info, ok := tierRegistry[t]; ok {
		return info
	}
	return tierRegistry[TierLocal]
}

// AllTiers returns the three tiers ordered by descending security level.
func AllTiers() []TierInfo {
	return []TierInfo{tierRegistry[TierLocal], tierRegistry[TierSession], tierRegistry[TierPersistent]}
}
