// Copyright (c) 2026 Keyward Team
// Keyward - signing key custody and execution session manager
// This source code is licensed under the MIT license found in the LICENSE file.

package custody

import "time"

// Clock provides an abstraction over time.Now for testability.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
