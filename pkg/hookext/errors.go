// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hookext

import "errors"

// Attach failure taxonomy. Every attach rejection wraps exactly one of
// these sentinels; callers branch with errors.Is. Detach has no failure
// outcome: once linked, a client can only complete detaching.
var (
	// ErrInvalidParameter means the attach request was malformed:
	// missing invoke entry point, missing module identity, or an attach
	// parameter of the wrong size. Caller bug.
	ErrInvalidParameter = errors.New("invalid attach parameter")

	// ErrAccessDenied means the attach-parameter exclusivity check
	// failed or the hook-specific attach callback vetoed the client.
	// Recoverable: the caller may retry with different parameters.
	ErrAccessDenied = errors.New("attach denied")

	// ErrResourceExhausted means attach-time allocation failed (for
	// example the detach work queue is gone). The caller may retry.
	ErrResourceExhausted = errors.New("resources exhausted")
)
