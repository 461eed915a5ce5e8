// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hookext

import (
	"bytes"
	"fmt"
)

// checkAttachParameterLocked decides whether a client with the given
// attach parameter may join the list. Policy: at most one wildcard
// subscriber, otherwise any number of subscribers with pairwise-distinct
// parameters.
//
// The wildcard comparison is byte-exact against the provider's wildcard
// sentinel. A hook whose sentinel collides with a legal exact value gets
// wildcard semantics for that value; the check does not try to infer
// intent.
//
// Caller must hold p.mu (read or write).
func (p *Provider) checkAttachParameterLocked(param []byte) error {
	if bytes.Equal(param, p.wildcard) {
		// Wildcard attach: only permitted on an empty list.
		if len(p.clients) != 0 {
			return fmt.Errorf("wildcard attach with %d client(s) present: %w",
				len(p.clients), ErrAccessDenied)
		}
		return nil
	}

	for _, c := range p.clients {
		stored := c.data
		if stored == nil {
			stored = p.wildcard
		}
		if bytes.Equal(stored, p.wildcard) {
			return fmt.Errorf("wildcard client %q already attached: %w",
				c.moduleID, ErrAccessDenied)
		}
		if bytes.Equal(stored, param) {
			return fmt.Errorf("client %q already holds this attach parameter: %w",
				c.moduleID, ErrAccessDenied)
		}
	}
	return nil
}

// CheckAttachParameter runs the exclusivity check under the provider's
// read lock. Attach runs it again under the write lock before linking,
// so callers get a fast early rejection without a validate/link race.
func (p *Provider) CheckAttachParameter(param []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.checkAttachParameterLocked(param)
}
