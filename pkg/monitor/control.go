// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package monitor

import (
	"os"
	"path/filepath"
)

const (
	controlFileName = "capture"
	controlFileSize = 4096
)

// CaptureControl is a shared-memory on/off switch for event capture.
// The daemon creates a one-page file and toggles its first byte:
//   - 0 = dormant (the monitor program passes events through untouched)
//   - 1 = capturing
//
// External tooling can flip the byte without talking to the daemon;
// on Linux both sides see the change immediately through the page
// cache. Toggling never attaches or detaches the program.
type CaptureControl struct {
	path string
	file *os.File
	mem  []byte // mmap'd page on platforms that support it
}

func controlPath(dir string) string {
	return filepath.Join(dir, controlFileName)
}

// Path returns the control file path.
func (c *CaptureControl) Path() string { return c.path }

// Remove deletes the control file from disk.
func (c *CaptureControl) Remove() {
	os.Remove(c.path)
}
