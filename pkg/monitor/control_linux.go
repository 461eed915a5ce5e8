// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build linux

package monitor

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// CreateCaptureControl creates the control file in dir, initialized to
// dormant, and maps it so toggles are plain memory writes.
func CreateCaptureControl(dir string) (*CaptureControl, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create control dir: %w", err)
	}
	path := controlPath(dir)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("create control file: %w", err)
	}
	if err := f.Truncate(controlFileSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncate control file: %w", err)
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, controlFileSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap control file: %w", err)
	}
	mem[0] = 0

	return &CaptureControl{path: path, file: f, mem: mem}, nil
}

// Enable turns capture on.
func (c *CaptureControl) Enable() error {
	c.mem[0] = 1
	return nil
}

// Disable turns capture off; the monitor program becomes pass-through.
func (c *CaptureControl) Disable() error {
	c.mem[0] = 0
	return nil
}

// Enabled returns the current capture state.
func (c *CaptureControl) Enabled() bool {
	return c.mem[0] != 0
}

// Close unmaps and closes the control file without removing it.
func (c *CaptureControl) Close() error {
	if c.mem != nil {
		unix.Munmap(c.mem)
		c.mem = nil
	}
	if c.file != nil {
		return c.file.Close()
	}
	return nil
}
