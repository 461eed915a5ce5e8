// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build !linux

package monitor

import (
	"fmt"
	"os"
)

// CreateCaptureControl creates the control file in dir, initialized to
// dormant. Non-Linux platforms fall back to plain file reads and
// writes instead of a shared mapping.
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
	if _, err := f.WriteAt([]byte{0}, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("init control file: %w", err)
	}

	return &CaptureControl{path: path, file: f}, nil
}

// Enable turns capture on.
func (c *CaptureControl) Enable() error {
	_, err := c.file.WriteAt([]byte{1}, 0)
	return err
}

// Disable turns capture off; the monitor program becomes pass-through.
func (c *CaptureControl) Disable() error {
	_, err := c.file.WriteAt([]byte{0}, 0)
	return err
}

// Enabled returns the current capture state.
func (c *CaptureControl) Enabled() bool {
	buf := make([]byte, 1)
	if _, err := c.file.ReadAt(buf, 0); err != nil {
		return false
	}
	return buf[0] != 0
}

// Close closes the control file without removing it.
func (c *CaptureControl) Close() error {
	if c.file != nil {
		return c.file.Close()
	}
	return nil
}
