// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calib

import (
	"errors"
	"fmt"
)

// ErrShortDump is returned when a flash dump is too short to hold the
// calibration table and identification strings.
var ErrShortDump = errors.New("short flash dump")

// HeaderError indicates an invalid flash header magic.
type HeaderError struct {
	Magic uint16
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("calib: invalid flash header (got=0x%04x, want=0x%04x)", e.Magic, Magic)
}

// VersionError indicates an unsupported flash layout version.
type VersionError struct {
	Version uint32
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("calib: unsupported flash version (got=%d, want=%d)", e.Version, Version)
}
