// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpga

import (
	"fmt"

	"github.com/go-lpc/dso/wire"
)

// RejectedError is returned when the device refuses a download request.
type RejectedError struct {
	Status wire.Status
	Err    error
}

func (e *RejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fpga: upload rejected (status=0x%02x): %v", uint8(e.Status), e.Err)
	}
	return fmt.Sprintf("fpga: upload rejected (status=0x%02x)", uint8(e.Status))
}

func (e *RejectedError) Unwrap() error { return e.Err }

// FrameError is returned when the device does not acknowledge a frame.
type FrameError struct {
	Index  int
	Status wire.Status
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("fpga: frame %d rejected (status=0x%02x)", e.Index, uint8(e.Status))
}
