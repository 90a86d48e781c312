// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

import (
	"errors"
	"fmt"
)

// ErrEmptyResponse is returned when the device sent back no bytes where a
// status was expected.
var ErrEmptyResponse = errors.New("wire: empty response")

// EncodingError indicates an outgoing payload that does not fit in a frame.
type EncodingError struct {
	Addr uint32
	Len  int
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("wire: payload for register 0x%x too large (len=%d, max=%d)",
		e.Addr, e.Len, MaxPayloadSize,
	)
}

// UnexpectedResponseError indicates a status byte mismatch.
type UnexpectedResponseError struct {
	Addr     uint32
	Expected Status
	Actual   Status
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("wire: unexpected response for register 0x%x (got=0x%02x, want=0x%02x)",
		e.Addr, uint8(e.Actual), uint8(e.Expected),
	)
}
