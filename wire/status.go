// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

import "fmt"

// Status is the first byte of a register-write response.
type Status uint8

const (
	StatusAck         Status = 0x01 // register write accepted
	StatusUploadReady Status = 0x02 // device accepts a front-end image
)

func (st Status) String() string {
	switch st {
	case StatusAck:
		return "ack"
	case StatusUploadReady:
		return "upload-ready"
	default:
		return fmt.Sprintf("status(0x%02x)", uint8(st))
	}
}

// DecodeStatus returns the status byte of a response.
func DecodeStatus(resp []byte) (Status, error) {
	if len(resp) == 0 {
		return 0, ErrEmptyResponse
	}
	return Status(resp[0]), nil
}

// Expect checks that resp, read back after a write to addr, carries the
// want status.
func Expect(addr uint32, resp []byte, want Status) error {
	got, err := DecodeStatus(resp)
	if err != nil {
		return fmt.Errorf("wire: register 0x%x: %w", addr, err)
	}
	if got != want {
		return &UnexpectedResponseError{Addr: addr, Expected: want, Actual: got}
	}
	return nil
}
