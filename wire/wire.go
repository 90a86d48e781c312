// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wire implements the binary command framing used to talk to the
// oscilloscope over its bulk endpoints.
//
// Every register operation is a single frame:
//
//	[ADDR(4, LE)][LEN(1)][PAYLOAD(LEN)]
//
// The device answers each frame with a response whose first byte is a
// status code, except for informational reads which have a fixed,
// address-specific layout.
package wire // import "github.com/go-lpc/dso/wire"

import (
	"encoding/binary"

	"golang.org/x/xerrors"
)

const (
	HeaderSize     = 5   // address(4) + payload length(1)
	MaxPayloadSize = 255 // payload length is a single byte
)

// Frame is a command sent to the device.
type Frame struct {
	Addr    uint32
	Payload []byte
}

// Encode packs a command frame for the register at addr.
func Encode(addr uint32, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, &EncodingError{Addr: addr, Len: len(payload)}
	}
	p := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(p[:4], addr)
	p[4] = uint8(len(payload))
	copy(p[HeaderSize:], payload)
	return p, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (f Frame) MarshalBinary() ([]byte, error) {
	return Encode(f.Addr, f.Payload)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (f *Frame) UnmarshalBinary(p []byte) error {
	if len(p) < HeaderSize {
		return xerrors.Errorf("wire: short frame header (got=%d, want=%d)", len(p), HeaderSize)
	}
	var (
		addr = binary.LittleEndian.Uint32(p[:4])
		n    = int(p[4])
	)
	if len(p) != HeaderSize+n {
		return xerrors.Errorf(
			"wire: invalid frame length for addr 0x%x (got=%d, want=%d)",
			addr, len(p), HeaderSize+n,
		)
	}
	f.Addr = addr
	f.Payload = append(f.Payload[:0], p[HeaderSize:]...)
	return nil
}

// U8 returns a single-byte payload.
func U8(v uint8) []byte { return []byte{v} }

// U16 returns a little-endian 16-bit payload.
func U16(v uint16) []byte {
	p := make([]byte, 2)
	binary.LittleEndian.PutUint16(p, v)
	return p
}

// U32 returns a little-endian 32-bit payload.
func U32(v uint32) []byte {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint32(p, v)
	return p
}
