// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package calib decodes the calibration table stored in the oscilloscope
// flash.
//
// The flash dump layout is:
//
//	[MAGIC(2, LE)=0xaa55][VERSION(4, LE)=2][60 x u16 LE calibration values]...
//	[FIRMWARE(4) @207][SERIAL(15) @212]
//
// Calibration values are stored field-major: for each field (gain,
// amplitude, compensation), for each channel, the ten voltage ranges.
package calib // import "github.com/go-lpc/dso/calib"

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/go-lpc/dso/internal/crc16"
	"golang.org/x/xerrors"
)

const (
	Magic   = 0xaa55
	Version = 2

	NumChannels = 2
	NumFields   = 3
	NumRanges   = 10

	tableOffset    = 6
	firmwareOffset = 207
	firmwareSize   = 4
	serialOffset   = 212
	serialSize     = 15

	// MinDumpSize is the smallest flash dump holding every field.
	MinDumpSize = serialOffset + serialSize
)

// Field is a calibration quantity.
type Field uint8

const (
	Gain Field = iota
	Amplitude
	Compensation
)

func (f Field) String() string {
	switch f {
	case Gain:
		return "gain"
	case Amplitude:
		return "amplitude"
	case Compensation:
		return "compensation"
	default:
		return fmt.Sprintf("field(%d)", uint8(f))
	}
}

// Table holds the per-channel, per-range calibration values.
// A Table is immutable once returned by Parse.
type Table struct {
	v [NumChannels][NumFields][NumRanges]uint16
}

// Lookup returns the calibration value for the given channel, field and
// voltage range.
func (tbl *Table) Lookup(ch int, f Field, rng int) (uint16, error) {
	switch {
	case tbl == nil:
		return 0, xerrors.Errorf("calib: calibration table not loaded")
	case ch < 0 || ch >= NumChannels:
		return 0, xerrors.Errorf("calib: invalid channel %d", ch)
	case f >= NumFields:
		return 0, xerrors.Errorf("calib: invalid field %v", f)
	case rng < 0 || rng >= NumRanges:
		return 0, xerrors.Errorf("calib: invalid voltage range %d", rng)
	}
	return tbl.v[ch][f][rng], nil
}

// Dump is a decoded flash dump.
type Dump struct {
	Table    *Table
	Firmware string // firmware version
	Serial   string // serial number
	CRC      uint16 // CRC-16 of the whole dump
}

// Parse decodes a flash dump.
func Parse(p []byte) (*Dump, error) {
	if len(p) < MinDumpSize {
		return nil, xerrors.Errorf("calib: invalid dump size (got=%d, want>=%d): %w", len(p), MinDumpSize, ErrShortDump)
	}

	magic := binary.LittleEndian.Uint16(p[0:2])
	if magic != Magic {
		return nil, &HeaderError{Magic: magic}
	}

	vers := binary.LittleEndian.Uint32(p[2:6])
	if vers != Version {
		return nil, &VersionError{Version: vers}
	}

	var (
		tbl = new(Table)
		off = tableOffset
	)
	for f := 0; f < NumFields; f++ {
		for ch := 0; ch < NumChannels; ch++ {
			for rng := 0; rng < NumRanges; rng++ {
				tbl.v[ch][f][rng] = binary.LittleEndian.Uint16(p[off : off+2])
				off += 2
			}
		}
	}

	return &Dump{
		Table:    tbl,
		Firmware: ascii(p[firmwareOffset : firmwareOffset+firmwareSize]),
		Serial:   ascii(p[serialOffset : serialOffset+serialSize]),
		CRC:      crc16.Checksum(p),
	}, nil
}

func ascii(p []byte) string {
	if i := bytes.IndexByte(p, 0); i >= 0 {
		p = p[:i]
	}
	return string(bytes.TrimSpace(p))
}

// Gain returns the gain value for channel ch and voltage range rng.
func (tbl *Table) Gain(ch, rng int) (uint16, error) {
	return tbl.Lookup(ch, Gain, rng)
}

// Amplitude returns the amplitude value for channel ch and voltage range rng.
func (tbl *Table) Amplitude(ch, rng int) (uint16, error) {
	return tbl.Lookup(ch, Amplitude, rng)
}

// Compensation returns the compensation value for channel ch and voltage
// range rng.
func (tbl *Table) Compensation(ch, rng int) (uint16, error) {
	return tbl.Lookup(ch, Compensation, rng)
}
