// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regs holds the register map of the oscilloscope: protocol
// addresses, per-channel and per-trigger-source register tables, and the
// fixed values the vendor firmware expects.
package regs // import "github.com/go-lpc/dso/internal/regs"

// Identification and storage.
const (
	DeviceType   = 0x0002 // device-type query; reply: status(1) + type(2, LE)
	DeviceTypeID = 0x2024 // expected device type

	ReadFlash     = 0x01b0 // calibration flash dump request
	FlashDumpSize = 0x200  // bytes read back for a flash dump

	FPGADownload = 0x4000 // announces the front-end image length (u32 LE)
)

// Acquisition control.
const (
	TriggerDone  = 0x0001 // trigger-done flag, reset to 0 every cycle
	DataFinished = 0x007a // data-finished flag, reset to 0 every cycle
	DataRequest  = 0x1000 // starts streaming one sample frame

	HoldoffArg    = 0x0130
	HoldoffIndex  = 0x0131
	DeepMemory    = 0x0132
	SyncOutput    = 0x0133
	SampleTrigger = 0x0134
	PreTrigger    = 0x0135
	PostTrigger   = 0x0136
	Empty         = 0x0137

	// SlowMove is documented by the vendor but never written by the
	// reference acquisition sequence.
	SlowMove = 0x0138
)

// Front-end configuration.
const (
	PhaseFine   = 0x0018
	TriggerType = 0x0124 // shared trigger-type word (u16 LE)
	Timebase    = 0x0128 // sampling-rate code (u32 LE)
)

// Vendor magic values. Their meaning is not documented; they are written
// verbatim.
const (
	// DelayAttenuation is the bit the device requires in every channel
	// control byte.
	DelayAttenuation = 1 << 1

	// Sweep is the trigger sweep selector (bits 10-11 of the trigger word in
	// single mode).
	Sweep = 0
)

// Channel holds the registers of one analog input.
type Channel struct {
	Ctrl   uint32 // enable/coupling byte
	Gain   uint32 // calibrated gain (u16 LE)
	Offset uint32 // zero offset (u16 LE)
}

// Channels is indexed by channel number (CH1=0, CH2=1).
var Channels = [...]Channel{
	{Ctrl: 0x0110, Gain: 0x0114, Offset: 0x0118},
	{Ctrl: 0x0111, Gain: 0x0115, Offset: 0x0119},
}

// EdgeLevel is indexed by trigger source (CH1=0, CH2=1, EXT=2).
var EdgeLevel = [...]uint32{
	0x0120,
	0x0121,
	0x0122,
}

// Write is a register write with a fixed payload.
type Write struct {
	Name    string
	Addr    uint32
	Payload []byte
}

// Arm is the one-time sequence written before the first acquisition cycle.
var Arm = []Write{
	{Name: "holdoff-arg", Addr: HoldoffArg, Payload: []byte{0x00, 0x00}},
	{Name: "holdoff-index", Addr: HoldoffIndex, Payload: []byte{0x42}},
	{Name: "deep-memory", Addr: DeepMemory, Payload: []byte{0xec, 0x13}},
	{Name: "sync-output", Addr: SyncOutput, Payload: []byte{0x00}},
	{Name: "sample-trigger", Addr: SampleTrigger, Payload: []byte{0x00}},
	{Name: "pre-trigger", Addr: PreTrigger, Payload: []byte{0xf1, 0x09}},
	{Name: "post-trigger", Addr: PostTrigger, Payload: []byte{0xfb, 0x09, 0x00, 0x00}},
	{Name: "empty", Addr: Empty, Payload: []byte{0x01}},
}

// Per-cycle writes.
var (
	ResetTriggerDone  = Write{Name: "trigger-done", Addr: TriggerDone, Payload: []byte{0x00}}
	ResetDataFinished = Write{Name: "data-finished", Addr: DataFinished, Payload: []byte{0x00}}
	RequestData       = Write{Name: "data-request", Addr: DataRequest, Payload: []byte{0x05, 0x05}}
)

// Sample frame layout.
const (
	FrameSize    = 5211 // bytes per sample frame
	FrameSamples = 1275 // samples per frame
	FrameOffset  = 111  // byte offset of the first sample
	FrameStride  = 4    // bytes between consecutive samples
	FrameCounts  = 3096 // ADC counts per volt
)
