// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedso simulates an oscilloscope behind a usbio.Transport.
//
// The device acknowledges register writes, answers the identity, flash
// and data requests, and accepts firmware uploads. Replies and failures
// can be tuned per register or per upload frame.
package fakedso // import "github.com/go-lpc/dso/internal/fakedso"

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/go-lpc/dso/calib"
	"github.com/go-lpc/dso/internal/regs"
	"github.com/go-lpc/dso/usbio"
	"github.com/go-lpc/dso/wire"
)

const (
	BufSize = 68 // upload frame buffer size announced by the device
	Out     = 0x02
	In      = 0x81

	Serial   = "DSO2024-000042"
	Firmware = "1.07"
)

// Device is a simulated oscilloscope.
type Device struct {
	mu sync.Mutex

	Type  uint16 // device type returned by the identity query
	Dump  []byte // flash dump
	Frame []byte // sample frame returned by every data request

	Nak      map[uint32]byte // register -> status returned instead of ack
	NakFrame int             // upload frame index to reject (-1: none)

	// FailOpen, FailWrite and FailRead, when set, are returned by
	// the corresponding transport operation.
	FailOpen  error
	FailWrite error
	FailRead  error

	opened bool
	closed bool
	conf   int
	iface  int
	cmds   []wire.Frame
	queue  [][]byte

	upload struct {
		active  bool
		pending int
		buf     []byte
		bytes   int
		frames  int
	}
}

// New returns a simulated oscilloscope with a valid flash dump.
func New() *Device {
	return &Device{
		Type:     regs.DeviceTypeID,
		Dump:     MakeDump(),
		Frame:    MakeFrame(1, regs.FrameCounts),
		Nak:      make(map[uint32]byte),
		NakFrame: -1,
	}
}

var _ usbio.Transport = (*Device)(nil)

func (dev *Device) Open() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.FailOpen != nil {
		return dev.FailOpen
	}
	dev.opened = true
	dev.closed = false
	return nil
}

func (dev *Device) SelectConfiguration(id int) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.conf = id
	return nil
}

func (dev *Device) ClaimInterface(id int) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.iface = id
	return nil
}

func (dev *Device) Endpoints() (usbio.Endpoints, error) {
	return usbio.Endpoints{In: In, Out: Out}, nil
}

func (dev *Device) Close() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.closed = true
	return nil
}

func (dev *Device) Write(ep uint8, p []byte) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.FailWrite != nil {
		return dev.FailWrite
	}
	if ep != Out {
		return fmt.Errorf("fakedso: invalid OUT endpoint %d", ep)
	}

	if dev.upload.active {
		dev.uploadData(p)
		return nil
	}

	var f wire.Frame
	err := f.UnmarshalBinary(p)
	if err != nil {
		return err
	}
	dev.cmds = append(dev.cmds, f)
	dev.queue = append(dev.queue, dev.reply(f))
	return nil
}

func (dev *Device) reply(f wire.Frame) []byte {
	if st, ok := dev.Nak[f.Addr]; ok {
		return []byte{st}
	}

	switch f.Addr {
	case regs.DeviceType:
		p := []byte{byte(wire.StatusAck), 0, 0}
		binary.LittleEndian.PutUint16(p[1:], dev.Type)
		return p
	case regs.ReadFlash:
		return dev.Dump
	case regs.DataRequest:
		return dev.Frame
	case regs.FPGADownload:
		dev.upload.active = true
		dev.upload.pending = int(binary.LittleEndian.Uint32(f.Payload))
		p := []byte{byte(wire.StatusUploadReady), 0, 0, 0, 0}
		binary.LittleEndian.PutUint32(p[1:], BufSize)
		return p
	default:
		return []byte{byte(wire.StatusAck)}
	}
}

func (dev *Device) uploadData(p []byte) {
	dev.upload.buf = append(dev.upload.buf, p...)
	size := BufSize - 4
	if dev.upload.pending < size {
		size = dev.upload.pending
	}
	if len(dev.upload.buf) < 4+size {
		return
	}

	idx := int(binary.LittleEndian.Uint32(dev.upload.buf[:4]))
	dev.upload.buf = nil
	dev.upload.pending -= size
	dev.upload.frames++
	if idx == dev.NakFrame {
		dev.queue = append(dev.queue, []byte{0xee})
		dev.upload.active = false
		return
	}
	dev.upload.bytes += size
	dev.queue = append(dev.queue, []byte{byte(wire.StatusAck)})
	if dev.upload.pending == 0 {
		dev.upload.active = false
	}
}

func (dev *Device) Read(ep uint8, max int) ([]byte, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.FailRead != nil {
		return nil, dev.FailRead
	}
	if ep != In {
		return nil, fmt.Errorf("fakedso: invalid IN endpoint %d", ep)
	}
	if len(dev.queue) == 0 {
		return nil, io.EOF
	}

	p := dev.queue[0]
	dev.queue = dev.queue[1:]
	if len(p) > max {
		p = p[:max]
	}
	return p, nil
}

// Cmds returns a copy of the commands received so far.
func (dev *Device) Cmds() []wire.Frame {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return append([]wire.Frame(nil), dev.cmds...)
}

// Addrs returns the addresses of the commands received so far.
func (dev *Device) Addrs() []uint32 {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	out := make([]uint32, len(dev.cmds))
	for i, f := range dev.cmds {
		out[i] = f.Addr
	}
	return out
}

// Count returns the number of commands sent to addr.
func (dev *Device) Count(addr uint32) int {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	n := 0
	for _, f := range dev.cmds {
		if f.Addr == addr {
			n++
		}
	}
	return n
}

// Setup returns the USB configuration and interface selected by the host.
func (dev *Device) Setup() (conf, iface int) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.conf, dev.iface
}

// Frames returns the number of upload frames received.
func (dev *Device) Frames() int {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.upload.frames
}

// Uploaded returns the number of acknowledged firmware bytes.
func (dev *Device) Uploaded() int {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.upload.bytes
}

// Closed reports whether the device was closed.
func (dev *Device) Closed() bool {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.closed
}

// MakeDump creates a flash dump where the value of (field, channel, range)
// is 1000 + 20*field + 10*channel + range.
func MakeDump() []byte {
	p := make([]byte, regs.FlashDumpSize)
	binary.LittleEndian.PutUint16(p[0:], calib.Magic)
	binary.LittleEndian.PutUint32(p[2:], calib.Version)
	off := 6
	for i := 0; i < calib.NumFields*calib.NumChannels*calib.NumRanges; i++ {
		binary.LittleEndian.PutUint16(p[off:], uint16(1000+i))
		off += 2
	}
	copy(p[207:], Firmware)
	copy(p[212:], Serial)
	return p
}

// MakeFrame creates a full sample frame where every sample holds v.
func MakeFrame(ch uint8, v int16) []byte {
	p := make([]byte, regs.FrameSize)
	p[0] = ch
	for k := 0; k < regs.FrameSamples; k++ {
		off := regs.FrameOffset + k*regs.FrameStride
		binary.LittleEndian.PutUint16(p[off:], uint16(v))
	}
	return p
}
