// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scope drives a USB oscilloscope: device identification,
// calibration, front-end programming, configuration and acquisition.
//
// A Session walks through the following states:
//
//	Disconnected -> Opened -> Calibrated -> FirmwareLoaded -> Configured <-> Sampling
//
// and ends in the Closed state. Operations called out of order fail with
// a PreconditionError without talking to the device.
package scope // import "github.com/go-lpc/dso/scope"

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-lpc/dso/calib"
	"github.com/go-lpc/dso/fpga"
	"github.com/go-lpc/dso/internal/regs"
	"github.com/go-lpc/dso/usbio"
	"github.com/go-lpc/dso/wire"
	"golang.org/x/sync/errgroup"
)

// respSize is the read size used for register write replies.
const respSize = 64

// Session is a connection to one oscilloscope.
//
// Operations are serialized: an acquisition run holds the session until
// it ends.
type Session struct {
	mu  sync.Mutex
	tr  usbio.Transport
	msg *log.Logger
	cfg config

	state atomic.Int32
	eps   usbio.Endpoints
	dump  atomic.Pointer[calib.Dump] // set once by Calibrate

	frame Samples // last decoded frame

	stats struct {
		cycles atomic.Uint64
		frames atomic.Uint64
		bytes  atomic.Uint64
	}

	run struct {
		mu     sync.Mutex
		grp    *errgroup.Group
		cancel context.CancelFunc
		done   chan struct{} // closed when the run returns
	}
}

// New creates a new session over the provided transport.
// The transport is opened by Session.Open.
func New(tr usbio.Transport, opts ...Option) *Session {
	s := &Session{
		tr:  tr,
		msg: log.New(os.Stdout, "dso: ", 0),
		cfg: newConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setState(Disconnected)
	return s
}

// State returns the current state of the session.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.cfg.mon.State(int(st))
}

// Firmware returns the firmware version read from the device flash.
func (s *Session) Firmware() string {
	dump := s.dump.Load()
	if dump == nil {
		return ""
	}
	return dump.Firmware
}

// Serial returns the serial number read from the device flash.
func (s *Session) Serial() string {
	dump := s.dump.Load()
	if dump == nil {
		return ""
	}
	return dump.Serial
}

// Calibration returns the calibration table, or nil before Calibrate.
func (s *Session) Calibration() *calib.Table {
	dump := s.dump.Load()
	if dump == nil {
		return nil
	}
	return dump.Table
}

// Stats holds acquisition counters.
type Stats struct {
	Cycles uint64 // completed acquisition cycles
	Frames uint64 // decoded sample frames
	Bytes  uint64 // raw sample frame bytes
}

// Stats returns the acquisition counters of the session.
func (s *Session) Stats() Stats {
	return Stats{
		Cycles: s.stats.cycles.Load(),
		Frames: s.stats.frames.Load(),
		Bytes:  s.stats.bytes.Load(),
	}
}

// check verifies the session is in one of the states allowed for op.
func (s *Session) check(op string, allowed ...State) error {
	st := s.State()
	if st == Closed {
		return ErrClosed
	}
	for _, v := range allowed {
		if st == v {
			return nil
		}
	}
	return &PreconditionError{Op: op, State: st, Need: allowed[0]}
}

// Open opens the transport, claims the device interface and checks the
// device identity.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check("open", Disconnected)
	if err != nil {
		return err
	}

	err = s.tr.Open()
	if err != nil {
		return s.fail("open", err)
	}

	err = s.tr.SelectConfiguration(s.cfg.conf)
	if err != nil {
		return s.fail("select-configuration", err)
	}

	err = s.tr.ClaimInterface(s.cfg.iface)
	if err != nil {
		return s.fail("claim-interface", err)
	}

	s.eps, err = s.tr.Endpoints()
	if err != nil {
		return s.fail("endpoints", err)
	}

	typ, err := s.identify()
	if err != nil {
		var terr *TransportError
		if !errors.As(err, &terr) {
			_ = s.tr.Close()
		}
		return err
	}

	s.msg.Printf("opened device type=0x%04x (in=0x%02x, out=0x%02x)", typ, s.eps.In, s.eps.Out)
	s.setState(Opened)
	return nil
}

func (s *Session) identify() (uint16, error) {
	resp, err := s.request("device-type", regs.DeviceType, nil, respSize)
	if err != nil {
		return 0, err
	}

	err = wire.Expect(regs.DeviceType, resp, wire.StatusAck)
	if err != nil {
		return 0, fmt.Errorf("scope: could not query device type: %w", err)
	}
	if len(resp) < 3 {
		return 0, fmt.Errorf("scope: short device type reply (got=%d, want=3)", len(resp))
	}

	typ := binary.LittleEndian.Uint16(resp[1:3])
	if typ != regs.DeviceTypeID {
		return typ, &IdentityError{Expected: regs.DeviceTypeID, Actual: typ}
	}
	return typ, nil
}

// Calibrate reads the calibration table from the device flash.
func (s *Session) Calibrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check("calibrate", Opened)
	if err != nil {
		return err
	}

	err = s.sendCmd("read-flash", regs.ReadFlash, nil)
	if err != nil {
		return err
	}

	raw, err := s.recvAtLeast("read-flash", calib.MinDumpSize, regs.FlashDumpSize)
	if err != nil {
		return err
	}

	dump, err := calib.Parse(raw)
	if err != nil {
		s.cfg.mon.Error("calibration")
		return fmt.Errorf("scope: could not load calibration: %w", err)
	}

	s.dump.Store(dump)
	s.msg.Printf(
		"calibration loaded (firmware=%q, serial=%q, crc=0x%04x)",
		dump.Firmware, dump.Serial, dump.CRC,
	)
	s.setState(Calibrated)
	return nil
}

// LoadFirmware programs the front-end with the provided image.
//
// A failed upload leaves the front-end in an unknown state: the whole
// image must be uploaded again.
func (s *Session) LoadFirmware(ctx context.Context, image []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check("load-firmware", Calibrated)
	if err != nil {
		return err
	}

	var acked int
	opts := append([]fpga.Option{
		fpga.WithLogger(s.msg),
		fpga.WithProgress(func(p fpga.Progress) {
			s.cfg.mon.Upload(p.Bytes - acked)
			acked = p.Bytes
		}),
	}, s.cfg.fpga...)

	err = fpga.New(conn{s}, opts...).Upload(ctx, image)
	if err != nil {
		var terr *TransportError
		if errors.As(err, &terr) {
			s.cfg.mon.Error("transport")
			_ = s.closeTransport()
			return err
		}
		s.cfg.mon.Error("upload")
		return err
	}

	s.setState(FirmwareLoaded)
	return nil
}

// Close stops any acquisition run and releases the device.
// A closed session cannot be reopened.
func (s *Session) Close() error {
	s.run.mu.Lock()
	if s.run.grp != nil {
		err := s.reap()
		if err != nil {
			s.msg.Printf("acquisition run failed: %+v", err)
		}
	}
	s.run.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == Closed {
		return nil
	}
	err := s.closeTransport()
	if err != nil {
		return fmt.Errorf("scope: could not close transport: %w", err)
	}
	return nil
}

func (s *Session) closeTransport() error {
	if s.State() == Closed {
		return nil
	}
	s.setState(Closed)
	return s.tr.Close()
}

// fail closes the session after a transport failure.
func (s *Session) fail(op string, err error) error {
	s.cfg.mon.Error("transport")
	_ = s.closeTransport()
	return &TransportError{Op: op, Err: err}
}

func (s *Session) sendCmd(op string, addr uint32, payload []byte) error {
	p, err := wire.Encode(addr, payload)
	if err != nil {
		return fmt.Errorf("scope: could not encode %s: %w", op, err)
	}
	err = s.tr.Write(s.eps.Out, p)
	if err != nil {
		return s.fail(op, err)
	}
	return nil
}

func (s *Session) recv(op string, max int) ([]byte, error) {
	p, err := s.tr.Read(s.eps.In, max)
	if err != nil {
		return nil, s.fail(op, err)
	}
	return p, nil
}

// recvAtLeast reads until at least min bytes have been received.
func (s *Session) recvAtLeast(op string, min, max int) ([]byte, error) {
	buf := make([]byte, 0, max)
	for len(buf) < min {
		p, err := s.recv(op, max-len(buf))
		if err != nil {
			return nil, err
		}
		if len(p) == 0 {
			break
		}
		buf = append(buf, p...)
	}
	return buf, nil
}

func (s *Session) request(op string, addr uint32, payload []byte, max int) ([]byte, error) {
	err := s.sendCmd(op, addr, payload)
	if err != nil {
		return nil, err
	}
	return s.recv(op, max)
}

// write sends a register write and checks it is acknowledged.
func (s *Session) write(op string, addr uint32, payload []byte) error {
	resp, err := s.request(op, addr, payload, respSize)
	if err != nil {
		return err
	}

	st, _ := wire.DecodeStatus(resp)
	s.cfg.mon.Write(st.String())

	err = wire.Expect(addr, resp, wire.StatusAck)
	if err != nil {
		s.cfg.mon.Error("protocol")
		return fmt.Errorf("scope: could not write %s: %w", op, err)
	}
	return nil
}

// conn adapts a session to the firmware uploader link.
type conn struct {
	s *Session
}

func (c conn) Send(p []byte) error {
	err := c.s.tr.Write(c.s.eps.Out, p)
	if err != nil {
		return &TransportError{Op: "upload", Err: err}
	}
	return nil
}

func (c conn) Recv(max int) ([]byte, error) {
	p, err := c.s.tr.Read(c.s.eps.In, max)
	if err != nil {
		return nil, &TransportError{Op: "upload", Err: err}
	}
	return p, nil
}
