// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package usbio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/ziutek/ftdi"
)

func TestFTDIOpen(t *testing.T) {
	dev, err := ftdiOpenImpl(0, 0)
	if err == nil {
		_ = dev.Close()
	}
}

type fakeFTDI struct {
	calls []string
	fail  string

	r bytes.Buffer
	w bytes.Buffer

	closed bool
}

func (ft *fakeFTDI) call(name string) error {
	ft.calls = append(ft.calls, name)
	if name == ft.fail {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (ft *fakeFTDI) Reset() error { return ft.call("reset") }
func (ft *fakeFTDI) SetBitmode(iomask byte, mode ftdi.Mode) error {
	return ft.call(fmt.Sprintf("bitmode-%v", mode))
}
func (ft *fakeFTDI) SetFlowControl(ftdi.FlowCtrl) error { return ft.call("flow") }
func (ft *fakeFTDI) SetLatencyTimer(int) error          { return ft.call("latency") }
func (ft *fakeFTDI) SetWriteChunkSize(int) error        { return ft.call("wchunk") }
func (ft *fakeFTDI) SetReadChunkSize(int) error         { return ft.call("rchunk") }
func (ft *fakeFTDI) PurgeBuffers() error                { return ft.call("purge") }
func (ft *fakeFTDI) Read(p []byte) (int, error)         { return ft.r.Read(p) }
func (ft *fakeFTDI) Write(p []byte) (int, error)        { return ft.w.Write(p) }
func (ft *fakeFTDI) Close() error {
	ft.closed = true
	return nil
}

func withFakeFTDI(t *testing.T, ft *fakeFTDI) {
	t.Helper()
	ftdiOpen = func(vid, pid uint16) (ftdiDevice, error) {
		return ft, nil
	}
	t.Cleanup(func() {
		ftdiOpen = ftdiOpenImpl
	})
}

func TestFTDI(t *testing.T) {
	ft := new(fakeFTDI)
	withFakeFTDI(t, ft)

	dev := NewFTDI(Filter{Vendor: 0x0403, Product: 0x6014})
	err := dev.Open()
	if err != nil {
		t.Fatalf("could not open device: %+v", err)
	}

	want := []string{
		"reset",
		fmt.Sprintf("bitmode-%v", ftdi.ModeBitbang),
		"flow", "latency", "wchunk", "rchunk",
		fmt.Sprintf("bitmode-%v", ftdi.ModeReset),
		"purge",
	}
	if got := fmt.Sprint(ft.calls); got != fmt.Sprint(want) {
		t.Fatalf("invalid init sequence:\ngot= %v\nwant=%v", got, want)
	}

	err = dev.SelectConfiguration(1)
	if err != nil {
		t.Fatalf("could not select configuration: %+v", err)
	}
	err = dev.ClaimInterface(0)
	if err != nil {
		t.Fatalf("could not claim interface: %+v", err)
	}
	if err := dev.ClaimInterface(1); err == nil {
		t.Fatalf("expected an error claiming interface 1")
	}

	eps, err := dev.Endpoints()
	if err != nil {
		t.Fatalf("could not get endpoints: %+v", err)
	}
	if eps != (Endpoints{In: FTDIIn, Out: FTDIOut}) {
		t.Fatalf("invalid endpoints: %+v", eps)
	}

	err = dev.Write(eps.Out, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}
	if !bytes.Equal(ft.w.Bytes(), []byte{1, 2, 3}) {
		t.Fatalf("invalid written data: %v", ft.w.Bytes())
	}
	if err := dev.Write(eps.In, nil); err == nil {
		t.Fatalf("expected an error writing to IN endpoint")
	}

	ft.r.Write([]byte{0x01, 0x24, 0x20})
	got, err := dev.Read(eps.In, 64)
	if err != nil {
		t.Fatalf("could not read: %+v", err)
	}
	if !bytes.Equal(got, []byte{0x01, 0x24, 0x20}) {
		t.Fatalf("invalid read data: %v", got)
	}

	_, err = dev.Read(eps.In, 64)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("invalid error: got=%v, want io.EOF", err)
	}

	err = dev.Close()
	if err != nil {
		t.Fatalf("could not close device: %+v", err)
	}
	if !ft.closed {
		t.Fatalf("device not closed")
	}
	if err := dev.Write(eps.Out, nil); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("invalid error after close: %v", err)
	}
}

func TestFTDIInitFailure(t *testing.T) {
	for _, step := range []string{"reset", "flow", "latency", "wchunk", "rchunk", "purge"} {
		t.Run(step, func(t *testing.T) {
			ft := &fakeFTDI{fail: step}
			withFakeFTDI(t, ft)

			dev := NewFTDI(Filter{Vendor: 0x0403, Product: 0x6001})
			err := dev.Open()
			if !errors.Is(err, io.ErrUnexpectedEOF) {
				t.Fatalf("invalid error: %+v", err)
			}
			if !ft.closed {
				t.Fatalf("device not closed after failed init")
			}
		})
	}
}

func TestNew(t *testing.T) {
	for _, tc := range []struct {
		backend string
		err     error
	}{
		{"usb", nil},
		{"", nil},
		{"ftdi", nil},
		{"serial", fmt.Errorf("usbio: unknown backend %q", "serial")},
	} {
		t.Run(tc.backend, func(t *testing.T) {
			_, err := New(tc.backend, Filter{})
			switch {
			case err != nil && tc.err != nil:
				if got, want := err.Error(), tc.err.Error(); got != want {
					t.Fatalf("invalid error:\ngot= %v\nwant=%v", got, want)
				}
			case err != nil && tc.err == nil:
				t.Fatalf("unexpected error: %+v", err)
			case err == nil && tc.err != nil:
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestFilterString(t *testing.T) {
	if got, want := (Filter{Vendor: 0x04b4, Product: 0x2090}).String(), "04b4:2090"; got != want {
		t.Fatalf("invalid filter: got=%q, want=%q", got, want)
	}
}

func TestListUnknownBackend(t *testing.T) {
	_, err := List("serial", Filter{})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if got, want := err.Error(), `usbio: unknown backend "serial"`; got != want {
		t.Fatalf("invalid error:\ngot= %v\nwant=%v", got, want)
	}
}
