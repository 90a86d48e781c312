// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package usbio

import (
	"fmt"
	"io"

	"github.com/ziutek/ftdi"
)

// Endpoint numbers of the FTDI bridge.
const (
	FTDIOut = 0x02
	FTDIIn  = 0x81
)

type ftdiDevice interface {
	Reset() error

	SetBitmode(iomask byte, mode ftdi.Mode) error
	SetFlowControl(flowctrl ftdi.FlowCtrl) error
	SetLatencyTimer(lt int) error
	SetWriteChunkSize(cs int) error
	SetReadChunkSize(cs int) error
	PurgeBuffers() error

	io.Writer
	io.Reader
	io.Closer
}

var (
	ftdiOpen = ftdiOpenImpl
)

func ftdiOpenImpl(vid, pid uint16) (ftdiDevice, error) {
	dev, err := ftdi.OpenFirst(int(vid), int(pid), ftdi.ChannelAny)
	return dev, err
}

// FTDI is a Transport over an FTDI USB-to-FIFO bridge.
//
// The bridge exposes a byte stream: Read returns at least one byte and
// at most the requested number of bytes.
type FTDI struct {
	filter Filter
	ft     ftdiDevice
}

var _ Transport = (*FTDI)(nil)

// NewFTDI creates a new FTDI transport for the first bridge matching
// the filter.
func NewFTDI(filter Filter, opts ...Option) *FTDI {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &FTDI{filter: filter}
}

func (dev *FTDI) Open() error {
	ft, err := ftdiOpen(dev.filter.Vendor, dev.filter.Product)
	if err != nil {
		return fmt.Errorf("usbio: could not open FTDI device %v: %w", dev.filter, err)
	}

	dev.ft = ft
	err = dev.init()
	if err != nil {
		_ = ft.Close()
		dev.ft = nil
		return fmt.Errorf("usbio: could not initialize FTDI device %v: %w", dev.filter, err)
	}

	return nil
}

func (dev *FTDI) init() error {
	var err error

	err = dev.ft.Reset()
	if err != nil {
		return fmt.Errorf("could not reset USB: %w", err)
	}

	err = dev.ft.SetBitmode(0, ftdi.ModeBitbang)
	if err != nil {
		return fmt.Errorf("could not disable bitbang: %w", err)
	}

	err = dev.ft.SetFlowControl(ftdi.FlowCtrlDisable)
	if err != nil {
		return fmt.Errorf("could not disable flow control: %w", err)
	}

	err = dev.ft.SetLatencyTimer(2)
	if err != nil {
		return fmt.Errorf("could not set latency timer to 2: %w", err)
	}

	err = dev.ft.SetWriteChunkSize(0xffff)
	if err != nil {
		return fmt.Errorf("could not set write chunk-size to 0xffff: %w", err)
	}

	err = dev.ft.SetReadChunkSize(0xffff)
	if err != nil {
		return fmt.Errorf("could not set read chunk-size to 0xffff: %w", err)
	}

	if dev.filter.Product == 0x6014 {
		err = dev.ft.SetBitmode(0, ftdi.ModeReset)
		if err != nil {
			return fmt.Errorf("could not reset bit mode: %w", err)
		}
	}

	err = dev.ft.PurgeBuffers()
	if err != nil {
		return fmt.Errorf("could not purge USB buffers: %w", err)
	}

	return nil
}

// SelectConfiguration only accepts the bridge's single configuration.
func (dev *FTDI) SelectConfiguration(id int) error {
	if dev.ft == nil {
		return ErrNotOpen
	}
	if id != 1 {
		return fmt.Errorf("usbio: invalid FTDI configuration %d", id)
	}
	return nil
}

// ClaimInterface only accepts the bridge's first interface.
func (dev *FTDI) ClaimInterface(id int) error {
	if dev.ft == nil {
		return ErrNotOpen
	}
	if id != 0 {
		return fmt.Errorf("usbio: invalid FTDI interface %d", id)
	}
	return nil
}

func (dev *FTDI) Endpoints() (Endpoints, error) {
	if dev.ft == nil {
		return Endpoints{}, ErrNotOpen
	}
	return Endpoints{In: FTDIIn, Out: FTDIOut}, nil
}

func (dev *FTDI) Write(ep uint8, p []byte) error {
	switch {
	case dev.ft == nil:
		return ErrNotOpen
	case ep != FTDIOut:
		return fmt.Errorf("usbio: unknown OUT endpoint %d", ep)
	}

	n, err := dev.ft.Write(p)
	switch {
	case err != nil:
		return fmt.Errorf("usbio: could not write to endpoint %d: %w", ep, err)
	case n != len(p):
		return fmt.Errorf("usbio: could not write to endpoint %d: %w", ep, io.ErrShortWrite)
	}
	return nil
}

func (dev *FTDI) Read(ep uint8, max int) ([]byte, error) {
	switch {
	case dev.ft == nil:
		return nil, ErrNotOpen
	case ep != FTDIIn:
		return nil, fmt.Errorf("usbio: unknown IN endpoint %d", ep)
	}

	buf := make([]byte, max)
	n, err := io.ReadAtLeast(dev.ft, buf, 1)
	if err != nil {
		return nil, fmt.Errorf("usbio: could not read from endpoint %d: %w", ep, err)
	}
	return buf[:n], nil
}

func (dev *FTDI) Close() error {
	if dev.ft == nil {
		return nil
	}
	err := dev.ft.Close()
	dev.ft = nil
	if err != nil {
		return fmt.Errorf("usbio: could not close FTDI device %v: %w", dev.filter, err)
	}
	return nil
}

// ListFTDI returns the FTDI bridges with the given vendor ID.
func ListFTDI(vendor uint16, products ...uint16) ([]DeviceInfo, error) {
	var devs []DeviceInfo

	if len(products) == 0 {
		products = []uint16{
			0x6001, // usb-1
			0x6014, // usb-2
		}
	}

	for _, pid := range products {
		lst, err := ftdi.FindAll(int(vendor), int(pid))
		if err != nil {
			continue
		}
		for _, dev := range lst {
			devs = append(devs, DeviceInfo{
				Filter:      Filter{Vendor: vendor, Product: pid},
				Serial:      dev.Serial,
				Description: dev.Description,
			})
			dev.Close()
		}
	}

	return devs, nil
}
