// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package usbio provides the bulk-transfer links used to talk to the
// oscilloscope.
//
// Two backends are available: a native USB backend built on libusb
// (NewUSB) and an FTDI bridge backend (NewFTDI).
package usbio // import "github.com/go-lpc/dso/usbio"

import (
	"errors"
	"fmt"
	"time"
)

// Transport is a half-duplex bulk link to a device.
type Transport interface {
	Open() error
	SelectConfiguration(id int) error
	ClaimInterface(id int) error
	Endpoints() (Endpoints, error)
	Write(ep uint8, p []byte) error
	Read(ep uint8, max int) ([]byte, error)
	Close() error
}

// Endpoints holds the bulk endpoint numbers of the claimed interface.
type Endpoints struct {
	In  uint8
	Out uint8
}

// Filter selects a device by vendor and product IDs.
type Filter struct {
	Vendor  uint16
	Product uint16
}

func (f Filter) String() string {
	return fmt.Sprintf("%04x:%04x", f.Vendor, f.Product)
}

// DeviceInfo describes a device found on the bus.
type DeviceInfo struct {
	Filter
	Serial      string
	Description string
}

var (
	// ErrNotFound is returned when no device matches a filter.
	ErrNotFound = errors.New("usbio: no matching device")

	// ErrNotOpen is returned when the transport is used before Open.
	ErrNotOpen = errors.New("usbio: transport not open")
)

// Option configures a Transport backend.
type Option func(*config)

type config struct {
	timeout time.Duration
}

func newConfig() config {
	return config{timeout: 5 * time.Second}
}

// WithTimeout sets the timeout of a single bulk transfer.
// A zero timeout blocks until the transfer completes.
func WithTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timeout = d
	}
}

// New creates a transport for the named backend ("usb" or "ftdi").
func New(backend string, filter Filter, opts ...Option) (Transport, error) {
	switch backend {
	case "usb", "":
		return NewUSB(filter, opts...), nil
	case "ftdi":
		return NewFTDI(filter, opts...), nil
	default:
		return nil, fmt.Errorf("usbio: unknown backend %q", backend)
	}
}

// List returns the devices reachable through the named backend.
func List(backend string, filter Filter) ([]DeviceInfo, error) {
	switch backend {
	case "usb", "":
		return ListUSB(filter.Vendor)
	case "ftdi":
		return ListFTDI(filter.Vendor, filter.Product)
	default:
		return nil, fmt.Errorf("usbio: unknown backend %q", backend)
	}
}
