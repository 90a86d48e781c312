// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package usbio

import (
	"context"
	"fmt"
	"io"

	"github.com/google/gousb"
)

// USB is a Transport over a libusb bulk interface.
type USB struct {
	filter Filter
	cfg    config

	ctx  *gousb.Context
	dev  *gousb.Device
	conf *gousb.Config
	intf *gousb.Interface

	in  map[uint8]*gousb.InEndpoint
	out map[uint8]*gousb.OutEndpoint
}

var _ Transport = (*USB)(nil)

// NewUSB creates a new libusb transport for the first device matching
// the filter.
func NewUSB(filter Filter, opts ...Option) *USB {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &USB{
		filter: filter,
		cfg:    cfg,
		in:     make(map[uint8]*gousb.InEndpoint),
		out:    make(map[uint8]*gousb.OutEndpoint),
	}
}

func (f Filter) match(desc *gousb.DeviceDesc) bool {
	return uint16(desc.Vendor) == f.Vendor && uint16(desc.Product) == f.Product
}

func (usb *USB) Open() error {
	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(usb.filter.match)
	if err != nil && len(devs) == 0 {
		_ = ctx.Close()
		return fmt.Errorf("usbio: could not open device %v: %w", usb.filter, err)
	}
	if len(devs) == 0 {
		_ = ctx.Close()
		return fmt.Errorf("usbio: could not open device %v: %w", usb.filter, ErrNotFound)
	}
	for _, dev := range devs[1:] {
		_ = dev.Close()
	}

	dev := devs[0]
	err = dev.SetAutoDetach(true)
	if err != nil {
		_ = dev.Close()
		_ = ctx.Close()
		return fmt.Errorf("usbio: could not enable kernel driver auto-detach: %w", err)
	}

	usb.ctx = ctx
	usb.dev = dev
	return nil
}

func (usb *USB) SelectConfiguration(id int) error {
	if usb.dev == nil {
		return ErrNotOpen
	}
	conf, err := usb.dev.Config(id)
	if err != nil {
		return fmt.Errorf("usbio: could not select configuration %d: %w", id, err)
	}
	usb.conf = conf
	return nil
}

func (usb *USB) ClaimInterface(id int) error {
	if usb.conf == nil {
		return ErrNotOpen
	}
	intf, err := usb.conf.Interface(id, 0)
	if err != nil {
		return fmt.Errorf("usbio: could not claim interface %d: %w", id, err)
	}
	usb.intf = intf
	return nil
}

// Endpoints returns the first bulk IN and bulk OUT endpoints of the
// claimed interface.
func (usb *USB) Endpoints() (Endpoints, error) {
	var eps Endpoints
	if usb.intf == nil {
		return eps, ErrNotOpen
	}

	var in, out bool
	for _, desc := range usb.intf.Setting.Endpoints {
		if desc.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch desc.Direction {
		case gousb.EndpointDirectionIn:
			if in {
				continue
			}
			ep, err := usb.intf.InEndpoint(desc.Number)
			if err != nil {
				return eps, fmt.Errorf("usbio: could not open IN endpoint %d: %w", desc.Number, err)
			}
			eps.In = uint8(desc.Number)
			usb.in[eps.In] = ep
			in = true
		case gousb.EndpointDirectionOut:
			if out {
				continue
			}
			ep, err := usb.intf.OutEndpoint(desc.Number)
			if err != nil {
				return eps, fmt.Errorf("usbio: could not open OUT endpoint %d: %w", desc.Number, err)
			}
			eps.Out = uint8(desc.Number)
			usb.out[eps.Out] = ep
			out = true
		}
	}

	if !in || !out {
		return eps, fmt.Errorf("usbio: interface %v has no bulk IN/OUT endpoint pair", usb.intf)
	}
	return eps, nil
}

func (usb *USB) context() (context.Context, context.CancelFunc) {
	if usb.cfg.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), usb.cfg.timeout)
}

func (usb *USB) Write(ep uint8, p []byte) error {
	out, ok := usb.out[ep]
	if !ok {
		return fmt.Errorf("usbio: unknown OUT endpoint %d", ep)
	}

	ctx, cancel := usb.context()
	defer cancel()

	n, err := out.WriteContext(ctx, p)
	switch {
	case err != nil:
		return fmt.Errorf("usbio: could not write to endpoint %d: %w", ep, err)
	case n != len(p):
		return fmt.Errorf("usbio: could not write to endpoint %d: %w", ep, io.ErrShortWrite)
	}
	return nil
}

func (usb *USB) Read(ep uint8, max int) ([]byte, error) {
	in, ok := usb.in[ep]
	if !ok {
		return nil, fmt.Errorf("usbio: unknown IN endpoint %d", ep)
	}

	ctx, cancel := usb.context()
	defer cancel()

	buf := make([]byte, max)
	n, err := in.ReadContext(ctx, buf)
	if err != nil {
		return nil, fmt.Errorf("usbio: could not read from endpoint %d: %w", ep, err)
	}
	return buf[:n], nil
}

func (usb *USB) Close() error {
	var err error
	if usb.intf != nil {
		usb.intf.Close()
		usb.intf = nil
	}
	if usb.conf != nil {
		if e := usb.conf.Close(); e != nil && err == nil {
			err = fmt.Errorf("usbio: could not close configuration: %w", e)
		}
		usb.conf = nil
	}
	if usb.dev != nil {
		if e := usb.dev.Close(); e != nil && err == nil {
			err = fmt.Errorf("usbio: could not close device: %w", e)
		}
		usb.dev = nil
	}
	if usb.ctx != nil {
		if e := usb.ctx.Close(); e != nil && err == nil {
			err = fmt.Errorf("usbio: could not close libusb context: %w", e)
		}
		usb.ctx = nil
	}
	usb.in = make(map[uint8]*gousb.InEndpoint)
	usb.out = make(map[uint8]*gousb.OutEndpoint)
	return err
}

// ListUSB returns the devices on the bus matching the vendor ID.
// A zero vendor ID lists every device.
func ListUSB(vendor uint16) ([]DeviceInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var infos []DeviceInfo
	_, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if vendor != 0 && uint16(desc.Vendor) != vendor {
			return false
		}
		infos = append(infos, DeviceInfo{
			Filter: Filter{
				Vendor:  uint16(desc.Vendor),
				Product: uint16(desc.Product),
			},
			Description: fmt.Sprintf("bus=%d addr=%d", desc.Bus, desc.Address),
		})
		return false
	})
	if err != nil {
		return infos, fmt.Errorf("usbio: could not list devices: %w", err)
	}
	return infos, nil
}
