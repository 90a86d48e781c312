// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package daq brings an oscilloscope from a run configuration to a
// configured session.
package daq // import "github.com/go-lpc/dso/internal/daq"

import (
	"context"
	"fmt"
	"os"

	"github.com/go-lpc/dso/conddb"
	"github.com/go-lpc/dso/config"
	"github.com/go-lpc/dso/fpga"
	"github.com/go-lpc/dso/scope"
	"github.com/go-lpc/dso/usbio"
)

// Presets provides stored configurations and firmware images.
type Presets interface {
	Preset(ctx context.Context, serial string) (conddb.Preset, error)
	Firmware(ctx context.Context, name string) ([]byte, error)
}

// Transport creates the transport described by the device configuration.
func Transport(dev config.Device) (usbio.Transport, error) {
	return usbio.New(dev.Backend, dev.Filter(), usbio.WithTimeout(dev.Timeout))
}

// Boot opens the device behind tr and brings it to the Configured state:
// identification, calibration, firmware upload and front-end
// configuration.
//
// When db is not nil and the configuration requests it, the scope setup
// and firmware image name are taken from the preset stored for the
// device serial number.
// On failure, the session is closed.
func Boot(ctx context.Context, tr usbio.Transport, cfg config.Config, db Presets, opts ...scope.Option) (*scope.Session, error) {
	opts = append([]scope.Option{
		scope.WithConfiguration(cfg.Device.Configuration),
		scope.WithInterface(cfg.Device.Interface),
		scope.WithUploadOptions(fpga.WithChunkSize(cfg.Firmware.Chunk)),
	}, opts...)

	sess := scope.New(tr, opts...)
	err := boot(ctx, sess, cfg, db)
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	return sess, nil
}

func boot(ctx context.Context, sess *scope.Session, cfg config.Config, db Presets) error {
	err := sess.Open()
	if err != nil {
		return fmt.Errorf("daq: could not open device %v: %w", cfg.Device.Filter(), err)
	}

	err = sess.Calibrate()
	if err != nil {
		return fmt.Errorf("daq: could not calibrate device: %w", err)
	}

	var (
		setup = cfg.Scope
		name  = cfg.Firmware.Name
	)
	if db != nil && cfg.Preset {
		preset, err := db.Preset(ctx, sess.Serial())
		if err != nil {
			return fmt.Errorf("daq: could not retrieve preset: %w", err)
		}
		setup = preset.Config
		if preset.Firmware != "" {
			name = preset.Firmware
		}
	}

	image, err := Firmware(ctx, cfg.Firmware.File, name, db)
	if err != nil {
		return err
	}

	err = sess.LoadFirmware(ctx, image)
	if err != nil {
		return fmt.Errorf("daq: could not load firmware: %w", err)
	}

	err = sess.Configure(setup)
	if err != nil {
		return fmt.Errorf("daq: could not configure device: %w", err)
	}

	return nil
}

// Firmware returns the front-end image, read from fname when not empty
// or from the presets database otherwise.
func Firmware(ctx context.Context, fname, name string, db Presets) ([]byte, error) {
	switch {
	case fname != "":
		img, err := os.ReadFile(fname)
		if err != nil {
			return nil, fmt.Errorf("daq: could not read firmware file: %w", err)
		}
		return img, nil
	case name != "" && db != nil:
		img, err := db.Firmware(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("daq: could not retrieve firmware: %w", err)
		}
		return img, nil
	default:
		return nil, fmt.Errorf("daq: no firmware image configured")
	}
}
