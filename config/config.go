// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the YAML run configuration of the acquisition
// processes.
package config // import "github.com/go-lpc/dso/config"

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-lpc/dso/scope"
	"github.com/go-lpc/dso/usbio"
	"gopkg.in/yaml.v3"
)

// Config is a run configuration.
type Config struct {
	Device      Device       `yaml:"device"`
	Firmware    Firmware     `yaml:"firmware"`
	DB          string       `yaml:"db"`     // presets database name, empty to disable
	Preset      bool         `yaml:"preset"` // load the scope setup from the presets database
	Scope       scope.Config `yaml:"scope"`
	Acquisition Acquisition  `yaml:"acquisition"`
	Monitor     Monitor      `yaml:"monitor"`
	Redis       Redis        `yaml:"redis"`
	Alert       Alert        `yaml:"alert"`
}

// Device describes how to reach the oscilloscope.
type Device struct {
	Vendor        uint16        `yaml:"vendor"`
	Product       uint16        `yaml:"product"`
	Backend       string        `yaml:"backend"` // usb or ftdi
	Timeout       time.Duration `yaml:"timeout"`
	Configuration int           `yaml:"configuration"`
	Interface     int           `yaml:"interface"`
}

// Filter returns the USB filter selecting the device.
func (dev Device) Filter() usbio.Filter {
	return usbio.Filter{Vendor: dev.Vendor, Product: dev.Product}
}

// Firmware locates the front-end image.
type Firmware struct {
	File  string `yaml:"file"`  // image file
	Name  string `yaml:"name"`  // image name in the presets database
	Chunk int    `yaml:"chunk"` // bulk write size used during upload
}

// Acquisition bounds an acquisition run.
type Acquisition struct {
	Cycles int `yaml:"cycles"` // number of cycles, 0 runs until stopped
}

// Monitor configures the metrics endpoint.
type Monitor struct {
	Addr string `yaml:"addr"` // empty to disable
}

// Redis configures the live sample publisher.
type Redis struct {
	Addr     string `yaml:"addr"` // empty to disable
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// Alert configures e-mail alerts on acquisition failures.
type Alert struct {
	Enabled bool   `yaml:"enabled"`
	Subject string `yaml:"subject"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Device: Device{
			Vendor:        0x04b4,
			Product:       0x2090,
			Backend:       "usb",
			Timeout:       5 * time.Second,
			Configuration: 1,
			Interface:     0,
		},
		Firmware: Firmware{
			Chunk: 64,
		},
		Scope: scope.Config{
			Channels: []scope.ChannelConfig{
				{Channel: scope.CH1, Enabled: true, Range: 5, Coupling: scope.DC},
			},
			Timebase: scope.TB1M,
			Trigger: scope.TriggerConfig{
				Source: scope.SourceCH1,
				Slope:  scope.Rising,
				Mode:   scope.Single,
				Type:   scope.Edge,
			},
		},
		Redis: Redis{
			Channel: "dso:samples",
		},
		Alert: Alert{
			Subject: "[dso] acquisition failure",
		},
	}
}

// Load reads the configuration file fname on top of the default
// configuration.
func Load(fname string) (Config, error) {
	f, err := os.Open(fname)
	if err != nil {
		return Config{}, fmt.Errorf("config: could not open %q: %w", fname, err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return cfg, fmt.Errorf("config: could not load %q: %w", fname, err)
	}
	return cfg, nil
}

// Decode reads a YAML configuration on top of the default configuration.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	raw, err := io.ReadAll(r)
	if err != nil {
		return cfg, fmt.Errorf("config: could not read configuration: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	err = dec.Decode(&cfg)
	if err != nil && err != io.EOF {
		return cfg, fmt.Errorf("config: could not decode configuration: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration is usable.
func (cfg Config) Validate() error {
	switch cfg.Device.Backend {
	case "usb", "ftdi":
	default:
		return fmt.Errorf("config: invalid device backend %q", cfg.Device.Backend)
	}

	if cfg.Firmware.File == "" && cfg.Firmware.Name == "" {
		return fmt.Errorf("config: missing firmware file or name")
	}
	if cfg.Firmware.Name != "" && cfg.DB == "" {
		return fmt.Errorf("config: firmware %q requires a presets database", cfg.Firmware.Name)
	}
	if cfg.Preset && cfg.DB == "" {
		return fmt.Errorf("config: presets require a presets database")
	}
	if cfg.Acquisition.Cycles < 0 {
		return fmt.Errorf("config: invalid number of cycles %d", cfg.Acquisition.Cycles)
	}

	if !cfg.Preset {
		err := cfg.Scope.Validate()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}
