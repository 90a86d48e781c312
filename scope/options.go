// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scope

import (
	"log"

	"github.com/go-lpc/dso/fpga"
	"github.com/go-lpc/dso/monitor"
)

type config struct {
	conf  int // USB configuration
	iface int // USB interface

	mon  *monitor.Metrics
	fpga []fpga.Option
}

func newConfig() config {
	return config{
		conf:  1,
		iface: 0,
	}
}

// Option configures a Session.
type Option func(s *Session)

// WithLogger sets the session logger.
func WithLogger(msg *log.Logger) Option {
	return func(s *Session) {
		s.msg = msg
	}
}

// WithConfiguration sets the USB configuration selected by Open.
func WithConfiguration(id int) Option {
	return func(s *Session) {
		s.cfg.conf = id
	}
}

// WithInterface sets the USB interface claimed by Open.
func WithInterface(id int) Option {
	return func(s *Session) {
		s.cfg.iface = id
	}
}

// WithMetrics records the session activity into m.
func WithMetrics(m *monitor.Metrics) Option {
	return func(s *Session) {
		s.cfg.mon = m
	}
}

// WithUploadOptions configures the firmware uploader.
func WithUploadOptions(opts ...fpga.Option) Option {
	return func(s *Session) {
		s.cfg.fpga = append(s.cfg.fpga, opts...)
	}
}

// SampleOption configures an acquisition run.
type SampleOption func(*sampleConfig)

type sampleConfig struct {
	stop   func() bool
	cycles int
}

// WithStop installs a predicate checked between acquisition cycles.
// The run ends when it returns true.
func WithStop(f func() bool) SampleOption {
	return func(cfg *sampleConfig) {
		cfg.stop = f
	}
}

// WithCycles bounds the number of acquisition cycles.
// A zero value runs until cancellation.
func WithCycles(n int) SampleOption {
	return func(cfg *sampleConfig) {
		cfg.cycles = n
	}
}
