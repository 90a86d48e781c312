// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpga

import (
	"io"
	"log"
)

type config struct {
	msg   *log.Logger
	chunk int
	prog  func(Progress)
}

func newConfig() config {
	return config{
		msg:   log.New(io.Discard, "fpga: ", 0),
		chunk: DefaultChunkSize,
	}
}

// Option configures an Uploader.
type Option func(*config)

// WithLogger sets the logger used to report the upload.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithChunkSize sets the size of the bulk writes frames are split into.
func WithChunkSize(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.chunk = n
		}
	}
}

// WithProgress installs a callback invoked after each acknowledged frame.
func WithProgress(f func(Progress)) Option {
	return func(cfg *config) {
		cfg.prog = f
	}
}
