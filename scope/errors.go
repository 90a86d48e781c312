// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scope

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by every operation on a closed Session.
var ErrClosed = errors.New("scope: session closed")

// PreconditionError is returned when an operation is called out of order.
// Nothing is sent to the device.
type PreconditionError struct {
	Op    string
	State State // current state
	Need  State // minimal state required by Op
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("scope: %s requires state %v (state=%v)", e.Op, e.Need, e.State)
}

// TransportError wraps a failure of the underlying link.
// The session is closed when it occurs.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("scope: transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IdentityError is returned when the device does not report the expected
// device type.
type IdentityError struct {
	Expected uint16
	Actual   uint16
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("scope: unexpected device type (got=0x%04x, want=0x%04x)", e.Actual, e.Expected)
}

// ArmError is returned when the device rejects a write of the arm sequence.
type ArmError struct {
	Addr uint32
	Err  error
}

func (e *ArmError) Error() string {
	return fmt.Sprintf("scope: could not arm acquisition (register 0x%04x): %v", e.Addr, e.Err)
}

func (e *ArmError) Unwrap() error { return e.Err }

// ConfigError is returned when a configuration value is out of range.
// Nothing is sent to the device.
type ConfigError struct {
	Field string
	Value interface{}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("scope: invalid %s (%v)", e.Field, e.Value)
}
