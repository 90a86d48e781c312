// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scope

import "fmt"

// State is the lifecycle stage of a Session.
type State int32

const (
	Disconnected State = iota
	Opened
	Calibrated
	FirmwareLoaded
	Configured
	Sampling
	Closed
)

var stateNames = [...]string{
	Disconnected:   "disconnected",
	Opened:         "opened",
	Calibrated:     "calibrated",
	FirmwareLoaded: "firmware-loaded",
	Configured:     "configured",
	Sampling:       "sampling",
	Closed:         "closed",
}

func (st State) String() string {
	if st < 0 || int(st) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int32(st))
	}
	return stateNames[st]
}
