// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dso holds code to configure and read out USB digital storage
// oscilloscopes.
//
// The device protocol lives in the wire, calib, fpga and scope packages.
// Transports are provided by usbio. The commands under cmd/ assemble
// them into acquisition processes.
package dso // import "github.com/go-lpc/dso"

import "runtime/debug"

// Version returns the version of dso and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

const root = "github.com/go-lpc/dso"

func versionOf(b *debug.BuildInfo) (version, sum string) {
	switch {
	case b == nil:
		return "", ""
	case b.Main.Path == root:
		return modVersion(&b.Main)
	}

	for _, m := range b.Deps {
		if m.Path == root {
			return modVersion(m)
		}
	}
	return "", ""
}

func modVersion(m *debug.Module) (version, sum string) {
	r := m.Replace
	switch {
	case r == nil:
		return m.Version, m.Sum
	case r.Version != "" && r.Path != "":
		return r.Path + " " + r.Version, r.Sum
	case r.Version != "":
		return r.Version, r.Sum
	case r.Path != "":
		return r.Path, r.Sum
	default:
		return m.Version + "*", ""
	}
}
