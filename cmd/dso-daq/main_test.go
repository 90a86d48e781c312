// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-daq/tdaq"
	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/dso/conddb"
	"github.com/go-lpc/dso/config"
	"github.com/go-lpc/dso/internal/fakedso"
	"github.com/go-lpc/dso/internal/regs"
	"github.com/go-lpc/dso/scope"
	"github.com/go-lpc/dso/usbio"
)

type fakeDB struct {
	runs   []conddb.Run
	closed bool
}

func (db *fakeDB) Preset(ctx context.Context, serial string) (conddb.Preset, error) {
	return conddb.Preset{}, conddb.ErrNotFound
}

func (db *fakeDB) Firmware(ctx context.Context, name string) ([]byte, error) {
	if name != "fe-v2" {
		return nil, conddb.ErrNotFound
	}
	return make([]byte, 100), nil
}

func (db *fakeDB) LogRun(ctx context.Context, run conddb.Run) error {
	db.runs = append(db.runs, run)
	return nil
}

func (db *fakeDB) Close() error {
	db.closed = true
	return nil
}

func newTestServer(dev *fakedso.Device, db *fakeDB) *server {
	srv := newServer("")
	srv.msg = log.New(io.Discard, "", 0)
	srv.newTransport = func(config.Device) (usbio.Transport, error) {
		return dev, nil
	}
	srv.openDB = func(name string) (runDB, error) {
		if name != "dsodb" {
			return nil, fmt.Errorf("unknown db %q", name)
		}
		return db, nil
	}
	return srv
}

func newContext() tdaq.Context {
	return tdaq.Context{
		Ctx: context.Background(),
		Msg: tlog.NewMsgStream("dso-daq", tlog.LvlError, io.Discard),
	}
}

// decode unpacks a frame packed with encode.
func decode(p []byte) (scope.Samples, error) {
	if len(p) < 5 {
		return scope.Samples{}, fmt.Errorf("short frame (len=%d)", len(p))
	}
	n := int(binary.LittleEndian.Uint32(p[1:]))
	if len(p) != 5+8*n {
		return scope.Samples{}, fmt.Errorf("invalid frame size (len=%d, n=%d)", len(p), n)
	}
	smp := scope.Samples{
		Channel: p[0],
		Volts:   make([]float64, n),
	}
	for i := range smp.Volts {
		smp.Volts[i] = math.Float64frombits(binary.LittleEndian.Uint64(p[5+8*i:]))
	}
	return smp, nil
}

func TestRun(t *testing.T) {
	var (
		dev = fakedso.New()
		db  = new(fakeDB)
		srv = newTestServer(dev, db)
		ctx = newContext()
	)

	cfg := []byte(`
db: dsodb
firmware:
  name: fe-v2
acquisition:
  cycles: 5
`)

	for _, tc := range []struct {
		name string
		f    func(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error
		req  tdaq.Frame
	}{
		{"/config", srv.OnConfig, tdaq.Frame{Body: cfg}},
		{"/init", srv.OnInit, tdaq.Frame{}},
		{"/start", srv.OnStart, tdaq.Frame{}},
	} {
		err := tc.f(ctx, new(tdaq.Frame), tc.req)
		if err != nil {
			t.Fatalf("could not run %s: %+v", tc.name, err)
		}
	}

	var frame tdaq.Frame
	err := srv.samples(ctx, &frame)
	if err != nil {
		t.Fatalf("could not read samples: %+v", err)
	}
	smp, err := decode(frame.Body)
	if err != nil {
		t.Fatalf("could not decode samples: %+v", err)
	}
	if got, want := smp.Channel, uint8(1); got != want {
		t.Fatalf("invalid channel: got=%d, want=%d", got, want)
	}
	if got, want := len(smp.Volts), regs.FrameSamples; got != want {
		t.Fatalf("invalid number of samples: got=%d, want=%d", got, want)
	}
	if got, want := smp.Volts[42], 1.0; got != want {
		t.Fatalf("invalid sample: got=%v, want=%v", got, want)
	}

	for _, tc := range []struct {
		name string
		f    func(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error
	}{
		{"/stop", srv.OnStop},
		{"/reset", srv.OnReset},
		{"/quit", srv.OnQuit},
	} {
		err := tc.f(ctx, new(tdaq.Frame), tdaq.Frame{})
		if err != nil {
			t.Fatalf("could not run %s: %+v", tc.name, err)
		}
	}

	if got, want := dev.Uploaded(), 100; got != want {
		t.Fatalf("invalid uploaded bytes: got=%d, want=%d", got, want)
	}
	if got, want := dev.Count(regs.DataRequest), 5; got != want {
		t.Fatalf("invalid number of cycles: got=%d, want=%d", got, want)
	}
	if !dev.Closed() {
		t.Fatalf("device should be closed")
	}
	if !db.closed {
		t.Fatalf("db should be closed")
	}
	if got, want := len(db.runs), 1; got != want {
		t.Fatalf("invalid number of logged runs: got=%d, want=%d", got, want)
	}
	run := db.runs[0]
	if got, want := run.Serial, fakedso.Serial; got != want {
		t.Fatalf("invalid serial: got=%q, want=%q", got, want)
	}
	if got, want := run.Frames, uint64(5); got != want {
		t.Fatalf("invalid frames: got=%d, want=%d", got, want)
	}
	if got, want := run.Status, "ok"; got != want {
		t.Fatalf("invalid status: got=%q, want=%q", got, want)
	}
}

func TestConfigFile(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "run.yaml")
	err := os.WriteFile(fname, []byte("firmware:\n  file: fe.bin\n"), 0644)
	if err != nil {
		t.Fatalf("could not create run file: %+v", err)
	}

	srv := newTestServer(fakedso.New(), nil)
	srv.fname = fname
	err = srv.OnConfig(newContext(), new(tdaq.Frame), tdaq.Frame{})
	if err != nil {
		t.Fatalf("could not configure server: %+v", err)
	}
	if got, want := srv.cfg.Firmware.File, "fe.bin"; got != want {
		t.Fatalf("invalid firmware file: got=%q, want=%q", got, want)
	}
}

func TestErrors(t *testing.T) {
	ctx := newContext()

	for _, tc := range []struct {
		name string
		run  func(srv *server) error
		want string
	}{
		{
			name: "no-config",
			run: func(srv *server) error {
				return srv.OnConfig(ctx, new(tdaq.Frame), tdaq.Frame{})
			},
			want: "could not load run configuration: missing run configuration",
		},
		{
			name: "bad-db",
			run: func(srv *server) error {
				body := []byte("db: other\nfirmware:\n  name: fe\n")
				return srv.OnConfig(ctx, new(tdaq.Frame), tdaq.Frame{Body: body})
			},
			want: `could not open presets db "other": unknown db "other"`,
		},
		{
			name: "start-before-init",
			run: func(srv *server) error {
				return srv.OnStart(ctx, new(tdaq.Frame), tdaq.Frame{})
			},
			want: "device not initialized",
		},
		{
			name: "stop-before-init",
			run: func(srv *server) error {
				return srv.OnStop(ctx, new(tdaq.Frame), tdaq.Frame{})
			},
			want: "device not initialized",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(fakedso.New(), new(fakeDB))
			err := tc.run(srv)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if got, want := err.Error(), tc.want; got != want {
				t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	want := scope.Samples{Channel: 2, Volts: []float64{-1, 0, 0.5, 1.25}}
	got, err := decode(encode(want))
	if err != nil {
		t.Fatalf("could not decode frame: %+v", err)
	}
	if got.Channel != want.Channel || len(got.Volts) != len(want.Volts) {
		t.Fatalf("invalid frame: got=%v, want=%v", got, want)
	}
	for i := range want.Volts {
		if got.Volts[i] != want.Volts[i] {
			t.Fatalf("invalid sample %d: got=%v, want=%v", i, got.Volts[i], want.Volts[i])
		}
	}
}
