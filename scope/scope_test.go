// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scope

import (
	"context"
	"errors"
	"io"
	"log"
	"reflect"
	"testing"
	"time"

	"github.com/go-lpc/dso/fpga"
	"github.com/go-lpc/dso/internal/fakedso"
	"github.com/go-lpc/dso/internal/regs"
	"github.com/go-lpc/dso/monitor"
	"github.com/go-lpc/dso/wire"
)

var discard = WithLogger(log.New(io.Discard, "", 0))

func testConfig() Config {
	return Config{
		Channels: []ChannelConfig{
			{Channel: CH1, Enabled: true, Range: 2, Coupling: DC},
			{Channel: CH2, Enabled: false, Range: 0, Coupling: AC},
		},
		Timebase: TB1M,
		Trigger: TriggerConfig{
			Source: SourceCH1,
			Slope:  Rising,
			Mode:   Single,
			Type:   Edge,
			Level:  50,
		},
	}
}

// newSession returns a session brought up to the requested state.
func newSession(t *testing.T, dev *fakedso.Device, st State, opts ...Option) *Session {
	t.Helper()
	s := New(dev, append([]Option{discard}, opts...)...)

	steps := []struct {
		st State
		f  func() error
	}{
		{Opened, s.Open},
		{Calibrated, s.Calibrate},
		{FirmwareLoaded, func() error { return s.LoadFirmware(context.Background(), make([]byte, 100)) }},
		{Configured, func() error { return s.Configure(testConfig()) }},
	}
	for _, step := range steps {
		if step.st > st {
			break
		}
		err := step.f()
		if err != nil {
			t.Fatalf("could not reach state %v: %+v", step.st, err)
		}
		if got := s.State(); got != step.st {
			t.Fatalf("invalid state: got=%v, want=%v", got, step.st)
		}
	}
	return s
}

func TestSession(t *testing.T) {
	dev := fakedso.New()
	mon := monitor.New()
	s := newSession(t, dev, Configured, WithMetrics(mon))
	defer s.Close()

	if conf, iface := dev.Setup(); conf != 1 || iface != 0 {
		t.Fatalf("invalid USB setup: conf=%d, iface=%d", conf, iface)
	}
	if got, want := s.Firmware(), "1.07"; got != want {
		t.Fatalf("invalid firmware: got=%q, want=%q", got, want)
	}
	if got, want := s.Serial(), "DSO2024-000042"; got != want {
		t.Fatalf("invalid serial: got=%q, want=%q", got, want)
	}
	if s.Calibration() == nil {
		t.Fatalf("missing calibration table")
	}
	if got, want := dev.Frames(), 2; got != want {
		t.Fatalf("invalid number of upload frames: got=%d, want=%d", got, want)
	}

	want := []uint32{
		regs.DeviceType,
		regs.ReadFlash,
		regs.FPGADownload,
		regs.PhaseFine,
		regs.Channels[0].Ctrl, regs.Channels[0].Gain, regs.Channels[0].Offset,
		regs.Channels[1].Ctrl, regs.Channels[1].Gain, regs.Channels[1].Offset,
		regs.Timebase,
		regs.EdgeLevel[0],
		regs.TriggerType,
	}
	if got := dev.Addrs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid command sequence:\ngot= %x\nwant=%x", got, want)
	}

	var frames []Samples
	err := s.Sample(context.Background(), func(smp Samples) {
		frames = append(frames, smp)
	}, WithCycles(3))
	if err != nil {
		t.Fatalf("could not sample: %+v", err)
	}
	if got, want := s.State(), Configured; got != want {
		t.Fatalf("invalid state after sampling: got=%v, want=%v", got, want)
	}
	if got, want := len(frames), 3; got != want {
		t.Fatalf("invalid number of frames: got=%d, want=%d", got, want)
	}
	for _, smp := range frames {
		if smp.Channel != 1 || len(smp.Volts) != regs.FrameSamples {
			t.Fatalf("invalid frame: ch=%d, n=%d", smp.Channel, len(smp.Volts))
		}
		if smp.Volts[0] != 1 || smp.Volts[regs.FrameSamples-1] != 1 {
			t.Fatalf("invalid samples: %v...%v", smp.Volts[0], smp.Volts[regs.FrameSamples-1])
		}
	}

	// arm sequence, then 3 cycles of (trigger-done, data-finished, data-request).
	addrs := dev.Addrs()[len(want):]
	var seq []uint32
	for _, w := range regs.Arm {
		seq = append(seq, w.Addr)
	}
	for i := 0; i < 3; i++ {
		seq = append(seq, regs.TriggerDone, regs.DataFinished, regs.DataRequest)
	}
	if !reflect.DeepEqual(addrs, seq) {
		t.Fatalf("invalid acquisition sequence:\ngot= %x\nwant=%x", addrs, seq)
	}

	stats := s.Stats()
	if stats.Frames != 3 || stats.Cycles != 3 || stats.Bytes != 3*regs.FrameSize {
		t.Fatalf("invalid stats: %+v", stats)
	}

	err = s.Close()
	if err != nil {
		t.Fatalf("could not close session: %+v", err)
	}
	if !dev.Closed() {
		t.Fatalf("transport not closed")
	}
	if got, want := s.State(), Closed; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
}

func TestChannelWrites(t *testing.T) {
	dev := fakedso.New()
	s := newSession(t, dev, FirmwareLoaded)
	defer s.Close()

	n := len(dev.Cmds())
	err := s.ConfigureChannel(ChannelConfig{Channel: CH2, Enabled: true, Range: 3, Coupling: AC})
	if err != nil {
		t.Fatalf("could not configure channel: %+v", err)
	}

	// CH2, range 3: gain=1000+13, amplitude=1000+33, compensation=1000+53.
	want := []wire.Frame{
		{Addr: regs.Channels[1].Ctrl, Payload: []byte{0x80 | 0x20 | 0x02}},
		{Addr: regs.Channels[1].Gain, Payload: wire.U16(1013)},
		{Addr: regs.Channels[1].Offset, Payload: wire.U16(1053 - 10)},
	}
	if got := dev.Cmds()[n:]; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid channel writes:\ngot= %+v\nwant=%+v", got, want)
	}
	if got, want := s.State(), FirmwareLoaded; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
}

func TestTriggerWrites(t *testing.T) {
	dev := fakedso.New()
	s := newSession(t, dev, FirmwareLoaded)
	defer s.Close()

	n := len(dev.Cmds())
	err := s.ConfigureTrigger(TriggerConfig{Source: SourceExt, Slope: Falling, Level: -200})
	if err != nil {
		t.Fatalf("could not configure trigger: %+v", err)
	}
	lower := int8(-128)
	upper := int8(-118)
	want := []wire.Frame{
		{Addr: regs.EdgeLevel[2], Payload: []byte{byte(upper), byte(lower)}},
		{Addr: regs.TriggerType, Payload: wire.U16(0x1001)},
	}
	if got := dev.Cmds()[n:]; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid trigger writes:\ngot= %+v\nwant=%+v", got, want)
	}

	n = len(dev.Cmds())
	err = s.ConfigureTimebase(TB10k)
	if err != nil {
		t.Fatalf("could not configure timebase: %+v", err)
	}
	if got, want := dev.Cmds()[n:], []wire.Frame{{Addr: regs.Timebase, Payload: wire.U32(uint32(TB10k))}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid timebase writes:\ngot= %+v\nwant=%+v", got, want)
	}
}

func TestPrecondition(t *testing.T) {
	dev := fakedso.New()
	s := newSession(t, dev, Opened)
	defer s.Close()

	n := len(dev.Cmds())
	for _, tc := range []struct {
		name string
		f    func() error
		need State
	}{
		{"configure-channel", func() error { return s.ConfigureChannel(ChannelConfig{Channel: CH1}) }, FirmwareLoaded},
		{"configure-timebase", func() error { return s.ConfigureTimebase(TB1M) }, FirmwareLoaded},
		{"configure-trigger", func() error { return s.ConfigureTrigger(TriggerConfig{}) }, FirmwareLoaded},
		{"configure", func() error { return s.Configure(testConfig()) }, FirmwareLoaded},
		{"load-firmware", func() error { return s.LoadFirmware(context.Background(), []byte{1}) }, Calibrated},
		{"sample", func() error { return s.Sample(context.Background(), nil) }, Configured},
		{"start", func() error { return s.Start(nil) }, Configured},
		{"open", s.Open, Disconnected},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.f()
			var perr *PreconditionError
			if !errors.As(err, &perr) {
				t.Fatalf("invalid error: got=%v, want PreconditionError", err)
			}
			if perr.Op != tc.name || perr.State != Opened || perr.Need != tc.need {
				t.Fatalf("invalid precondition error: %+v", perr)
			}
		})
	}

	if got := len(dev.Cmds()); got != n {
		t.Fatalf("commands sent on precondition failure: got=%d, want=%d", got, n)
	}
}

func TestConfigError(t *testing.T) {
	dev := fakedso.New()
	s := newSession(t, dev, FirmwareLoaded)
	defer s.Close()

	n := len(dev.Cmds())
	for _, tc := range []struct {
		name string
		cfg  func(cfg *Config)
		err  string
	}{
		{"channel", func(cfg *Config) { cfg.Channels[0].Channel = 2 }, "scope: invalid channel (channel(2))"},
		{"range", func(cfg *Config) { cfg.Channels[0].Range = 10 }, "scope: invalid voltage range (10)"},
		{"coupling", func(cfg *Config) { cfg.Channels[1].Coupling = 3 }, "scope: invalid coupling (coupling(3))"},
		{"duplicate", func(cfg *Config) { cfg.Channels[1].Channel = CH1 }, "scope: invalid duplicate channel (CH1)"},
		{"timebase", func(cfg *Config) { cfg.Timebase = 42 }, "scope: invalid timebase (timebase(42))"},
		{"source", func(cfg *Config) { cfg.Trigger.Source = 3 }, "scope: invalid trigger source (source(3))"},
		{"mode", func(cfg *Config) { cfg.Trigger.Mode = 2 }, "scope: invalid trigger mode (mode(2))"},
		{"holdoff", func(cfg *Config) { cfg.Trigger.Holdoff = -1 }, "scope: invalid trigger holdoff (-1ns)"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.cfg(&cfg)
			err := s.Configure(cfg)
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("invalid error: got=%v, want ConfigError", err)
			}
			if got, want := err.Error(), tc.err; got != want {
				t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
			}
		})
	}

	if got := len(dev.Cmds()); got != n {
		t.Fatalf("commands sent on invalid configuration: got=%d, want=%d", got, n)
	}
}

func TestIdentity(t *testing.T) {
	dev := fakedso.New()
	dev.Type = 0x1234

	s := New(dev, discard)
	err := s.Open()
	var ierr *IdentityError
	if !errors.As(err, &ierr) {
		t.Fatalf("invalid error: got=%v, want IdentityError", err)
	}
	if ierr.Expected != regs.DeviceTypeID || ierr.Actual != 0x1234 {
		t.Fatalf("invalid identity error: %+v", ierr)
	}
	if got, want := s.State(), Disconnected; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if !dev.Closed() {
		t.Fatalf("transport left open")
	}
}

func TestClosed(t *testing.T) {
	dev := fakedso.New()
	s := newSession(t, dev, Calibrated)

	err := s.Close()
	if err != nil {
		t.Fatalf("could not close session: %+v", err)
	}
	err = s.Close()
	if err != nil {
		t.Fatalf("could not close session twice: %+v", err)
	}

	for _, f := range []func() error{
		s.Open,
		s.Calibrate,
		func() error { return s.LoadFirmware(context.Background(), []byte{1}) },
		func() error { return s.Configure(testConfig()) },
		func() error { return s.Sample(context.Background(), nil) },
	} {
		if err := f(); !errors.Is(err, ErrClosed) {
			t.Fatalf("invalid error: got=%v, want ErrClosed", err)
		}
	}
}

func TestTransportError(t *testing.T) {
	dev := fakedso.New()
	s := newSession(t, dev, FirmwareLoaded)

	dev.FailWrite = io.ErrClosedPipe
	err := s.ConfigureTimebase(TB1M)
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("invalid error: got=%v, want TransportError", err)
	}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("invalid wrapped error: %v", err)
	}
	if got, want := s.State(), Closed; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if !dev.Closed() {
		t.Fatalf("transport left open")
	}
}

func TestUnexpectedResponse(t *testing.T) {
	dev := fakedso.New()
	s := newSession(t, dev, FirmwareLoaded)
	defer s.Close()

	dev.Nak[regs.Channels[0].Gain] = 0x00
	err := s.ConfigureChannel(ChannelConfig{Channel: CH1, Enabled: true})
	var uerr *wire.UnexpectedResponseError
	if !errors.As(err, &uerr) {
		t.Fatalf("invalid error: got=%v, want UnexpectedResponseError", err)
	}
	if uerr.Addr != regs.Channels[0].Gain || uerr.Actual != 0 || uerr.Expected != wire.StatusAck {
		t.Fatalf("invalid error: %+v", uerr)
	}
	if got, want := s.State(), FirmwareLoaded; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}

	// offset register must not be written after the gain failure.
	cmds := dev.Cmds()
	last := cmds[len(cmds)-1]
	if last.Addr != regs.Channels[0].Gain {
		t.Fatalf("invalid last write: 0x%x", last.Addr)
	}
}

func TestUploadRejected(t *testing.T) {
	dev := fakedso.New()
	dev.NakFrame = 1
	s := newSession(t, dev, Calibrated)
	defer s.Close()

	err := s.LoadFirmware(context.Background(), make([]byte, 200))
	var ferr *fpga.FrameError
	if !errors.As(err, &ferr) {
		t.Fatalf("invalid error: got=%v, want FrameError", err)
	}
	if ferr.Index != 1 {
		t.Fatalf("invalid frame index: got=%d, want=1", ferr.Index)
	}
	if got, want := dev.Frames(), 2; got != want {
		t.Fatalf("invalid number of frames sent: got=%d, want=%d", got, want)
	}
	if got, want := s.State(), Calibrated; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}

	// a new upload starts from scratch.
	dev.NakFrame = -1
	err = s.LoadFirmware(context.Background(), make([]byte, 200))
	if err != nil {
		t.Fatalf("could not upload firmware: %+v", err)
	}
	if got, want := dev.Frames(), 2+4; got != want {
		t.Fatalf("invalid number of frames sent: got=%d, want=%d", got, want)
	}
	if got, want := dev.Uploaded(), 64+200; got != want {
		t.Fatalf("invalid number of acknowledged bytes: got=%d, want=%d", got, want)
	}
}

func TestArmError(t *testing.T) {
	dev := fakedso.New()
	s := newSession(t, dev, Configured)
	defer s.Close()

	dev.Nak[regs.DeepMemory] = 0x03
	err := s.Sample(context.Background(), nil, WithCycles(1))
	var aerr *ArmError
	if !errors.As(err, &aerr) {
		t.Fatalf("invalid error: got=%v, want ArmError", err)
	}
	if aerr.Addr != regs.DeepMemory {
		t.Fatalf("invalid arm register: got=0x%x, want=0x%x", aerr.Addr, regs.DeepMemory)
	}
	if got, want := s.State(), Configured; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
}

func TestSampleStop(t *testing.T) {
	dev := fakedso.New()
	s := newSession(t, dev, Configured)
	defer s.Close()

	n := 0
	err := s.Sample(context.Background(), func(Samples) { n++ }, WithStop(func() bool { return n >= 2 }))
	if err != nil {
		t.Fatalf("could not sample: %+v", err)
	}
	if n != 2 {
		t.Fatalf("invalid number of frames: got=%d, want=2", n)
	}

	ncmds := len(dev.Cmds())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Sample(ctx, func(Samples) { n++ })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("invalid error: got=%v, want context.Canceled", err)
	}
	if n != 2 {
		t.Fatalf("frame acquired after cancellation")
	}
	if got, want := len(dev.Cmds()), ncmds; got != want {
		t.Fatalf("commands sent after cancellation: got=%d, want=%d", got-want, 0)
	}

	err = s.Sample(context.Background(), nil, WithStop(func() bool { return true }))
	if err != nil {
		t.Fatalf("could not sample: %+v", err)
	}
	if got, want := len(dev.Cmds()), ncmds; got != want {
		t.Fatalf("commands sent for a stopped run: got=%d, want=%d", got-want, 0)
	}
}

func TestSampleQueriesSession(t *testing.T) {
	dev := fakedso.New()
	s := newSession(t, dev, Configured)
	defer s.Close()

	var (
		serial string
		fwvers string
		table  bool
		state  State
	)
	errc := make(chan error, 1)
	go func() {
		errc <- s.Sample(context.Background(), func(Samples) {
			serial = s.Serial()
			fwvers = s.Firmware()
			table = s.Calibration() != nil
			state = s.State()
			_ = s.Stats()
		}, WithCycles(1))
	}()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("could not sample: %+v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("sample callback could not query the session")
	}

	if serial != fakedso.Serial || fwvers != fakedso.Firmware || !table {
		t.Fatalf("invalid session info: serial=%q, firmware=%q, table=%v", serial, fwvers, table)
	}
	if state != Sampling {
		t.Fatalf("invalid state in callback: got=%v, want=%v", state, Sampling)
	}
}

func TestStartStop(t *testing.T) {
	dev := fakedso.New()
	s := newSession(t, dev, Configured)
	defer s.Close()

	var (
		release = make(chan struct{})
		done    = make(chan struct{})
		n       = 0
	)
	err := s.Start(func(Samples) {
		if n == 0 {
			<-release
		}
		n++
		if n == 5 {
			close(done)
		}
	}, WithCycles(5))
	if err != nil {
		t.Fatalf("could not start acquisition: %+v", err)
	}
	if err := s.Start(nil); err == nil {
		t.Fatalf("expected an error starting twice")
	}
	close(release)
	<-done

	err = s.Stop()
	if err != nil {
		t.Fatalf("could not stop acquisition: %+v", err)
	}
	if n != 5 {
		t.Fatalf("invalid number of frames: got=%d, want=5", n)
	}
	if got, want := s.State(), Configured; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if err := s.Stop(); err == nil {
		t.Fatalf("expected an error stopping twice")
	}
}

func TestRestartAfterRun(t *testing.T) {
	dev := fakedso.New()
	s := newSession(t, dev, Configured)
	defer s.Close()

	err := s.Start(nil, WithCycles(2))
	if err != nil {
		t.Fatalf("could not start acquisition: %+v", err)
	}

	// the first run ends on its own: no Stop is needed to start again.
	var (
		done = make(chan struct{})
		n    = 0
	)
	deadline := time.Now().Add(5 * time.Second)
	for {
		err = s.Start(func(Samples) {
			n++
			if n == 2 {
				close(done)
			}
		}, WithCycles(2))
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("could not restart acquisition: %+v", err)
		}
		time.Sleep(time.Millisecond)
	}
	<-done

	err = s.Stop()
	if err != nil {
		t.Fatalf("could not stop acquisition: %+v", err)
	}
	if got, want := dev.Count(regs.DataRequest), 4; got != want {
		t.Fatalf("invalid number of cycles: got=%d, want=%d", got, want)
	}
}

func TestCloseWhileRunning(t *testing.T) {
	n := 500
	if testing.Short() {
		n = 50
	}

	for i := 0; i < n; i++ {
		dev := fakedso.New()
		s := newSession(t, dev, Configured)

		err := s.Start(nil)
		if err != nil {
			t.Fatalf("iter=%d: could not start acquisition: %+v", i, err)
		}

		errc := make(chan error, 1)
		go func() { errc <- s.Close() }()

		select {
		case err := <-errc:
			if err != nil {
				t.Fatalf("iter=%d: could not close session: %+v", i, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("iter=%d: close blocked (state=%v)", i, s.State())
		}

		if got, want := s.State(), Closed; got != want {
			t.Fatalf("iter=%d: invalid state: got=%v, want=%v", i, got, want)
		}
		if !dev.Closed() {
			t.Fatalf("iter=%d: transport left open", i)
		}
		if err := s.Stop(); err == nil {
			t.Fatalf("iter=%d: run still registered after close", i)
		}
	}
}
