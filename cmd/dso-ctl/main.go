// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dso-ctl is an interactive shell driving one oscilloscope.
//
// Usage: dso-ctl [OPTIONS] [RUN-FILE]
//
// Example:
//
//	$> dso-ctl ./run.yaml
//	dso> open
//	dso> calib
//	dso> fw ./fe.bin
//	dso> ch 1 on 5 DC
//	dso> tb 1MS/s
//	dso> trig CH1 rising 20
//	dso> sample 10
//	dso> quit
package main // import "github.com/go-lpc/dso/cmd/dso-ctl"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/dso"
	"github.com/go-lpc/dso/config"
	"github.com/go-lpc/dso/internal/daq"
	"github.com/go-lpc/dso/scope"
	"github.com/go-lpc/dso/usbio"
	"github.com/peterh/liner"
)

func main() {
	log.SetPrefix("dso-ctl: ")
	log.SetFlags(0)

	var (
		backend = flag.String("backend", "", "transport backend (usb, ftdi)")
		hist    = flag.String("history", filepath.Join(os.TempDir(), ".dso-ctl.history"), "path to history file")
	)

	flag.Usage = func() {
		fmt.Printf(`dso-ctl is an interactive shell driving one oscilloscope.

Usage: dso-ctl [OPTIONS] [RUN-FILE]

`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if v, _ := dso.Version(); v != "" {
		log.Printf("version: %s", v)
	}

	cfg := config.Default()
	if flag.NArg() > 0 {
		v, err := config.Load(flag.Arg(0))
		if err != nil {
			log.Fatalf("could not load run configuration: %+v", err)
		}
		cfg = v
	}
	if *backend != "" {
		cfg.Device.Backend = *backend
	}

	sh := newShell(cfg, os.Stdout)
	defer sh.close()

	err := sh.run(*hist)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

var cmds = map[string]string{
	"list":   "list the devices reachable through the configured backend",
	"open":   "open the device",
	"calib":  "read the calibration table",
	"fw":     "fw FILE: upload the front-end firmware",
	"config": "apply the scope setup of the run configuration",
	"ch":     "ch 1|2 on|off RANGE DC|AC|GND: configure a channel",
	"tb":     "tb RATE: configure the sampling rate (e.g. 1MS/s)",
	"trig":   "trig CH1|CH2|EXT rising|falling LEVEL: configure the trigger",
	"sample": "sample [N]: run N acquisition cycles (default: 1)",
	"state":  "display the session state",
	"stats":  "display the acquisition counters",
	"close":  "close the device",
	"help":   "display this help",
	"quit":   "quit the shell",
}

type shell struct {
	cfg  config.Config
	out  io.Writer
	msg  *log.Logger
	sess *scope.Session

	newTransport func(dev config.Device) (usbio.Transport, error)
	list         func(backend string, filter usbio.Filter) ([]usbio.DeviceInfo, error)
}

func newShell(cfg config.Config, out io.Writer) *shell {
	return &shell{
		cfg:          cfg,
		out:          out,
		msg:          log.New(out, "dso: ", 0),
		newTransport: daq.Transport,
		list:         usbio.List,
	}
}

func (sh *shell) run(hist string) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(complete)

	if f, err := os.Open(hist); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			log.Printf("could not save history: %+v", err)
			return
		}
		defer f.Close()
		_, _ = line.WriteHistory(f)
	}()

	for {
		input, err := line.Prompt("dso> ")
		switch {
		case err == nil:
		case errors.Is(err, liner.ErrPromptAborted), errors.Is(err, io.EOF):
			return nil
		default:
			return fmt.Errorf("could not read command: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		err = sh.exec(input)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil:
			fmt.Fprintf(sh.out, "error: %+v\n", err)
		}
	}
}

func complete(line string) []string {
	var out []string
	for name := range cmds {
		if strings.HasPrefix(name, strings.ToLower(line)) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

var errQuit = errors.New("quit")

func (sh *shell) exec(input string) error {
	args := strings.Fields(input)
	if len(args) == 0 {
		return nil
	}
	name, args := strings.ToLower(args[0]), args[1:]

	switch name {
	case "open", "list", "help", "quit", "exit":
	default:
		if sh.sess == nil {
			return fmt.Errorf("device not opened")
		}
	}

	switch name {
	case "list":
		return sh.listDevices()
	case "open":
		return sh.open()
	case "calib":
		return sh.calib()
	case "fw":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s", cmds["fw"])
		}
		return sh.firmware(args[0])
	case "config":
		return sh.sess.Configure(sh.cfg.Scope)
	case "ch":
		return sh.channel(args)
	case "tb":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s", cmds["tb"])
		}
		var tb scope.Timebase
		err := tb.UnmarshalText([]byte(args[0]))
		if err != nil {
			return err
		}
		return sh.sess.ConfigureTimebase(tb)
	case "trig":
		return sh.trigger(args)
	case "sample":
		return sh.sample(args)
	case "state":
		fmt.Fprintf(sh.out, "state: %v\n", sh.sess.State())
		return nil
	case "stats":
		st := sh.sess.Stats()
		fmt.Fprintf(sh.out, "cycles: %d\nframes: %d\nbytes:  %d\n", st.Cycles, st.Frames, st.Bytes)
		return nil
	case "close":
		sh.close()
		return nil
	case "help":
		sh.help()
		return nil
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", name)
	}
}

func (sh *shell) open() error {
	if sh.sess != nil && sh.sess.State() != scope.Closed {
		return fmt.Errorf("device already opened")
	}

	tr, err := sh.newTransport(sh.cfg.Device)
	if err != nil {
		return err
	}

	sh.sess = scope.New(
		tr,
		scope.WithLogger(sh.msg),
		scope.WithConfiguration(sh.cfg.Device.Configuration),
		scope.WithInterface(sh.cfg.Device.Interface),
	)
	return sh.sess.Open()
}

func (sh *shell) listDevices() error {
	devs, err := sh.list(sh.cfg.Device.Backend, sh.cfg.Device.Filter())
	if err != nil {
		return err
	}
	for _, dev := range devs {
		fmt.Fprintf(sh.out, "%v serial=%q %s\n", dev.Filter, dev.Serial, dev.Description)
	}
	fmt.Fprintf(sh.out, "devices: %d\n", len(devs))
	return nil
}

func (sh *shell) calib() error {
	err := sh.sess.Calibrate()
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "serial:   %q\nfirmware: %q\n", sh.sess.Serial(), sh.sess.Firmware())
	return nil
}

func (sh *shell) firmware(fname string) error {
	img, err := daq.Firmware(context.Background(), fname, "", nil)
	if err != nil {
		return err
	}

	start := time.Now()
	err = sh.sess.LoadFirmware(context.Background(), img)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "uploaded %d bytes in %v\n", len(img), time.Since(start).Round(time.Millisecond))
	return nil
}

func (sh *shell) channel(args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("usage: %s", cmds["ch"])
	}

	var (
		cc  scope.ChannelConfig
		err error
	)
	err = cc.Channel.UnmarshalText([]byte("CH" + args[0]))
	if err != nil {
		return err
	}
	switch strings.ToLower(args[1]) {
	case "on":
		cc.Enabled = true
	case "off":
		cc.Enabled = false
	default:
		return fmt.Errorf("invalid channel state %q", args[1])
	}
	cc.Range, err = strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid range %q: %w", args[2], err)
	}
	err = cc.Coupling.UnmarshalText([]byte(args[3]))
	if err != nil {
		return err
	}

	return sh.sess.ConfigureChannel(cc)
}

func (sh *shell) trigger(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: %s", cmds["trig"])
	}

	tc := sh.cfg.Scope.Trigger
	err := tc.Source.UnmarshalText([]byte(args[0]))
	if err != nil {
		return err
	}
	err = tc.Slope.UnmarshalText([]byte(args[1]))
	if err != nil {
		return err
	}
	tc.Level, err = strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid trigger level %q: %w", args[2], err)
	}

	return sh.sess.ConfigureTrigger(tc)
}

func (sh *shell) sample(args []string) error {
	n := 1
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return fmt.Errorf("invalid number of cycles %q", args[0])
		}
		n = v
	}

	return sh.sess.Sample(context.Background(), func(smp scope.Samples) {
		lo, hi := minmax(smp.Volts)
		fmt.Fprintf(sh.out, "ch=%d n=%d min=%+.3fV max=%+.3fV\n", smp.Channel, len(smp.Volts), lo, hi)
	}, scope.WithCycles(n))
}

func (sh *shell) help() {
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(sh.out, "  %-7s %s\n", name, cmds[name])
	}
}

func (sh *shell) close() {
	if sh.sess == nil {
		return
	}
	err := sh.sess.Close()
	if err != nil {
		log.Printf("could not close device: %+v", err)
	}
	sh.sess = nil
}

func minmax(vs []float64) (lo, hi float64) {
	if len(vs) == 0 {
		return 0, 0
	}
	lo, hi = vs[0], vs[0]
	for _, v := range vs[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
