// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dso-daq starts a TDAQ server driving one oscilloscope.
//
// The run configuration is read from the YAML file given as first
// argument, or from the body of the /config command.
// Decoded frames are published on the /samples output.
package main // import "github.com/go-lpc/dso/cmd/dso-daq"

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"os"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/dso"
	"github.com/go-lpc/dso/conddb"
	"github.com/go-lpc/dso/config"
	"github.com/go-lpc/dso/internal/alert"
	"github.com/go-lpc/dso/internal/daq"
	"github.com/go-lpc/dso/monitor"
	"github.com/go-lpc/dso/scope"
	"github.com/go-lpc/dso/sink"
	"github.com/go-lpc/dso/usbio"
)

func main() {
	cmd := flags.New()

	var fname string
	if len(cmd.Args) > 0 {
		fname = cmd.Args[0]
	}
	dev := newServer(fname)
	if v, _ := dso.Version(); v != "" {
		dev.msg.Printf("version: %s", v)
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/samples", dev.samples)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type runDB interface {
	daq.Presets
	LogRun(ctx context.Context, run conddb.Run) error
	Close() error
}

type server struct {
	fname string // run configuration file
	msg   *log.Logger

	newTransport func(dev config.Device) (usbio.Transport, error)
	openDB       func(name string) (runDB, error)

	cfg   config.Config
	db    runDB
	mon   *monitor.Metrics
	alert *alert.Alerter
	stop  context.CancelFunc // stops the metrics server

	sess *scope.Session
	sink *sink.Sink

	mu     sync.Mutex
	data   chan []byte
	start  time.Time
	frames uint64 // frame counter at the start of the run
}

func newServer(fname string) *server {
	return &server{
		fname: fname,
		msg:   log.New(os.Stdout, "dso-daq: ", 0),

		newTransport: daq.Transport,
		openDB: func(name string) (runDB, error) {
			return conddb.Open(name)
		},

		mon:  monitor.New(),
		data: make(chan []byte, 1024),
	}
}

func (dev *server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	var (
		cfg config.Config
		err error
	)
	switch {
	case len(req.Body) != 0:
		cfg, err = config.Decode(bytes.NewReader(req.Body))
	case dev.fname != "":
		cfg, err = config.Load(dev.fname)
	default:
		err = fmt.Errorf("missing run configuration")
	}
	if err != nil {
		ctx.Msg.Errorf("could not load run configuration: %+v", err)
		return fmt.Errorf("could not load run configuration: %w", err)
	}
	dev.cfg = cfg

	if dev.db == nil && cfg.DB != "" {
		db, err := dev.openDB(cfg.DB)
		if err != nil {
			ctx.Msg.Errorf("could not open presets db %q: %+v", cfg.DB, err)
			return fmt.Errorf("could not open presets db %q: %w", cfg.DB, err)
		}
		dev.db = db
	}

	if dev.stop == nil && cfg.Monitor.Addr != "" {
		mctx, cancel := context.WithCancel(context.Background())
		dev.stop = cancel
		go func() {
			err := dev.mon.Serve(mctx, cfg.Monitor.Addr, dev.msg)
			if err != nil {
				dev.msg.Printf("could not serve metrics: %+v", err)
			}
		}()
	}

	if cfg.Alert.Enabled && dev.alert == nil {
		dev.alert = alert.New(alert.FromEnv(), dev.msg)
	}

	return nil
}

func (dev *server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	dev.release()

	tr, err := dev.newTransport(dev.cfg.Device)
	if err != nil {
		ctx.Msg.Errorf("could not create transport: %+v", err)
		return fmt.Errorf("could not create transport: %w", err)
	}

	sess, err := daq.Boot(
		ctx.Ctx, tr, dev.cfg, dev.presets(),
		scope.WithLogger(dev.msg),
		scope.WithMetrics(dev.mon),
	)
	if err != nil {
		ctx.Msg.Errorf("could not boot device: %+v", err)
		return fmt.Errorf("could not boot device: %w", err)
	}
	dev.sess = sess

	if cfg := dev.cfg.Redis; cfg.Addr != "" {
		snk, err := sink.Dial(ctx.Ctx, sink.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			Channel:  cfg.Channel,
			Serial:   sess.Serial(),
		}, dev.msg)
		if err != nil {
			ctx.Msg.Errorf("could not connect sample sink: %+v", err)
			return fmt.Errorf("could not connect sample sink: %w", err)
		}
		dev.sink = snk
	}

	ctx.Msg.Infof("device %q ready (firmware=%q)", sess.Serial(), sess.Firmware())
	return nil
}

func (dev *server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	dev.release()
	return nil
}

func (dev *server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	if dev.sess == nil {
		return fmt.Errorf("device not initialized")
	}

	dev.mu.Lock()
	dev.data = make(chan []byte, 1024)
	dev.start = time.Now().UTC()
	dev.frames = dev.sess.Stats().Frames
	dev.mu.Unlock()

	err := dev.sess.Start(dev.onSample, scope.WithCycles(dev.cfg.Acquisition.Cycles))
	if err != nil {
		ctx.Msg.Errorf("could not start acquisition: %+v", err)
		return fmt.Errorf("could not start acquisition: %w", err)
	}
	return nil
}

func (dev *server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	if dev.sess == nil {
		return fmt.Errorf("device not initialized")
	}

	err := dev.sess.Stop()
	n := dev.sess.Stats().Frames - dev.frames
	ctx.Msg.Debugf("received /stop command... -> n=%d", n)

	status := "ok"
	if err != nil {
		status = err.Error()
		ctx.Msg.Errorf("acquisition failed: %+v", err)
		if dev.alert != nil {
			dev.alert.Alert(
				dev.sess.Serial(), dev.cfg.Alert.Subject,
				alert.Failure(dev.sess.Serial(), n, err),
			)
		}
	}

	if dev.db != nil {
		dev.mu.Lock()
		start := dev.start
		dev.mu.Unlock()
		lerr := dev.db.LogRun(ctx.Ctx, conddb.Run{
			Serial:   dev.sess.Serial(),
			Firmware: dev.sess.Firmware(),
			Start:    start,
			Stop:     time.Now().UTC(),
			Frames:   n,
			Status:   status,
		})
		if lerr != nil {
			ctx.Msg.Errorf("could not log run: %+v", lerr)
		}
	}

	if err != nil {
		return fmt.Errorf("could not stop acquisition: %w", err)
	}
	return nil
}

func (dev *server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	dev.release()

	if dev.stop != nil {
		dev.stop()
		dev.stop = nil
	}
	if dev.db != nil {
		err := dev.db.Close()
		dev.db = nil
		if err != nil {
			ctx.Msg.Errorf("could not close presets db: %+v", err)
		}
	}
	return nil
}

// presets returns the presets database, if any.
func (dev *server) presets() daq.Presets {
	if dev.db == nil {
		return nil
	}
	return dev.db
}

// release closes the session and the sample sink.
func (dev *server) release() {
	if dev.sess != nil {
		err := dev.sess.Close()
		if err != nil {
			dev.msg.Printf("could not close session: %+v", err)
		}
		dev.sess = nil
	}
	if dev.sink != nil {
		err := dev.sink.Close()
		if err != nil {
			dev.msg.Printf("could not close sample sink: %+v", err)
		}
		dev.sink = nil
	}
}

func (dev *server) onSample(smp scope.Samples) {
	if dev.sink != nil {
		dev.sink.OnSample(smp)
	}

	dev.mu.Lock()
	data := dev.data
	dev.mu.Unlock()

	select {
	case data <- encode(smp):
	default:
	}
}

func (dev *server) samples(ctx tdaq.Context, dst *tdaq.Frame) error {
	dev.mu.Lock()
	data := dev.data
	dev.mu.Unlock()

	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case raw := <-data:
		dst.Body = raw
	}
	return nil
}

func (dev *server) run(ctx tdaq.Context) error {
	if dev.sink != nil {
		return dev.sink.Run(ctx.Ctx)
	}
	<-ctx.Ctx.Done()
	return nil
}

// encode packs a frame as: u8 channel, u32 number of samples, then every
// sample as a float64, little-endian.
func encode(smp scope.Samples) []byte {
	p := make([]byte, 5+8*len(smp.Volts))
	p[0] = smp.Channel
	binary.LittleEndian.PutUint32(p[1:], uint32(len(smp.Volts)))
	for i, v := range smp.Volts {
		binary.LittleEndian.PutUint64(p[5+8*i:], math.Float64bits(v))
	}
	return p
}
