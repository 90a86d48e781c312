// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scope

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/go-lpc/dso/internal/regs"
	"golang.org/x/sync/errgroup"
)

// Samples is a decoded sample frame.
type Samples struct {
	Channel uint8     // channel id reported by the device
	Volts   []float64 // calibrated samples
}

// DecodeFrame decodes a raw sample frame into dst.
//
// Samples missing from a short frame keep the values dst already holds.
// DecodeFrame returns the number of samples decoded.
func DecodeFrame(dst *Samples, raw []byte) int {
	if len(dst.Volts) != regs.FrameSamples {
		vs := make([]float64, regs.FrameSamples)
		copy(vs, dst.Volts)
		dst.Volts = vs
	}
	if len(raw) == 0 {
		return 0
	}

	dst.Channel = raw[0]
	n := 0
	for k := 0; k < regs.FrameSamples; k++ {
		off := regs.FrameOffset + k*regs.FrameStride
		if off+2 > len(raw) {
			break
		}
		v := int16(binary.LittleEndian.Uint16(raw[off : off+2]))
		dst.Volts[k] = float64(v) / regs.FrameCounts
		n++
	}
	return n
}

// Sample runs the acquisition loop, calling onSample with every decoded
// frame.
//
// The device is armed before the first cycle, then each cycle resets the
// trigger-done and data-finished flags, requests a frame and decodes it.
// Cancellation is only checked between whole cycles.
//
// onSample runs with the session held: it may query the session but must
// not call Stop or Close.
func (s *Session) Sample(ctx context.Context, onSample func(Samples), opts ...SampleOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check("sample", Configured)
	if err != nil {
		return err
	}

	var cfg sampleConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	s.setState(Sampling)
	defer func() {
		if s.State() == Sampling {
			s.setState(Configured)
		}
	}()

	armed := false
	for i := 0; cfg.cycles <= 0 || i < cfg.cycles; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if cfg.stop != nil && cfg.stop() {
			return nil
		}

		if !armed {
			err = s.arm()
			if err != nil {
				return err
			}
			armed = true
		}

		err = s.cycle(onSample)
		if err != nil {
			s.cfg.mon.Error("acquisition")
			return err
		}
	}

	return nil
}

func (s *Session) arm() error {
	for _, w := range regs.Arm {
		err := s.write(w.Name, w.Addr, w.Payload)
		if err != nil {
			var terr *TransportError
			if errors.As(err, &terr) {
				return err
			}
			return &ArmError{Addr: w.Addr, Err: err}
		}
	}
	return nil
}

func (s *Session) cycle(onSample func(Samples)) error {
	start := time.Now()
	for _, w := range []regs.Write{regs.ResetTriggerDone, regs.ResetDataFinished} {
		err := s.write(w.Name, w.Addr, w.Payload)
		if err != nil {
			return fmt.Errorf("scope: could not reset %s flag: %w", w.Name, err)
		}
	}

	w := regs.RequestData
	err := s.sendCmd(w.Name, w.Addr, w.Payload)
	if err != nil {
		return err
	}

	raw, err := s.recv("sample-frame", regs.FrameSize)
	if err != nil {
		return err
	}

	DecodeFrame(&s.frame, raw)
	s.stats.cycles.Add(1)
	s.stats.frames.Add(1)
	s.stats.bytes.Add(uint64(len(raw)))
	s.cfg.mon.Frame(len(raw), time.Since(start))

	if onSample != nil {
		out := Samples{
			Channel: s.frame.Channel,
			Volts:   make([]float64, len(s.frame.Volts)),
		}
		copy(out.Volts, s.frame.Volts)
		onSample(out)
	}
	return nil
}

// Start runs the acquisition loop in the background until Stop is called.
//
// A run that ended on its own is released by the next Start, Stop or Close.
func (s *Session) Start(onSample func(Samples), opts ...SampleOption) error {
	s.run.mu.Lock()
	defer s.run.mu.Unlock()

	if s.run.grp != nil {
		select {
		case <-s.run.done:
			err := s.reap()
			if err != nil {
				s.msg.Printf("previous acquisition run failed: %+v", err)
			}
		default:
			return fmt.Errorf("scope: acquisition already running")
		}
	}

	err := s.check("start", Configured)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	grp, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	grp.Go(func() error {
		defer close(done)
		return s.Sample(ctx, onSample, opts...)
	})

	s.run.grp = grp
	s.run.cancel = cancel
	s.run.done = done
	return nil
}

// Stop ends a run started with Start and returns its error, if any.
func (s *Session) Stop() error {
	s.run.mu.Lock()
	defer s.run.mu.Unlock()

	if s.run.grp == nil {
		return fmt.Errorf("scope: acquisition not running")
	}
	return s.reap()
}

// reap cancels the current run and waits for it.
// s.run.mu must be held.
func (s *Session) reap() error {
	s.run.cancel()
	err := s.run.grp.Wait()
	s.run.grp = nil
	s.run.cancel = nil
	s.run.done = nil

	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("scope: acquisition failed: %w", err)
	}
	return nil
}
