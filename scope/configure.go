// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scope

import (
	"fmt"

	"github.com/go-lpc/dso/internal/regs"
	"github.com/go-lpc/dso/wire"
)

// Configure applies the full front-end configuration: phase-fine reset,
// then every channel, then the timebase, then the trigger.
//
// On failure the session falls back to the FirmwareLoaded state and the
// whole configuration must be applied again.
func (s *Session) Configure(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check("configure", FirmwareLoaded, Configured)
	if err != nil {
		return err
	}

	err = cfg.Validate()
	if err != nil {
		return err
	}

	err = s.configure(cfg)
	if err != nil {
		if s.State() != Closed {
			s.setState(FirmwareLoaded)
		}
		return err
	}

	s.msg.Printf(
		"configured %d channel(s), timebase=%v, trigger=%v/%v/%v (level=%d)",
		len(cfg.Channels), cfg.Timebase,
		cfg.Trigger.Source, cfg.Trigger.Mode, cfg.Trigger.Slope, cfg.Trigger.Level,
	)
	s.setState(Configured)
	return nil
}

func (s *Session) configure(cfg Config) error {
	err := s.write("phase-fine", regs.PhaseFine, wire.U16(0))
	if err != nil {
		return fmt.Errorf("scope: could not reset phase-fine: %w", err)
	}

	for _, cc := range cfg.Channels {
		err = s.configureChannel(cc)
		if err != nil {
			return err
		}
	}

	err = s.configureTimebase(cfg.Timebase)
	if err != nil {
		return err
	}

	return s.configureTrigger(cfg.Trigger)
}

// ConfigureChannel sets up one analog input from its calibration values.
func (s *Session) ConfigureChannel(cc ChannelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check("configure-channel", FirmwareLoaded, Configured)
	if err != nil {
		return err
	}

	err = cc.validate()
	if err != nil {
		return err
	}

	return s.configureChannel(cc)
}

// ConfigureTimebase sets the sampling rate.
func (s *Session) ConfigureTimebase(tb Timebase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check("configure-timebase", FirmwareLoaded, Configured)
	if err != nil {
		return err
	}

	err = validateTimebase(tb)
	if err != nil {
		return err
	}

	return s.configureTimebase(tb)
}

// ConfigureTrigger sets up the edge levels and the trigger word.
func (s *Session) ConfigureTrigger(tc TriggerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check("configure-trigger", FirmwareLoaded, Configured)
	if err != nil {
		return err
	}

	err = tc.validate()
	if err != nil {
		return err
	}

	return s.configureTrigger(tc)
}

func (s *Session) configureChannel(cc ChannelConfig) error {
	dump := s.dump.Load()
	if dump == nil {
		return &PreconditionError{Op: "configure-channel", State: s.State(), Need: Calibrated}
	}

	var (
		tbl = dump.Table
		ch  = int(cc.Channel)
		reg = regs.Channels[ch]
	)

	gain, err := tbl.Gain(ch, cc.Range)
	if err != nil {
		return fmt.Errorf("scope: could not configure %v: %w", cc.Channel, err)
	}
	amp, err := tbl.Amplitude(ch, cc.Range)
	if err != nil {
		return fmt.Errorf("scope: could not configure %v: %w", cc.Channel, err)
	}
	comp, err := tbl.Compensation(ch, cc.Range)
	if err != nil {
		return fmt.Errorf("scope: could not configure %v: %w", cc.Channel, err)
	}

	for _, w := range []struct {
		name string
		addr uint32
		data []byte
	}{
		{"channel-ctrl", reg.Ctrl, []byte{channelField(cc)}},
		{"channel-gain", reg.Gain, wire.U16(gain)},
		{"channel-offset", reg.Offset, wire.U16(zeroOffset(comp, amp))},
	} {
		err = s.write(w.name, w.addr, w.data)
		if err != nil {
			return fmt.Errorf("scope: could not configure %v: %w", cc.Channel, err)
		}
	}

	return nil
}

func (s *Session) configureTimebase(tb Timebase) error {
	err := s.write("timebase", regs.Timebase, wire.U32(uint32(tb)))
	if err != nil {
		return fmt.Errorf("scope: could not configure timebase %v: %w", tb, err)
	}
	return nil
}

func (s *Session) configureTrigger(tc TriggerConfig) error {
	upper, lower := edgeLevels(tc.Level, tc.Slope)
	err := s.write(
		"edge-level", regs.EdgeLevel[tc.Source],
		[]byte{byte(int8(upper)), byte(int8(lower))},
	)
	if err != nil {
		return fmt.Errorf("scope: could not configure trigger level: %w", err)
	}

	err = s.write("trigger-type", regs.TriggerType, wire.U16(triggerWord(tc)))
	if err != nil {
		return fmt.Errorf("scope: could not configure trigger type: %w", err)
	}
	return nil
}

// channelField packs the channel control byte.
func channelField(cc ChannelConfig) byte {
	var v byte
	if cc.Enabled {
		v |= 1 << 7
	}
	v |= byte(cc.Coupling&0x3) << 5
	v |= regs.DelayAttenuation
	return v
}

// zeroOffset returns the offset register value for a centered trace,
// as a 16-bit two's complement value.
func zeroOffset(comp, amp uint16) uint16 {
	v := int(comp) - int(amp)/100
	return uint16(v)
}

// edgeLevels returns the upper and lower edge-trigger levels, clamped to
// the signed 8-bit range.
func edgeLevels(level int, slope Slope) (upper, lower int) {
	switch slope {
	case Falling:
		upper, lower = level+10, level
	default:
		upper, lower = level, level-10
	}

	if upper > 127 {
		upper = 127
		lower = upper - 10
	}
	if lower < -128 {
		lower = -128
		upper = lower + 10
	}
	return upper, lower
}

// triggerWord packs the trigger-type register.
func triggerWord(tc TriggerConfig) uint16 {
	var (
		w   uint16
		typ = uint16(tc.Type)
		src = uint16(tc.Source)
	)

	switch tc.Mode {
	case Alternate:
		w |= 1 << 15
		w |= (typ & 1) << 13
		w |= ((typ >> 1) & 1) << 8
		w |= (src & 1) << 14
	default:
		w |= (typ & 1) << 8
		w |= ((typ >> 1) & 1) << 14
		if tc.Source == SourceExt {
			w |= 1
		} else {
			w |= (src & 1) << 13
		}
		w |= (regs.Sweep & 0x3) << 10
	}
	w |= (uint16(tc.Slope) & 1) << 12

	return w
}
