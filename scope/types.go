// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scope

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-lpc/dso/calib"
)

// Channel is an analog input.
type Channel uint8

const (
	CH1 Channel = iota
	CH2
)

// Coupling is the input coupling of a channel.
type Coupling uint8

const (
	DC Coupling = iota
	AC
	GND
)

// Source is a trigger source.
type Source uint8

const (
	SourceCH1 Source = iota
	SourceCH2
	SourceExt
)

// Slope is the trigger edge slope.
type Slope uint8

const (
	Rising Slope = iota
	Falling
)

// Mode is the trigger mode.
type Mode uint8

const (
	Single Mode = iota
	Alternate
)

// TriggerType is the trigger kind.
type TriggerType uint8

const (
	Edge TriggerType = iota
	Pulse
	Video
)

// Timebase is a sampling-rate code, written verbatim to the device.
type Timebase uint32

const (
	TB100M Timebase = iota
	TB50M
	TB25M
	TB10M
	TB5M
	TB2M5
	TB1M
	TB500k
	TB250k
	TB100k
	TB50k
	TB25k
	TB10k
)

var (
	channelNames  = []string{"CH1", "CH2"}
	couplingNames = []string{"DC", "AC", "GND"}
	sourceNames   = []string{"CH1", "CH2", "EXT"}
	slopeNames    = []string{"rising", "falling"}
	modeNames     = []string{"single", "alternate"}
	typeNames     = []string{"edge", "pulse", "video"}
	tbNames       = []string{
		"100MS/s", "50MS/s", "25MS/s", "10MS/s", "5MS/s", "2.5MS/s",
		"1MS/s", "500kS/s", "250kS/s", "100kS/s", "50kS/s", "25kS/s",
		"10kS/s",
	}
)

func name(names []string, v int, kind string) string {
	if v < 0 || v >= len(names) {
		return fmt.Sprintf("%s(%d)", kind, v)
	}
	return names[v]
}

func parse(names []string, txt []byte, kind string) (int, error) {
	s := string(txt)
	for i, n := range names {
		if strings.EqualFold(n, s) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("scope: invalid %s %q", kind, s)
}

func (ch Channel) String() string      { return name(channelNames, int(ch), "channel") }
func (c Coupling) String() string      { return name(couplingNames, int(c), "coupling") }
func (src Source) String() string      { return name(sourceNames, int(src), "source") }
func (sl Slope) String() string        { return name(slopeNames, int(sl), "slope") }
func (m Mode) String() string          { return name(modeNames, int(m), "mode") }
func (typ TriggerType) String() string { return name(typeNames, int(typ), "trigger-type") }
func (tb Timebase) String() string     { return name(tbNames, int(tb), "timebase") }

func (ch *Channel) UnmarshalText(p []byte) error {
	v, err := parse(channelNames, p, "channel")
	*ch = Channel(v)
	return err
}

func (c *Coupling) UnmarshalText(p []byte) error {
	v, err := parse(couplingNames, p, "coupling")
	*c = Coupling(v)
	return err
}

func (src *Source) UnmarshalText(p []byte) error {
	v, err := parse(sourceNames, p, "source")
	*src = Source(v)
	return err
}

func (sl *Slope) UnmarshalText(p []byte) error {
	v, err := parse(slopeNames, p, "slope")
	*sl = Slope(v)
	return err
}

func (m *Mode) UnmarshalText(p []byte) error {
	v, err := parse(modeNames, p, "mode")
	*m = Mode(v)
	return err
}

func (typ *TriggerType) UnmarshalText(p []byte) error {
	v, err := parse(typeNames, p, "trigger-type")
	*typ = TriggerType(v)
	return err
}

func (tb *Timebase) UnmarshalText(p []byte) error {
	v, err := parse(tbNames, p, "timebase")
	*tb = Timebase(v)
	return err
}

// ChannelConfig describes the setup of one analog input.
type ChannelConfig struct {
	Channel  Channel
	Enabled  bool
	Range    int // voltage range index
	Coupling Coupling
}

func (cc ChannelConfig) validate() error {
	switch {
	case int(cc.Channel) >= len(channelNames):
		return &ConfigError{Field: "channel", Value: cc.Channel}
	case cc.Range < 0 || cc.Range >= calib.NumRanges:
		return &ConfigError{Field: "voltage range", Value: cc.Range}
	case int(cc.Coupling) >= len(couplingNames):
		return &ConfigError{Field: "coupling", Value: cc.Coupling}
	}
	return nil
}

// TriggerConfig describes the trigger setup.
type TriggerConfig struct {
	Source  Source
	Slope   Slope
	Mode    Mode
	Type    TriggerType
	Holdoff time.Duration
	Level   int // trigger level, clamped to the signed 8-bit range
}

func (tc TriggerConfig) validate() error {
	switch {
	case int(tc.Source) >= len(sourceNames):
		return &ConfigError{Field: "trigger source", Value: tc.Source}
	case int(tc.Slope) >= len(slopeNames):
		return &ConfigError{Field: "trigger slope", Value: tc.Slope}
	case int(tc.Mode) >= len(modeNames):
		return &ConfigError{Field: "trigger mode", Value: tc.Mode}
	case int(tc.Type) >= len(typeNames):
		return &ConfigError{Field: "trigger type", Value: tc.Type}
	case tc.Holdoff < 0:
		return &ConfigError{Field: "trigger holdoff", Value: tc.Holdoff}
	}
	return nil
}

func validateTimebase(tb Timebase) error {
	if int(tb) >= len(tbNames) {
		return &ConfigError{Field: "timebase", Value: tb}
	}
	return nil
}

// Config is the full front-end setup applied by Session.Configure.
type Config struct {
	Channels []ChannelConfig
	Timebase Timebase
	Trigger  TriggerConfig
}

// Validate checks every value of the configuration.
func (cfg Config) Validate() error {
	seen := make(map[Channel]bool, len(cfg.Channels))
	for _, cc := range cfg.Channels {
		err := cc.validate()
		if err != nil {
			return err
		}
		if seen[cc.Channel] {
			return &ConfigError{Field: "duplicate channel", Value: cc.Channel}
		}
		seen[cc.Channel] = true
	}

	err := validateTimebase(cfg.Timebase)
	if err != nil {
		return err
	}

	return cfg.Trigger.validate()
}
