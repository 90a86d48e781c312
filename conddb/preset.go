// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import (
	"context"
	"fmt"
	"time"

	"github.com/go-lpc/dso/scope"
)

// Preset is a stored front-end configuration for one device.
type Preset struct {
	ID       int64
	Serial   string
	Firmware string // name of the firmware image
	Config   scope.Config
}

// Preset returns the most recent preset stored for the device with the
// given serial number.
func (db *DB) Preset(ctx context.Context, serial string) (Preset, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	preset := Preset{Serial: serial}
	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT identifier, firmware, timebase,
	trig_source, trig_slope, trig_mode, trig_type, trig_holdoff, trig_level
FROM presets
WHERE serial=?
ORDER BY datetime DESC LIMIT 1
`,
		serial,
	)
	if err != nil {
		return preset, fmt.Errorf("conddb: could not query preset for %q: %w", serial, err)
	}
	defer rows.Close()

	var (
		found bool
		cfg   = &preset.Config
	)
	for rows.Next() {
		var (
			tb, src, slope, mode, typ string
			holdoff                   int64
		)
		err = rows.Scan(
			&preset.ID, &preset.Firmware, &tb,
			&src, &slope, &mode, &typ, &holdoff, &cfg.Trigger.Level,
		)
		if err != nil {
			return preset, fmt.Errorf("conddb: could not get preset for %q: %w", serial, err)
		}

		for _, v := range []struct {
			dst interface{ UnmarshalText([]byte) error }
			txt string
		}{
			{&cfg.Timebase, tb},
			{&cfg.Trigger.Source, src},
			{&cfg.Trigger.Slope, slope},
			{&cfg.Trigger.Mode, mode},
			{&cfg.Trigger.Type, typ},
		} {
			err = v.dst.UnmarshalText([]byte(v.txt))
			if err != nil {
				return preset, fmt.Errorf("conddb: invalid preset for %q: %w", serial, err)
			}
		}
		cfg.Trigger.Holdoff = time.Duration(holdoff) * time.Nanosecond
		found = true
	}

	if err := rows.Err(); err != nil {
		return preset, fmt.Errorf("conddb: could not scan db for preset %q: %w", serial, err)
	}

	if err := ctx.Err(); err != nil {
		return preset, fmt.Errorf("conddb: context error while retrieving preset %q: %w", serial, err)
	}

	if !found {
		return preset, fmt.Errorf("conddb: preset for %q: %w", serial, ErrNotFound)
	}

	cfg.Channels, err = db.channels(ctx, preset.ID)
	if err != nil {
		return preset, err
	}

	return preset, nil
}

func (db *DB) channels(ctx context.Context, preset int64) ([]scope.ChannelConfig, error) {
	var chans []scope.ChannelConfig
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT channel, enabled, vrange, coupling FROM preset_channels WHERE preset=? ORDER BY channel",
		preset,
	)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not query channels of preset %d: %w", preset, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cc       scope.ChannelConfig
			ch, coup string
		)
		err = rows.Scan(&ch, &cc.Enabled, &cc.Range, &coup)
		if err != nil {
			return nil, fmt.Errorf("conddb: could not get channel of preset %d: %w", preset, err)
		}
		err = cc.Channel.UnmarshalText([]byte(ch))
		if err != nil {
			return nil, fmt.Errorf("conddb: invalid channel of preset %d: %w", preset, err)
		}
		err = cc.Coupling.UnmarshalText([]byte(coup))
		if err != nil {
			return nil, fmt.Errorf("conddb: invalid channel of preset %d: %w", preset, err)
		}
		chans = append(chans, cc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conddb: could not scan db for channels of preset %d: %w", preset, err)
	}

	return chans, nil
}
