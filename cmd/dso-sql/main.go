// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dso-sql inspects the oscilloscope presets database.
package main // import "github.com/go-lpc/dso/cmd/dso-sql"

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-lpc/dso/conddb"
	_ "github.com/go-sql-driver/mysql"
)

const (
	dbname = "dsodb"
)

func main() {
	log.SetPrefix("dso-sql: ")
	log.SetFlags(0)

	var (
		serial = flag.String("serial", "", "serial number of the device to inspect")
		runs   = flag.Int("runs", 10, "number of recent runs to display")
	)

	flag.Parse()

	log.Printf("serial: %q", *serial)

	db, err := conddb.Open(dbname)
	if err != nil {
		log.Fatalf("could not open presets db: %+v", err)
	}
	defer db.Close()

	err = doQuery(os.Stdout, db, *serial, *runs)
	if err != nil {
		log.Fatalf("could not do query: %+v", err)
	}
}

type querier interface {
	Preset(ctx context.Context, serial string) (conddb.Preset, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func doQuery(w io.Writer, db querier, serial string, nruns int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if serial == "" {
		v, err := lastSerial(ctx, db)
		if err != nil {
			return fmt.Errorf("could not get last serial: %w", err)
		}
		serial = v
		fmt.Fprintf(w, "serial: %q\n", serial)
	}

	preset, err := db.Preset(ctx, serial)
	if err != nil {
		return fmt.Errorf("could not get preset (serial=%q): %w", serial, err)
	}
	fmt.Fprintf(w, "preset:   %d\n", preset.ID)
	fmt.Fprintf(w, "firmware: %q\n", preset.Firmware)
	fmt.Fprintf(w, "timebase: %v\n", preset.Config.Timebase)
	for _, cc := range preset.Config.Channels {
		fmt.Fprintf(w, ">>> %v: enabled=%v, range=%d, coupling=%v\n",
			cc.Channel, cc.Enabled, cc.Range, cc.Coupling,
		)
	}
	tc := preset.Config.Trigger
	fmt.Fprintf(w, "trigger:  source=%v, slope=%v, mode=%v, type=%v, holdoff=%v, level=%d\n",
		tc.Source, tc.Slope, tc.Mode, tc.Type, tc.Holdoff, tc.Level,
	)

	rows, err := db.QueryContext(
		ctx,
		"SELECT firmware, start, stop, frames, status FROM runs WHERE serial=? ORDER BY start DESC LIMIT ?",
		serial, nruns,
	)
	if err != nil {
		return fmt.Errorf("could not get runs: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var (
			fw     string
			beg    time.Time
			end    time.Time
			frames int64
			status string
		)
		err = rows.Scan(&fw, &beg, &end, &frames, &status)
		if err != nil {
			return fmt.Errorf("could not scan run: %w", err)
		}
		fmt.Fprintf(w, "run[%d]: fw=%q start=%s dt=%v frames=%d status=%q\n",
			n, fw, beg.Format(time.RFC3339), end.Sub(beg), frames, status,
		)
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("could not scan runs: %w", err)
	}
	fmt.Fprintf(w, "runs: %d\n", n)

	return nil
}

func lastSerial(ctx context.Context, db querier) (string, error) {
	rows, err := db.QueryContext(ctx, "SELECT serial FROM presets ORDER BY datetime DESC LIMIT 1")
	if err != nil {
		return "", fmt.Errorf("could not query presets: %w", err)
	}
	defer rows.Close()

	var serial string
	for rows.Next() {
		err = rows.Scan(&serial)
		if err != nil {
			return "", fmt.Errorf("could not scan serial: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("could not scan presets: %w", err)
	}
	if serial == "" {
		return "", fmt.Errorf("no preset in db")
	}
	return serial, nil
}
