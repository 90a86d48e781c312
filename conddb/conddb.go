// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb gives access to the oscilloscope presets database:
// per-device front-end configurations, firmware images and the run log.
package conddb // import "github.com/go-lpc/dso/conddb"

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const (
	host = "localhost"
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// ErrNotFound is returned when a preset or firmware image is missing.
var ErrNotFound = errors.New("conddb: not found")

// DB exposes convenience methods to easily retrieve presets and firmware
// images from the database.
type DB struct {
	db   *sql.DB
	name string // name of the presets database
}

// Open opens a connection to the presets database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

// Firmware returns the most recent front-end image with the given name.
func (db *DB) Firmware(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := db.db.QueryContext(
		ctx,
		"SELECT image FROM firmwares WHERE name=? ORDER BY datetime DESC LIMIT 1",
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not query firmware %q: %w", name, err)
	}
	defer rows.Close()

	var (
		img   []byte
		found bool
	)
	for rows.Next() {
		err = rows.Scan(&img)
		if err != nil {
			return nil, fmt.Errorf("conddb: could not get firmware %q: %w", name, err)
		}
		found = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conddb: could not scan db for firmware %q: %w", name, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("conddb: context error while retrieving firmware %q: %w", name, err)
	}

	if !found {
		return nil, fmt.Errorf("conddb: firmware %q: %w", name, ErrNotFound)
	}

	return img, nil
}

// LogRun records the end of an acquisition run.
func (db *DB) LogRun(ctx context.Context, run Run) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		"INSERT INTO runs (serial, firmware, start, stop, frames, status) VALUES (?, ?, ?, ?, ?, ?)",
		run.Serial, run.Firmware, run.Start, run.Stop, int64(run.Frames), run.Status,
	)
	if err != nil {
		return fmt.Errorf("conddb: could not log run for %q: %w", run.Serial, err)
	}
	return nil
}

// Run describes an acquisition run.
type Run struct {
	Serial   string
	Firmware string
	Start    time.Time
	Stop     time.Time
	Frames   uint64
	Status   string
}
