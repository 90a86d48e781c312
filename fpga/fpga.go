// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fpga uploads bitstreams to the oscilloscope's reprogrammable
// front-end.
//
// An upload starts with a download request carrying the image size.
// The device replies with a handshake:
//
//	[STATUS(1)=0x02][BUFSIZE(4, LE)]
//
// The image is then sent in frames of BUFSIZE-4 data bytes, each frame
// prefixed with its little-endian u32 index, and each frame is
// acknowledged before the next one is sent.
package fpga // import "github.com/go-lpc/dso/fpga"

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/go-lpc/dso/internal/regs"
	"github.com/go-lpc/dso/wire"
)

const (
	handshakeSize = 5
	indexSize     = 4

	// DefaultChunkSize is the default size of the bulk writes a frame is
	// split into.
	DefaultChunkSize = 64
)

// Conn is the half-duplex link to the device.
type Conn interface {
	Send(p []byte) error
	Recv(max int) ([]byte, error)
}

// Progress describes the state of an on-going upload.
type Progress struct {
	Frame   int           // index of the last acknowledged frame
	Frames  int           // total number of frames
	Bytes   int           // number of image bytes acknowledged
	Total   int           // image size
	Elapsed time.Duration // time since the upload started
}

// Uploader programs the front-end over a Conn.
type Uploader struct {
	conn  Conn
	msg   *log.Logger
	chunk int
	prog  func(Progress)
}

// New creates a new uploader.
func New(conn Conn, opts ...Option) *Uploader {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Uploader{
		conn:  conn,
		msg:   cfg.msg,
		chunk: cfg.chunk,
		prog:  cfg.prog,
	}
}

// Upload sends the whole image to the device.
//
// A failed upload must be restarted from scratch.
func (up *Uploader) Upload(ctx context.Context, image []byte) error {
	if len(image) == 0 {
		return fmt.Errorf("fpga: empty firmware image")
	}

	size, err := up.handshake(image)
	if err != nil {
		return err
	}

	var (
		start  = time.Now()
		frames = (len(image) + size - 1) / size
		buf    = make([]byte, indexSize+size)
	)

	up.msg.Printf("uploading firmware (%d bytes, %d frames of %d bytes)...", len(image), frames, size)
	for i := 0; i < frames; i++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("fpga: upload interrupted at frame %d: %w", i, ctx.Err())
		default:
		}

		beg := i * size
		end := beg + size
		if end > len(image) {
			end = len(image)
		}
		binary.LittleEndian.PutUint32(buf[:indexSize], uint32(i))
		n := copy(buf[indexSize:], image[beg:end])
		err = up.send(buf[:indexSize+n])
		if err != nil {
			return fmt.Errorf("fpga: could not send frame %d: %w", i, err)
		}

		resp, err := up.conn.Recv(handshakeSize)
		if err != nil {
			return fmt.Errorf("fpga: could not read ack for frame %d: %w", i, err)
		}
		if len(resp) == 0 || wire.Status(resp[0]) != wire.StatusAck {
			var st wire.Status
			if len(resp) > 0 {
				st = wire.Status(resp[0])
			}
			return &FrameError{Index: i, Status: st}
		}

		if up.prog != nil {
			up.prog(Progress{
				Frame:   i,
				Frames:  frames,
				Bytes:   end,
				Total:   len(image),
				Elapsed: time.Since(start),
			})
		}
	}
	up.msg.Printf("uploading firmware (%d bytes, %d frames of %d bytes)... [ok] (%v)", len(image), frames, size, time.Since(start))

	return nil
}

// handshake requests the download and returns the number of image bytes
// per frame.
func (up *Uploader) handshake(image []byte) (int, error) {
	req, err := wire.Encode(regs.FPGADownload, wire.U32(uint32(len(image))))
	if err != nil {
		return 0, fmt.Errorf("fpga: could not encode download request: %w", err)
	}

	err = up.conn.Send(req)
	if err != nil {
		return 0, fmt.Errorf("fpga: could not send download request: %w", err)
	}

	resp, err := up.conn.Recv(handshakeSize)
	if err != nil {
		return 0, fmt.Errorf("fpga: could not read download handshake: %w", err)
	}
	if len(resp) < handshakeSize {
		var st wire.Status
		if len(resp) > 0 {
			st = wire.Status(resp[0])
		}
		return 0, &RejectedError{Status: st, Err: io.ErrUnexpectedEOF}
	}

	st := wire.Status(resp[0])
	if st != wire.StatusUploadReady {
		return 0, &RejectedError{Status: st}
	}

	bufsz := int(binary.LittleEndian.Uint32(resp[1:handshakeSize]))
	size := bufsz - indexSize
	if size <= 0 {
		return 0, &RejectedError{
			Status: st,
			Err:    fmt.Errorf("invalid frame buffer size %d", bufsz),
		}
	}
	return size, nil
}

// send writes a frame in sub-chunks, without waiting for an acknowledgement
// in between.
func (up *Uploader) send(p []byte) error {
	for len(p) > 0 {
		n := up.chunk
		if n > len(p) {
			n = len(p)
		}
		err := up.conn.Send(p[:n])
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}
