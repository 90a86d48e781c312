// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sink publishes decoded sample frames on a Redis pub/sub channel
// for live viewers.
//
// Frames are published on a best-effort basis: a frame is dropped when the
// publisher falls behind the acquisition loop. Nothing is stored.
package sink // import "github.com/go-lpc/dso/sink"

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/go-lpc/dso/scope"
	"github.com/redis/go-redis/v9"
)

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// Message is the payload published for every frame.
type Message struct {
	Serial  string    `json:"serial"`
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Channel uint8     `json:"channel"`
	Volts   []float64 `json:"volts"`
}

// Sink publishes sample frames on a Redis channel.
type Sink struct {
	cli     publisher
	channel string
	serial  string
	msg     *log.Logger

	queue chan Message
	seq   uint64

	dropped atomic.Uint64
	failed  atomic.Uint64
}

// Options configures the connection to the Redis server.
type Options struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	Serial   string // device serial number attached to every message
	Queue    int    // number of frames buffered before dropping
}

// Dial connects to the Redis server and checks it is reachable.
func Dial(ctx context.Context, opts Options, msg *log.Logger) (*Sink, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	err := cli.Ping(ctx).Err()
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("sink: could not connect to redis %q: %w", opts.Addr, err)
	}

	return newSink(cli, opts, msg), nil
}

func newSink(cli publisher, opts Options, msg *log.Logger) *Sink {
	if opts.Queue <= 0 {
		opts.Queue = 16
	}
	return &Sink{
		cli:     cli,
		channel: opts.Channel,
		serial:  opts.Serial,
		msg:     msg,
		queue:   make(chan Message, opts.Queue),
	}
}

// OnSample queues a frame for publication. It never blocks.
// It is meant to be used as the acquisition callback.
func (s *Sink) OnSample(smp scope.Samples) {
	s.seq++
	m := Message{
		Serial:  s.serial,
		Seq:     s.seq,
		Time:    time.Now().UTC(),
		Channel: smp.Channel,
		Volts:   smp.Volts,
	}
	select {
	case s.queue <- m:
	default:
		s.dropped.Add(1)
	}
}

// Run publishes queued frames until ctx is done.
func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-s.queue:
			err := s.publish(ctx, m)
			if err != nil {
				s.failed.Add(1)
				s.msg.Printf("could not publish frame %d: %+v", m.Seq, err)
			}
		}
	}
}

func (s *Sink) publish(ctx context.Context, m Message) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("sink: could not encode frame: %w", err)
	}

	err = s.cli.Publish(ctx, s.channel, raw).Err()
	if err != nil {
		return fmt.Errorf("sink: could not publish to %q: %w", s.channel, err)
	}
	return nil
}

// Dropped returns the number of frames dropped because the publisher
// fell behind.
func (s *Sink) Dropped() uint64 { return s.dropped.Load() }

// Failed returns the number of frames that could not be published.
func (s *Sink) Failed() uint64 { return s.failed.Load() }

// Close closes the connection to the Redis server.
func (s *Sink) Close() error {
	err := s.cli.Close()
	if err != nil {
		return fmt.Errorf("sink: could not close redis client: %w", err)
	}
	return nil
}
