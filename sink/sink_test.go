// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/go-lpc/dso/scope"
	"github.com/redis/go-redis/v9"
)

type fakeClient struct {
	mu   sync.Mutex
	msgs [][]byte
	err  error
	done chan struct{}
	want int
}

func (c *fakeClient) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd := redis.NewIntCmd(ctx, "publish", channel, message)
	if c.err != nil {
		cmd.SetErr(c.err)
	} else {
		c.msgs = append(c.msgs, message.([]byte))
		cmd.SetVal(1)
	}
	c.want--
	if c.want == 0 {
		close(c.done)
	}
	return cmd
}

func (c *fakeClient) Close() error { return nil }

func TestSink(t *testing.T) {
	cli := &fakeClient{done: make(chan struct{}), want: 3}
	s := newSink(cli, Options{Channel: "dso:samples", Serial: "DSO-1"}, log.New(io.Discard, "", 0))

	for i := 0; i < 3; i++ {
		s.OnSample(scope.Samples{Channel: 1, Volts: []float64{float64(i), 0.5}})
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	<-cli.done
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("could not run sink: %+v", err)
	}

	if got, want := len(cli.msgs), 3; got != want {
		t.Fatalf("invalid number of messages: got=%d, want=%d", got, want)
	}
	for i, raw := range cli.msgs {
		var m Message
		err := json.Unmarshal(raw, &m)
		if err != nil {
			t.Fatalf("could not decode message %d: %+v", i, err)
		}
		if m.Serial != "DSO-1" || m.Seq != uint64(i+1) || m.Channel != 1 || m.Volts[0] != float64(i) {
			t.Fatalf("invalid message %d: %+v", i, m)
		}
	}

	if err := s.Close(); err != nil {
		t.Fatalf("could not close sink: %+v", err)
	}
}

func TestSinkDrop(t *testing.T) {
	cli := &fakeClient{done: make(chan struct{}), want: -1}
	s := newSink(cli, Options{Queue: 2}, log.New(io.Discard, "", 0))

	for i := 0; i < 5; i++ {
		s.OnSample(scope.Samples{})
	}
	if got, want := s.Dropped(), uint64(3); got != want {
		t.Fatalf("invalid number of dropped frames: got=%d, want=%d", got, want)
	}
}

func TestSinkFailure(t *testing.T) {
	cli := &fakeClient{done: make(chan struct{}), want: 1, err: errors.New("connection refused")}
	s := newSink(cli, Options{}, log.New(io.Discard, "", 0))
	s.OnSample(scope.Samples{})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	<-cli.done
	cancel()
	<-errc

	if got, want := s.Failed(), uint64(1); got != want {
		t.Fatalf("invalid number of failures: got=%d, want=%d", got, want)
	}
}
