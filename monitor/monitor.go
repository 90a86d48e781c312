// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package monitor exposes oscilloscope session metrics to Prometheus.
package monitor // import "github.com/go-lpc/dso/monitor"

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters updated by a session.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	frames  prometheus.Counter
	bytes   prometheus.Counter
	writes  *prometheus.CounterVec
	upload  prometheus.Counter
	errors  *prometheus.CounterVec
	state   prometheus.Gauge
	elapsed prometheus.Histogram
}

// New creates a new set of metrics, registered with a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dso_frames_total",
			Help: "Number of decoded sample frames.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dso_frame_bytes_total",
			Help: "Number of raw sample frame bytes read from the device.",
		}),
		writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dso_register_writes_total",
				Help: "Number of register writes, by response status.",
			},
			[]string{"status"},
		),
		upload: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dso_upload_bytes_total",
			Help: "Number of firmware bytes acknowledged by the device.",
		}),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dso_errors_total",
				Help: "Number of session errors, by kind.",
			},
			[]string{"kind"},
		),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dso_session_state",
			Help: "Current session state.",
		}),
		elapsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dso_cycle_duration_seconds",
			Help:    "Duration of one acquisition cycle.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.reg.MustRegister(
		m.frames, m.bytes, m.writes, m.upload,
		m.errors, m.state, m.elapsed,
	)
	return m
}

// Registry returns the registry holding the session metrics,
// or nil for a nil *Metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Frame records a decoded frame of n raw bytes.
func (m *Metrics) Frame(n int, dt time.Duration) {
	if m == nil {
		return
	}
	m.frames.Inc()
	m.bytes.Add(float64(n))
	m.elapsed.Observe(dt.Seconds())
}

// Write records a register write and its response status.
func (m *Metrics) Write(status string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(status).Inc()
}

// Upload records n acknowledged firmware bytes.
func (m *Metrics) Upload(n int) {
	if m == nil {
		return
	}
	m.upload.Add(float64(n))
}

// Error records an error of the given kind.
func (m *Metrics) Error(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

// State records the current session state.
func (m *Metrics) State(v int) {
	if m == nil {
		return
	}
	m.state.Set(float64(v))
}

// Handler returns the HTTP handler exposing the metrics.
// A nil *Metrics exposes an empty registry.
func (m *Metrics) Handler() http.Handler {
	reg := m.Registry()
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Serve exposes the metrics over HTTP on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, msg *log.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("monitor: could not listen on %q: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	msg.Printf("serving metrics on %s", lis.Addr())
	err = srv.Serve(lis)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("monitor: could not serve metrics: %w", err)
	}
	return nil
}
