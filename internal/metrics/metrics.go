// Package metrics defines the Prometheus collectors for the feed client:
// transport volume, frame extraction and decode outcomes, buffer discards,
// and reconnect activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Connection state gauge values.
const (
	StateIdle             = 0
	StateConnecting       = 1
	StateStreaming        = 2
	StateReconnectPending = 3
	StateAuthRequired     = 4
	StateDisconnected     = 5
)

// Metrics holds every collector the client exports.
type Metrics struct {
	BytesReceived     prometheus.Counter
	ReadsTotal        prometheus.Counter
	FramesExtracted   prometheus.Counter
	FramesDiscarded   prometheus.Counter
	FramesDecoded     prometheus.Counter
	FramesRateLimited prometheus.Counter
	DecodeFailures    prometheus.Counter
	BufferClears      *prometheus.CounterVec
	Reconnects        *prometheus.CounterVec
	ConnectionState   prometheus.Gauge
}

// New creates the collector set under the camlink namespace.
func New() *Metrics {
	return &Metrics{
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "camlink",
			Subsystem: "transport",
			Name:      "bytes_received_total",
			Help:      "Total bytes delivered by the streaming transport",
		}),
		ReadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "camlink",
			Subsystem: "transport",
			Name:      "reads_total",
			Help:      "Total successful transport reads",
		}),
		FramesExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "camlink",
			Subsystem: "frames",
			Name:      "extracted_total",
			Help:      "Frames carved out of the byte stream by marker scanning",
		}),
		FramesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "camlink",
			Subsystem: "frames",
			Name:      "discarded_total",
			Help:      "Marker pairs discarded as noise for being under the minimum frame size",
		}),
		FramesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "camlink",
			Subsystem: "frames",
			Name:      "decoded_total",
			Help:      "Frames decoded and published",
		}),
		FramesRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "camlink",
			Subsystem: "frames",
			Name:      "rate_limited_total",
			Help:      "Frames dropped undecoded by the 20fps decode gate",
		}),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "camlink",
			Subsystem: "frames",
			Name:      "decode_failures_total",
			Help:      "Frames whose bytes failed JPEG decoding",
		}),
		BufferClears: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "camlink",
			Subsystem: "buffer",
			Name:      "clears_total",
			Help:      "Wholesale buffer discards by reason",
		}, []string{"reason"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "camlink",
			Subsystem: "connection",
			Name:      "reconnects_total",
			Help:      "Scheduled reconnect attempts by cause",
		}, []string{"cause"}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "camlink",
			Subsystem: "connection",
			Name:      "state",
			Help:      "Connection state (0=idle 1=connecting 2=streaming 3=reconnect_pending 4=auth_required 5=disconnected)",
		}),
	}
}

// Register adds all collectors plus the Go runtime collectors to a fresh
// registry and returns it.
func (m *Metrics) Register() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		m.BytesReceived,
		m.ReadsTotal,
		m.FramesExtracted,
		m.FramesDiscarded,
		m.FramesDecoded,
		m.FramesRateLimited,
		m.DecodeFailures,
		m.BufferClears,
		m.Reconnects,
		m.ConnectionState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// BufferCleared, FrameExtracted, and FrameDiscarded satisfy the extraction
// layer's stats sink.

func (m *Metrics) BufferCleared(reason string, droppedBytes int) {
	m.BufferClears.WithLabelValues(reason).Inc()
}

func (m *Metrics) FrameExtracted(size int) {
	m.FramesExtracted.Inc()
}

func (m *Metrics) FrameDiscarded(size int) {
	m.FramesDiscarded.Inc()
}
