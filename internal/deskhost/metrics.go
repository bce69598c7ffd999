package deskhost

import (
	"sync/atomic"
	"time"
)

// StreamMetrics aggregates per-second pipeline counters: "Stats thread"
// host pipeline telemetry (frames captured/encoded/sent/skipped/dropped),
// not OS-level resource metrics (that distinction is recorded in
// DESIGN.md's justification for dropping the resource-monitoring
// dependency).
type StreamMetrics struct {
	started time.Time

	framesCaptured atomic.Uint64
	framesEncoded  atomic.Uint64
	framesSent     atomic.Uint64
	framesSkipped  atomic.Uint64
	framesDropped  atomic.Uint64
	bytesSent      atomic.Uint64
	lastFrameSize  atomic.Uint64
	lastEncodeUs   atomic.Uint64
}

// NewStreamMetrics constructs a metrics aggregator with its clock started.
func NewStreamMetrics() *StreamMetrics {
	return &StreamMetrics{started: time.Now()}
}

func (m *StreamMetrics) RecordCapture() { m.framesCaptured.Add(1) }
func (m *StreamMetrics) RecordEncode(us uint32) {
	m.framesEncoded.Add(1)
	m.lastEncodeUs.Store(uint64(us))
}
func (m *StreamMetrics) RecordSkip() { m.framesSkipped.Add(1) }
func (m *StreamMetrics) RecordDrop() { m.framesDropped.Add(1) }
func (m *StreamMetrics) RecordSent(n int) {
	m.framesSent.Add(1)
	m.bytesSent.Add(uint64(n))
	m.lastFrameSize.Store(uint64(n))
}

// MetricsSnapshot is a point-in-time copy of the aggregated counters.
type MetricsSnapshot struct {
	FramesCaptured uint64
	FramesEncoded  uint64
	FramesSent     uint64
	FramesSkipped  uint64
	FramesDropped  uint64
	EncodeMs       float64
	LastFrameSize  uint64
	BandwidthKBps  float64
	Uptime         time.Duration
}

// Snapshot computes a consistent-enough view of the counters for logging.
func (m *StreamMetrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.started)
	secs := uptime.Seconds()
	bw := 0.0
	if secs > 0 {
		bw = float64(m.bytesSent.Load()) / 1024 / secs
	}
	return MetricsSnapshot{
		FramesCaptured: m.framesCaptured.Load(),
		FramesEncoded:  m.framesEncoded.Load(),
		FramesSent:     m.framesSent.Load(),
		FramesSkipped:  m.framesSkipped.Load(),
		FramesDropped:  m.framesDropped.Load(),
		EncodeMs:       float64(m.lastEncodeUs.Load()) / 1000,
		LastFrameSize:  m.lastFrameSize.Load(),
		BandwidthKBps:  bw,
		Uptime:         uptime,
	}
}
