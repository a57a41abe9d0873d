package netd

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the send/recv latency histogram buckets in
// nanoseconds, logarithmically spaced from 1us to 10s.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks operational statistics for a running server.
type Metrics struct {
	SocketsCreated atomic.Uint64
	SocketsClosed  atomic.Uint64

	BytesSent     atomic.Uint64
	BytesReceived atomic.Uint64
	SendErrors    atomic.Uint64
	RecvErrors    atomic.Uint64

	ProbesSucceeded atomic.Uint64
	ProbesFailed    atomic.Uint64

	RxSubmitted atomic.Uint64
	RxCompleted atomic.Uint64
	TxSubmitted atomic.Uint64
	TxCompleted atomic.Uint64

	IOURingCompletions atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new, running metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSend records a completed send operation.
func (m *Metrics) RecordSend(bytes uint64, latencyNs uint64, success bool) {
	if success {
		m.BytesSent.Add(bytes)
	} else {
		m.SendErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordRecv records a completed recv operation.
func (m *Metrics) RecordRecv(bytes uint64, latencyNs uint64, success bool) {
	if success {
		m.BytesReceived.Add(bytes)
	} else {
		m.RecvErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordProbe records the outcome of one device probe attempt.
func (m *Metrics) RecordProbe(success bool) {
	if success {
		m.ProbesSucceeded.Add(1)
	} else {
		m.ProbesFailed.Add(1)
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the server as stopped for uptime accounting.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics suitable for
// reporting or serialization.
type MetricsSnapshot struct {
	SocketsCreated uint64
	SocketsClosed  uint64

	BytesSent     uint64
	BytesReceived uint64
	SendErrors    uint64
	RecvErrors    uint64

	ProbesSucceeded uint64
	ProbesFailed    uint64

	RxSubmitted uint64
	RxCompleted uint64
	TxSubmitted uint64
	TxCompleted uint64

	IOURingCompletions uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyHistogram [numLatencyBuckets]uint64
}

// Snapshot takes a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		SocketsCreated:     m.SocketsCreated.Load(),
		SocketsClosed:      m.SocketsClosed.Load(),
		BytesSent:          m.BytesSent.Load(),
		BytesReceived:      m.BytesReceived.Load(),
		SendErrors:         m.SendErrors.Load(),
		RecvErrors:         m.RecvErrors.Load(),
		ProbesSucceeded:    m.ProbesSucceeded.Load(),
		ProbesFailed:       m.ProbesFailed.Load(),
		RxSubmitted:        m.RxSubmitted.Load(),
		RxCompleted:        m.RxCompleted.Load(),
		TxSubmitted:        m.TxSubmitted.Load(),
		TxCompleted:        m.TxCompleted.Load(),
		IOURingCompletions: m.IOURingCompletions.Load(),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}
	return snap
}

// Observer allows pluggable metrics collection at the call sites that
// matter to operators: socket send/recv and device probing.
type Observer interface {
	ObserveSend(bytes uint64, latencyNs uint64, success bool)
	ObserveRecv(bytes uint64, latencyNs uint64, success bool)
	ObserveProbe(success bool)
}

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSend(uint64, uint64, bool) {}
func (NoOpObserver) ObserveRecv(uint64, uint64, bool) {}
func (NoOpObserver) ObserveProbe(bool)                {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSend(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordSend(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveRecv(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordRecv(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveProbe(success bool) {
	o.metrics.RecordProbe(success)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
