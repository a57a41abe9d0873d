package netd

import "testing"

func TestRecordSendSuccessAndFailure(t *testing.T) {
	m := NewMetrics()
	m.RecordSend(100, 5_000, true)
	m.RecordSend(0, 5_000, false)

	snap := m.Snapshot()
	if snap.BytesSent != 100 {
		t.Errorf("BytesSent = %d, want 100", snap.BytesSent)
	}
	if snap.SendErrors != 1 {
		t.Errorf("SendErrors = %d, want 1", snap.SendErrors)
	}
}

func TestRecordProbeOutcomes(t *testing.T) {
	m := NewMetrics()
	m.RecordProbe(true)
	m.RecordProbe(true)
	m.RecordProbe(false)

	snap := m.Snapshot()
	if snap.ProbesSucceeded != 2 {
		t.Errorf("ProbesSucceeded = %d, want 2", snap.ProbesSucceeded)
	}
	if snap.ProbesFailed != 1 {
		t.Errorf("ProbesFailed = %d, want 1", snap.ProbesFailed)
	}
}

func TestLatencyHistogramBucketsAccumulate(t *testing.T) {
	m := NewMetrics()
	m.RecordSend(1, 500, true) // well under the 1us bucket

	snap := m.Snapshot()
	if snap.LatencyHistogram[0] != 1 {
		t.Errorf("first latency bucket = %d, want 1", snap.LatencyHistogram[0])
	}
}

func TestMetricsObserverDelegatesToMetrics(t *testing.T) {
	m := NewMetrics()
	obs := NewMetricsObserver(m)
	obs.ObserveSend(10, 1, true)
	obs.ObserveRecv(20, 1, true)
	obs.ObserveProbe(true)

	snap := m.Snapshot()
	if snap.BytesSent != 10 || snap.BytesReceived != 20 || snap.ProbesSucceeded != 1 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestNoOpObserverDiscardsEverything(t *testing.T) {
	var obs Observer = NoOpObserver{}
	obs.ObserveSend(1, 1, true)
	obs.ObserveRecv(1, 1, true)
	obs.ObserveProbe(true)
}
