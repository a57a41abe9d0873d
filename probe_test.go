package netd

import (
	"context"
	"errors"
	"testing"
)

func TestProbePipelineAddsRealInterface(t *testing.T) {
	dm := NewFakeDeviceManager()
	dm.AddDevice("eth0", 1, NewFakeNetDriver([6]byte{0x02, 0, 0, 0, 0, 1}))

	s := New(Config{DeviceManager: dm})
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if got := s.Info().Interfaces; got != 2 {
		t.Fatalf("Interfaces = %d, want 2 (loopback + eth0)", got)
	}
}

func TestProbeDedupesByHardwareID(t *testing.T) {
	dm := NewFakeDeviceManager()
	dm.AddDevice("eth0", 7, NewFakeNetDriver([6]byte{0x02, 0, 0, 0, 0, 2}))

	s := New(Config{DeviceManager: dm})
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	before := s.Info().Interfaces

	// Re-announce the same hardware id under the same name: syncDevices
	// dedupes against the pending FIFO, and probedHW dedupes against
	// hardware already bound (spec.md §8 invariant 3).
	s.syncDevices(context.Background())
	s.processPendingProbes(context.Background())

	if after := s.Info().Interfaces; after != before {
		t.Errorf("Interfaces after re-announce = %d, want unchanged %d", after, before)
	}
}

// failingMACDriver is a FakeNetDriver whose MAC query fails, making probe
// return an error after ring and SHM setup.
type failingMACDriver struct{ *FakeNetDriver }

func (failingMACDriver) MACAddress(context.Context) ([6]byte, error) {
	return [6]byte{}, errors.New("mac unavailable")
}

func TestProbeFailureIsNotFatalToInit(t *testing.T) {
	dm := NewFakeDeviceManager()
	// The only device fails to probe: Init must still succeed, and the
	// device is skipped, leaving loopback as the only interface.
	dm.AddDevice("eth0", 1, failingMACDriver{NewFakeNetDriver([6]byte{0x02, 0, 0, 0, 0, 1})})
	s := New(Config{DeviceManager: dm})
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := s.Info().Interfaces; got != 1 {
		t.Errorf("Interfaces = %d, want 1 (loopback only)", got)
	}
}

func TestGlobalPoolExistsEvenWithZeroProbedDevices(t *testing.T) {
	dm := NewFakeDeviceManager()
	s := New(Config{DeviceManager: dm})
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := s.Info().Interfaces; got != 1 {
		t.Fatalf("Interfaces = %d, want 1 (loopback only, no device ever probed)", got)
	}
	if _, _, err := s.packetPool(); err != nil {
		t.Fatalf("packetPool after Init with zero probed devices: %v", err)
	}
}

func TestGlobalPoolIsSharedAcrossDevices(t *testing.T) {
	dm := NewFakeDeviceManager()
	dm.AddDevice("eth0", 1, NewFakeNetDriver([6]byte{0x02, 0, 0, 0, 0, 1}))
	dm.AddDevice("eth1", 2, NewFakeNetDriver([6]byte{0x02, 0, 0, 0, 0, 2}))

	s := New(Config{DeviceManager: dm})
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	pool, _, err := s.packetPool()
	if err != nil {
		t.Fatalf("packetPool: %v", err)
	}
	pool2, _, err := s.packetPool()
	if err != nil {
		t.Fatalf("packetPool (second call): %v", err)
	}
	if pool != pool2 {
		t.Error("expected packetPool to return the same pool on every call")
	}
}
