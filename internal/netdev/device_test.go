package netdev

import (
	"context"
	"testing"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"
	"gvisor.dev/gvisor/pkg/tcpip/stack"

	"github.com/capsys/netd/internal/constants"
	"github.com/capsys/netd/internal/ipc"
	"github.com/capsys/netd/internal/ring"
)

type fakeDriver struct {
	mac [6]byte
}

func (f *fakeDriver) Connect(context.Context) error    { return nil }
func (f *fakeDriver) Disconnect(context.Context) error { return nil }
func (f *fakeDriver) MACAddress(context.Context) ([6]byte, error) {
	return f.mac, nil
}
func (f *fakeDriver) SetupRing(context.Context, int, int, ipc.Endpoint, ipc.CapPtr) (ipc.RingFrame, error) {
	return ipc.RingFrame{Bytes: uint64(ring.RequiredBytes(constants.DeviceSQEntries, ring.SizeOfSQE) + ring.RequiredBytes(constants.DeviceCQEntries, ring.SizeOfCQE))}, nil
}
func (f *fakeDriver) SetupSHM(context.Context, ipc.CapPtr, uint64, uint64, uint64) error { return nil }

func newTestDevice(t *testing.T) (*Device, *fakeDriver) {
	t.Helper()
	drv := &fakeDriver{mac: [6]byte{0x02, 0, 0, 0, 0, 1}}
	d := New("eth0", drv, nil)

	ringBuf := make([]byte, ring.RequiredBytes(constants.DeviceSQEntries, ring.SizeOfSQE)+ring.RequiredBytes(constants.DeviceCQEntries, ring.SizeOfCQE))
	if err := d.SetupRing(context.Background(), nil, 0, ringBuf); err != nil {
		t.Fatalf("SetupRing: %v", err)
	}
	shm := make([]byte, 2*constants.FrameSize)
	if err := d.SetupSHM(context.Background(), 0, 0, 0, shm); err != nil {
		t.Fatalf("SetupSHM: %v", err)
	}
	return d, drv
}

func TestMACAddressCaches(t *testing.T) {
	drv := &fakeDriver{mac: [6]byte{1, 2, 3, 4, 5, 6}}
	d := New("eth0", drv, nil)

	mac, err := d.MACAddress(context.Background())
	if err != nil {
		t.Fatalf("MACAddress: %v", err)
	}
	if mac != drv.mac {
		t.Fatalf("MACAddress = %v, want %v", mac, drv.mac)
	}

	drv.mac = [6]byte{9, 9, 9, 9, 9, 9}
	mac2, _ := d.MACAddress(context.Background())
	if mac2 != [6]byte{1, 2, 3, 4, 5, 6} {
		t.Fatal("MACAddress should be cached after first call")
	}
}

func TestPollSubmitsAtMostOneRX(t *testing.T) {
	d, _ := newTestDevice(t)

	d.Poll()
	if !d.rxInFlight {
		t.Fatal("expected an RX submission to be in flight after first Poll")
	}
	if got := d.sq.Len(); got != 1 {
		t.Fatalf("expected exactly one queued submission, got %d", got)
	}

	// A second Poll must not submit again while one is outstanding.
	d.Poll()
	if got := d.sq.Len(); got != 1 {
		t.Fatalf("expected submission count to stay at 1, got %d", got)
	}
}

// stubDispatcher records whether the stack was handed a packet.
type stubDispatcher struct{ called bool }

func (s *stubDispatcher) DeliverNetworkPacket(proto tcpip.NetworkProtocolNumber, pkt *stack.PacketBuffer) {
	s.called = true
}

func buildMinimalEthernetFrame() []byte {
	frame := make([]byte, header.EthernetMinimumSize+4)
	eth := header.Ethernet(frame)
	eth.Encode(&header.EthernetFields{
		SrcAddr: "\x02\x00\x00\x00\x00\x01",
		DstAddr: "\xff\xff\xff\xff\xff\xff",
		Type:    header.IPv4ProtocolNumber,
	})
	return frame
}

func TestPollDeliversCompletedFrame(t *testing.T) {
	d, _ := newTestDevice(t)
	d.Poll() // submit the RX request

	disp := &stubDispatcher{}
	d.Attach(disp)

	frame := buildMinimalEthernetFrame()
	copy(d.shm, frame)

	d.cq.Push(ring.CQE{UserData: rxUserData, Result: int64(len(frame))})
	d.Poll()

	if d.rxInFlight {
		t.Fatal("rxInFlight should clear once the completion is consumed")
	}
	if !disp.called {
		t.Fatal("expected the dispatcher to receive the completed frame")
	}
}

func TestWritePacketsSubmitsToTxFrame(t *testing.T) {
	d, _ := newTestDevice(t)

	payload := []byte("hello")
	if !d.submitWrite(payload) {
		t.Fatal("submitWrite should succeed when SHM and ring are attached")
	}
	txFrame := d.shm[constants.FrameSize : constants.FrameSize+len(payload)]
	if string(txFrame) != "hello" {
		t.Fatalf("tx frame = %q, want %q", txFrame, "hello")
	}
	if d.sq.Len() != 1 {
		t.Fatalf("expected one queued WRITE submission, got %d", d.sq.Len())
	}
}

func TestSubmitWriteFailsWithoutSHM(t *testing.T) {
	drv := &fakeDriver{}
	d := New("eth0", drv, nil)
	ringBuf := make([]byte, ring.RequiredBytes(constants.DeviceSQEntries, ring.SizeOfSQE)+ring.RequiredBytes(constants.DeviceCQEntries, ring.SizeOfCQE))
	if err := d.SetupRing(context.Background(), nil, 0, ringBuf); err != nil {
		t.Fatalf("SetupRing: %v", err)
	}
	if d.submitWrite([]byte("x")) {
		t.Fatal("submitWrite should fail when no SHM is attached")
	}
}
