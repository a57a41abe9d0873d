package netd

import (
	"context"
	"testing"
	"time"

	"github.com/capsys/netd/internal/constants"
	"github.com/capsys/netd/internal/ipc"
)

func TestDispatchSocketCreatesBadge(t *testing.T) {
	s := newTestServer(t)
	utcb := &ipc.UTCB{Tag: ipc.MsgTag{Protocol: ipc.ProtoNetwork, Label: ipc.LabelSocket}}
	utcb.MRs[0], utcb.MRs[1], utcb.MRs[2] = 2, 1, 0

	if err := s.dispatch(context.Background(), 0, utcb); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if utcb.MRs[0] == 0 {
		t.Error("expected a nonzero badge written back into MRs[0]")
	}
}

func TestDispatchUnknownProtocolIsInvalidArgs(t *testing.T) {
	s := newTestServer(t)
	utcb := &ipc.UTCB{Tag: ipc.MsgTag{Protocol: 99, Label: 1}}
	if err := s.dispatch(context.Background(), 0, utcb); !IsCode(err, CodeInvalidArgs) {
		t.Errorf("err = %v, want CodeInvalidArgs", err)
	}
}

func TestDispatchNotifyHookTriggersProbe(t *testing.T) {
	dm := NewFakeDeviceManager()
	dm.AddDevice("eth0", 1, NewFakeNetDriver([6]byte{0x02, 0, 0, 0, 0, 1}))

	s := New(Config{DeviceManager: dm})
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	before := s.Info().Interfaces

	// Announce a second device after Init by adding it to the fake
	// manager, then simulate the HOOK notification that would have told
	// the real event loop to re-sync and probe it (spec.md §8 scenario 3).
	dm.AddDevice("eth1", 2, NewFakeNetDriver([6]byte{0x02, 0, 0, 0, 0, 2}))
	utcb := &ipc.UTCB{Tag: ipc.MsgTag{Protocol: ipc.ProtoKernel, Label: ipc.LabelNotify}}
	err := s.dispatch(context.Background(), ipc.Badge(constants.NotifyHook), utcb)
	if !isSuccessNoReply(err) {
		t.Fatalf("dispatch(NOTIFY): err = %v, want successNoReply", err)
	}

	if after := s.Info().Interfaces; after <= before {
		t.Errorf("Interfaces after hook notify = %d, want more than %d", after, before)
	}
}

func TestDispatchSocketThenBindPutsSocketIntoListen(t *testing.T) {
	s := newTestServer(t)
	utcb := &ipc.UTCB{Tag: ipc.MsgTag{Protocol: ipc.ProtoNetwork, Label: ipc.LabelSocket}}
	utcb.MRs[0], utcb.MRs[1] = 2, 1
	if err := s.dispatch(context.Background(), 0, utcb); err != nil {
		t.Fatalf("socket dispatch: %v", err)
	}
	badge := utcb.MRs[0]

	bindUTCB := &ipc.UTCB{Tag: ipc.MsgTag{Protocol: ipc.ProtoNetwork, Label: ipc.LabelBind}, Data: []byte{0x1F, 0x90}}
	if err := s.dispatch(context.Background(), ipc.Badge(badge), bindUTCB); err != nil {
		t.Fatalf("bind dispatch: %v", err)
	}
}

func TestDispatchSendAndRecvRoundTripOverConnectedLoopbackPair(t *testing.T) {
	s := newTestServer(t)
	clientBadge, serverBadge, err := s.connectLoopbackPair(9100)
	if err != nil {
		t.Fatalf("connectLoopbackPair: %v", err)
	}

	payload := []byte("hello over a connected loopback pair")
	sendUTCB := &ipc.UTCB{
		Tag:  ipc.MsgTag{Protocol: ipc.ProtoNetwork, Label: ipc.LabelSend},
		Data: payload,
	}
	if err := s.dispatch(context.Background(), ipc.Badge(clientBadge), sendUTCB); err != nil {
		t.Fatalf("send dispatch: %v", err)
	}
	if got := int(sendUTCB.MRs[0]); got != len(payload) {
		t.Fatalf("send dispatch reported %d bytes, want %d", got, len(payload))
	}

	var recvUTCB *ipc.UTCB
	for i := 0; i < 1000; i++ {
		recvUTCB = &ipc.UTCB{Tag: ipc.MsgTag{Protocol: ipc.ProtoNetwork, Label: ipc.LabelRecv}}
		recvUTCB.MRs[0] = uint64(len(payload))
		err := s.dispatch(context.Background(), ipc.Badge(serverBadge), recvUTCB)
		if err == nil {
			break
		}
		if !IsCode(err, CodeWouldBlock) {
			t.Fatalf("recv dispatch: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	if got := recvUTCB.Data; string(got) != string(payload) {
		t.Fatalf("recv dispatch returned %q, want %q (byte-exact round trip)", got, payload)
	}
}
