// Package netdev wraps one driver client as a polled packet device the
// TCP/IP stack can attach to (spec.md §4.1, component C2). It implements
// gvisor's stack.LinkEndpoint, modeled on gvisor's own link/channel
// endpoint (a reference LinkEndpoint backed by a Go channel); here the
// channel is replaced by the submission/completion ring and shared
// packet pool a driver exposes.
package netdev

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"gvisor.dev/gvisor/pkg/buffer"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"
	"gvisor.dev/gvisor/pkg/tcpip/stack"

	"github.com/capsys/netd/internal/constants"
	"github.com/capsys/netd/internal/ipc"
	"github.com/capsys/netd/internal/logging"
	"github.com/capsys/netd/internal/ring"
)

// rxUserData is the fixed tag every RX submission carries; with at most
// one RX in flight per device there is never ambiguity in matching a
// completion back to its request (spec.md §4.1).
const rxUserData = 0xA11CE

// Device presents one net driver client to the stack as a polled link
// endpoint. At most one RX submission is outstanding at a time
// (spec.md §3 invariant).
type Device struct {
	name   string
	driver ipc.NetDriverClient
	log    *logging.Logger

	mac     atomic.Pointer[[6]byte]
	mu      sync.Mutex
	sq      *ring.SubmissionQueue
	cq      *ring.CompletionQueue
	shm     []byte // the shared packet pool, frame 0 reserved for RX
	rxInFlight bool

	dispatcher stack.NetworkDispatcher

	inspect *frameInspector // optional Debug-level Ethernet decode
}

// New creates a device adapter over driver. Call SetupRing and SetupSHM
// before attaching it to an interface.
func New(name string, driver ipc.NetDriverClient, log *logging.Logger) *Device {
	if log == nil {
		log = logging.Default()
	}
	return &Device{name: name, driver: driver, log: log.WithInterface(name), inspect: newFrameInspector()}
}

// MACAddress returns the device's hardware address, caching it after the
// first driver call (spec.md §4.1).
func (d *Device) MACAddress(ctx context.Context) ([6]byte, error) {
	if p := d.mac.Load(); p != nil {
		return *p, nil
	}
	mac, err := d.driver.MACAddress(ctx)
	if err != nil {
		return [6]byte{}, fmt.Errorf("netdev %s: mac_address: %w", d.name, err)
	}
	d.mac.Store(&mac)
	return mac, nil
}

// SetupRing asks the driver to allocate a submission/completion ring and
// wraps the returned frame as this device's ring view.
func (d *Device) SetupRing(ctx context.Context, notify ipc.Endpoint, recvSlot ipc.CapPtr, mapped []byte) error {
	frame, err := d.driver.SetupRing(ctx, constants.DeviceSQEntries, constants.DeviceCQEntries, notify, recvSlot)
	if err != nil {
		return fmt.Errorf("netdev %s: setup_ring: %w", d.name, err)
	}
	if uint64(len(mapped)) < frame.Bytes {
		return fmt.Errorf("netdev %s: mapped ring frame too small: have %d want %d", d.name, len(mapped), frame.Bytes)
	}
	sqBytes := ring.RequiredBytes(constants.DeviceSQEntries, ring.SizeOfSQE)
	cqBytes := ring.RequiredBytes(constants.DeviceCQEntries, ring.SizeOfCQE)
	sq, err := ring.NewSubmissionQueue(mapped[:sqBytes], constants.DeviceSQEntries)
	if err != nil {
		return fmt.Errorf("netdev %s: submission ring: %w", d.name, err)
	}
	cq, err := ring.NewCompletionQueue(mapped[sqBytes:sqBytes+cqBytes], constants.DeviceCQEntries)
	if err != nil {
		return fmt.Errorf("netdev %s: completion ring: %w", d.name, err)
	}

	d.mu.Lock()
	d.sq, d.cq = sq, cq
	d.mu.Unlock()
	return nil
}

// SetupSHM registers the (already mapped) global packet pool with the
// driver and records it as this device's SHM view (spec.md §4.5 step 3:
// devices share the global pool, never a per-device allocation).
func (d *Device) SetupSHM(ctx context.Context, frame ipc.CapPtr, vaddr, paddr uint64, mapped []byte) error {
	if err := d.driver.SetupSHM(ctx, frame, vaddr, paddr, uint64(len(mapped))); err != nil {
		return fmt.Errorf("netdev %s: setup_shm: %w", d.name, err)
	}
	d.mu.Lock()
	d.shm = mapped
	d.mu.Unlock()
	return nil
}

// Poll drives the receive path: if no RX is in flight and SHM is
// attached, it submits one READ; it then peeks the completion queue and,
// on a match, delivers the frame to the attached dispatcher. Called once
// per event-loop iteration for every real device (spec.md §4.4 step 2).
func (d *Device) Poll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sq == nil || d.cq == nil || d.shm == nil {
		return
	}

	if !d.rxInFlight {
		if d.sq.Push(ring.SQE{Opcode: ring.OpRead, Offset: 0, Length: constants.RXBufferSize, UserData: rxUserData}) {
			d.rxInFlight = true
		}
	}

	cqe, ok := d.cq.Peek()
	if !ok || cqe.UserData != rxUserData {
		return
	}
	d.cq.Advance()
	d.rxInFlight = false

	if cqe.Result <= 0 {
		d.log.Debug("rx completion carried an error", "result", cqe.Result)
		return
	}
	n := int(cqe.Result)
	frame := d.shm[:n]
	d.inspect.logRx(d.log, frame)

	if d.dispatcher == nil {
		return
	}
	proto, ok := peekEtherType(frame)
	if !ok {
		return
	}
	payload := make([]byte, len(frame)-header.EthernetMinimumSize)
	copy(payload, frame[header.EthernetMinimumSize:])
	pkt := stack.NewPacketBuffer(stack.PacketBufferOptions{
		Payload: buffer.MakeWithData(payload),
	})
	d.dispatcher.DeliverNetworkPacket(proto, pkt)
}

// Attach implements stack.LinkEndpoint.
func (d *Device) Attach(dispatcher stack.NetworkDispatcher) {
	d.mu.Lock()
	d.dispatcher = dispatcher
	d.mu.Unlock()
}

// IsAttached implements stack.LinkEndpoint.
func (d *Device) IsAttached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dispatcher != nil
}

// MTU implements stack.LinkEndpoint.
func (d *Device) MTU() uint32 { return constants.EthernetMTU }

// MaxHeaderLength implements stack.LinkEndpoint.
func (d *Device) MaxHeaderLength() uint16 { return header.EthernetMinimumSize }

// LinkAddress implements stack.LinkEndpoint.
func (d *Device) LinkAddress() tcpip.LinkAddress {
	if p := d.mac.Load(); p != nil {
		return tcpip.LinkAddress(p[:])
	}
	return ""
}

// Capabilities implements stack.LinkEndpoint.
func (d *Device) Capabilities() stack.LinkEndpointCapabilities { return 0 }

// ARPHardwareType implements stack.LinkEndpoint.
func (d *Device) ARPHardwareType() header.ARPHardwareType { return header.ARPHardwareEther }

// Wait implements stack.LinkEndpoint; this device has no background
// goroutine to wait for.
func (d *Device) Wait() {}

// AddHeader implements stack.LinkEndpoint by prepending an Ethernet
// header addressed from this device's MAC.
func (d *Device) AddHeader(pkt *stack.PacketBuffer) {
	mac := d.LinkAddress()
	eth := header.Ethernet(pkt.LinkHeader().Push(header.EthernetMinimumSize))
	eth.Encode(&header.EthernetFields{
		SrcAddr: mac,
		DstAddr: pkt.EgressRoute.RemoteLinkAddress,
		Type:    pkt.NetworkProtocolNumber,
	})
}

// WritePackets implements stack.LinkEndpoint: every outbound packet is
// submitted as one WRITE against the driver's ring, unconditionally,
// matching the "transmit always returns a token" rationale in spec.md
// §4.1 — there is no backpressure from the ring back to the stack in
// this design, only from the ring's fixed capacity.
func (d *Device) WritePackets(pkts stack.PacketBufferList) (int, tcpip.Error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, pkt := range pkts.AsSlice() {
		frame := pkt.ToBuffer().Flatten()
		d.inspect.logTx(d.log, frame)
		if !d.submitWrite(frame) {
			break
		}
		n++
	}
	return n, nil
}

// submitWrite copies frame into the shared pool (frame index 1, since
// index 0 is reserved for RX) and pushes one WRITE SQE. When no SHM of at
// least two frames is attached, the frame is dropped and false is
// returned; there is no fallback buffer.
func (d *Device) submitWrite(frame []byte) bool {
	if d.sq == nil {
		return false
	}
	if d.shm != nil && len(d.shm) >= 2*constants.FrameSize {
		txFrame := d.shm[constants.FrameSize : constants.FrameSize+constants.FrameSize]
		n := copy(txFrame, frame)
		return d.sq.Push(ring.SQE{Opcode: ring.OpWrite, Offset: uint64(constants.FrameSize), Length: uint64(n), UserData: txUserData()})
	}
	// No SHM attached: nothing to submit through, since the ring protocol
	// always addresses pool offsets. This path exists for completeness
	// against a misconfigured probe and is logged, not fatal.
	d.log.Warn("write attempted with no SHM attached, dropping frame")
	return false
}

var txTag atomic.Uint64

func txUserData() uint64 {
	return 0x7000_0000_0000_0000 | (txTag.Add(1) & 0x0FFF_FFFF_FFFF_FFFF)
}

// peekEtherType reads the EtherType field of an Ethernet frame without
// copying it, returning false if the frame is too short to have one.
func peekEtherType(frame []byte) (tcpip.NetworkProtocolNumber, bool) {
	if len(frame) < header.EthernetMinimumSize {
		return 0, false
	}
	eth := header.Ethernet(frame)
	return eth.Type(), true
}
