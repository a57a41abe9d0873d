// Package ipc isolates the microkernel primitives netd is built on top
// of — endpoints, badges, the per-thread transfer buffer, and the
// device/resource manager RPC surfaces — behind Go interfaces. None of
// these are implemented here; a real deployment supplies concrete types
// that satisfy them. This mirrors how go-ublk's internal/interfaces
// package isolates the kernel block-device ABI behind a Backend
// interface so the rest of the tree never imports it directly.
package ipc

import "context"

// CapPtr is an opaque capability-slot index. The zero value denotes no
// capability.
type CapPtr uint32

// Badge is the 64-bit routing tag a minted endpoint carries and that
// accompanies every message received on it.
type Badge uint64

// MsgTag describes one IPC message header: protocol and label identify
// the call, Flags carries call-specific bits, and CapCount is the number
// of capabilities riding along with the message.
type MsgTag struct {
	Protocol uint32
	Label    uint32
	Flags    uint32
	CapCount uint32
}

// Protocol and label identifiers used by the dispatch table (spec §6).
const (
	ProtoNetwork uint32 = 1
	ProtoKernel  uint32 = 2

	LabelSocket        uint32 = 1
	LabelBind          uint32 = 2
	LabelListen        uint32 = 3
	LabelConnect       uint32 = 4
	LabelAccept        uint32 = 5
	LabelClose         uint32 = 6
	LabelSend          uint32 = 7
	LabelRecv          uint32 = 8
	LabelSetupIOURing  uint32 = 9
	LabelProcessIOURing uint32 = 10

	LabelNotify uint32 = 1
)

// UTCB is the per-thread user transfer control block: a fixed register
// file, an inline data buffer, and the send/recv/reply windows the
// kernel consults when delivering or relaying a message.
type UTCB struct {
	Tag   MsgTag
	MRs   [8]uint64
	Data  []byte
	Badge Badge

	RecvWindow  CapPtr
	ReplyWindow CapPtr
}

// Endpoint is an opaque, unforgeable reference to a kernel IPC object.
// Possessing one grants the right to send or receive on it.
type Endpoint interface {
	// Recv blocks until a message arrives, filling utcb and returning the
	// sender's badge. Returns a would-block/timeout error on spurious
	// wakeup, never blocking indefinitely when ctx is canceled.
	Recv(ctx context.Context, utcb *UTCB) (Badge, error)
	// Reply sends utcb back to the most recent caller via the reply
	// capability currently installed in the given slot.
	Reply(reply CapPtr, utcb *UTCB) error
	// Mint derives a new capability to this endpoint stamped with badge.
	Mint(badge Badge) (CapPtr, error)
}

// DeviceType enumerates the logic-device kinds the device manager can
// report; only Net devices are probed by this service.
type DeviceType int

const (
	DeviceTypeUnknown DeviceType = iota
	DeviceTypeBlock
	DeviceTypeNet
)

// LogicDesc is the descriptor the device manager returns for one logic
// device: its kind and a human-readable name.
type LogicDesc struct {
	Type DeviceType
	Name string
}

// HookTarget selects which future device discoveries a hook subscribes to.
type HookTarget struct {
	Type DeviceType
}

// DeviceManagerClient is the subset of the device manager's RPC surface
// the probe pipeline consumes (spec §6).
type DeviceManagerClient interface {
	// Query returns the names of all devices matching filter.
	Query(ctx context.Context, filter DeviceType) ([]string, error)
	// GetLogicDesc resolves name to a (hardware id, descriptor) pair.
	GetLogicDesc(ctx context.Context, name string) (hwID uint64, desc LogicDesc, err error)
	// AllocLogic requests an endpoint to the named logic device, installed
	// into slot.
	AllocLogic(ctx context.Context, typ DeviceType, name string, slot CapPtr) (NetDriverClient, error)
	// Hook registers notifyEndpoint as the receiver for future discoveries
	// of devices matching target.
	Hook(ctx context.Context, target HookTarget, notifyEndpoint CapPtr) error
}

// RingFrame identifies the DMA frame capability backing a mapped
// submission/completion ring.
type RingFrame struct {
	Frame CapPtr
	Bytes uint64
}

// NetDriverClient is the RPC surface a net device driver exposes to the
// service that has probed it (spec §4.1, §6).
type NetDriverClient interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	// MACAddress returns the device's hardware address.
	MACAddress(ctx context.Context) ([6]byte, error)
	// SetupRing asks the driver to allocate a submission/completion ring
	// of the given depths, wired to deliver NOTIFY messages to
	// notifyEndpoint carrying recvSlot's badge.
	SetupRing(ctx context.Context, sqEntries, cqEntries int, notifyEndpoint Endpoint, recvSlot CapPtr) (RingFrame, error)
	// SetupSHM registers a preallocated packet pool with the driver.
	SetupSHM(ctx context.Context, frame CapPtr, vaddr, paddr, size uint64) error
}

// ResourceManagerClient is the subset of the resource manager's RPC
// surface the server core consumes during init (spec §6).
type ResourceManagerClient interface {
	GetCap(ctx context.Context, typ string, key string, slot CapPtr) error
	RegisterCap(ctx context.Context, typ string, key string, cap CapPtr) error
	// DMAAlloc allocates pages of physically contiguous memory, installing
	// the frame capability into slot and returning its physical address.
	DMAAlloc(ctx context.Context, pages int, slot CapPtr) (paddr uint64, frame CapPtr, err error)
	// Mmap maps frame into the caller's address space at vaddr for size bytes.
	Mmap(ctx context.Context, frame CapPtr, vaddr, size uint64) ([]byte, error)
	// GetConfig fetches the named configuration blob, installing its frame
	// capability into slot.
	GetConfig(ctx context.Context, name string, slot CapPtr) (data []byte, found bool, err error)
}
