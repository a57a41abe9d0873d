// Package constants holds the fixed capability slot numbers and
// virtual-address regions that the network service and any co-resident
// client agree on by convention (spec.md §6).
package constants

// Capability slots. These are small, fixed indices into the service's
// CSpace. An implementation sharing a capability space layout with other
// services must preserve the exact values.
const (
	// InitSlot holds the capability to the init service, granted at spawn.
	InitSlot = 0
	// DeviceManagerSlot holds the capability to the device manager.
	DeviceManagerSlot = 1
	// ResourceManagerSlot holds the capability to the resource manager.
	ResourceManagerSlot = 2
	// TimeSlot holds the capability to the time/timer service, when present.
	TimeSlot = 3
	// ConfigSlot is where a fetched configuration frame capability lands.
	ConfigSlot = 4
	// OwnEndpointSlot is the slot the service's own listening endpoint
	// occupies once minted and installed (conventionally slot 16 for
	// spawned services, matching the Rust prototype's main.rs).
	OwnEndpointSlot = 16
	// RecvSlot is the capability-window slot used to receive an incoming
	// capability during a call.
	RecvSlot = 17
	// ReplySlot is the capability slot that holds the kernel-provided
	// reply capability for the currently received call.
	ReplySlot = 18
)

// Virtual address layout. Two disjoint, page-aligned regions; rings grow
// upward one page at a time, SHM pools grow upward many pages at a time.
const (
	// PageSize is the architecture page size assumed throughout netd.
	PageSize = 4096

	// RingVABase is the first virtual address handed out for a
	// submission/completion ring mapping.
	RingVABase = 0x4000_0000
	// ShmVABase is the first virtual address handed out for a shared
	// packet-pool mapping. Chosen far enough past RingVABase that many
	// rings (one page each) can never collide with it.
	ShmVABase = 0x5000_0000
)

// Ring sizing. Fixed per-device capacity; both queues must be a power of
// two per the submission/completion ring contract (spec.md §3).
const (
	DeviceSQEntries = 4
	DeviceCQEntries = 4
)

// FrameSize is the fixed size of one shared packet-pool frame.
const FrameSize = 4096

// RXBufferSize is the amount of the first SHM frame reserved per
// in-flight RX submission (spec.md §4.1: "first 2 KiB of SHM frame 0").
const RXBufferSize = 2048

// Notification badge bit layout (spec.md §6: socket-id | notification-kind
// | hardware-id). The low bits carry mask-composable notification-kind
// flags; HookBadge additionally doubles as the literal badge minted for
// the device-manager hook registration, preserved at the same numeric
// value the Rust prototype used so a co-resident driver that already
// expects it keeps working.
const (
	NotifyIOURingSQ uint64 = 1 << 0
	NotifyIOURingCQ uint64 = 1 << 1
	NotifyHook      uint64 = 1 << 2

	HookBadge uint64 = 0x1337
)

// NetEndpointKey is the well-known resource-manager key the service
// registers its own endpoint under so other processes can look it up.
const NetEndpointKey = "net"

// EthernetMTU is the MTU the net device adapter reports to the TCP/IP
// stack (spec.md §4.1).
const (
	EthernetMTU = 1500
)

// Default fallback addressing, used when network.json does not name a
// probed interface (spec.md §4.5 step 5).
const (
	FallbackIPv4    = "10.0.2.15"
	FallbackMask    = 24
	FallbackGateway = "10.0.2.2"

	LoopbackIPv4 = "127.0.0.1"
	LoopbackMask = 8
)
