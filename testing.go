package netd

import (
	"context"
	"net"
	"sync"
	"time"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv4"
	"gvisor.dev/gvisor/pkg/tcpip/transport/tcp"
	"gvisor.dev/gvisor/pkg/waiter"

	"github.com/capsys/netd/internal/constants"
	"github.com/capsys/netd/internal/ipc"
)

// FakeDeviceManager is an in-memory ipc.DeviceManagerClient for tests: it
// reports a fixed set of named devices and hands each one the
// ipc.NetDriverClient registered under that name (spec.md §8's test
// scenarios all build one of these instead of a real device manager).
type FakeDeviceManager struct {
	mu      sync.Mutex
	names   []string
	hwIDs   map[string]uint64
	drivers map[string]ipc.NetDriverClient
	hooked  []ipc.HookTarget
}

// NewFakeDeviceManager creates an empty fake with no devices registered.
func NewFakeDeviceManager() *FakeDeviceManager {
	return &FakeDeviceManager{
		hwIDs:   make(map[string]uint64),
		drivers: make(map[string]ipc.NetDriverClient),
	}
}

// AddDevice registers a Net device under name with the given hardware id
// and driver. Calling it after Run has started simulates a device
// arriving late, the way a real HOOK notification would (spec.md §8
// scenario 3).
func (m *FakeDeviceManager) AddDevice(name string, hwID uint64, driver ipc.NetDriverClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = append(m.names, name)
	m.hwIDs[name] = hwID
	m.drivers[name] = driver
}

func (m *FakeDeviceManager) Query(ctx context.Context, filter ipc.DeviceType) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out, nil
}

func (m *FakeDeviceManager) GetLogicDesc(ctx context.Context, name string) (uint64, ipc.LogicDesc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hwID, ok := m.hwIDs[name]
	if !ok {
		return 0, ipc.LogicDesc{}, NewError("fake_device_manager.get_logic_desc", CodeNotFound, "no such device")
	}
	return hwID, ipc.LogicDesc{Type: ipc.DeviceTypeNet, Name: name}, nil
}

func (m *FakeDeviceManager) AllocLogic(ctx context.Context, typ ipc.DeviceType, name string, slot ipc.CapPtr) (ipc.NetDriverClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[name]
	if !ok {
		return nil, NewError("fake_device_manager.alloc_logic", CodeNotFound, "no such device")
	}
	return d, nil
}

func (m *FakeDeviceManager) Hook(ctx context.Context, target ipc.HookTarget, notifyEndpoint ipc.CapPtr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooked = append(m.hooked, target)
	return nil
}

// FakeNetDriver is an in-memory ipc.NetDriverClient standing in for a
// real driver's ring and SHM setup (spec.md §8): it reports a fixed MAC
// and accepts every setup call. It holds no ring or buffer of its own and
// never moves packets.
type FakeNetDriver struct {
	MAC [6]byte
}

// NewFakeNetDriver creates a driver reporting mac as its hardware address.
func NewFakeNetDriver(mac [6]byte) *FakeNetDriver {
	return &FakeNetDriver{MAC: mac}
}

func (d *FakeNetDriver) Connect(ctx context.Context) error    { return nil }
func (d *FakeNetDriver) Disconnect(ctx context.Context) error { return nil }

func (d *FakeNetDriver) MACAddress(ctx context.Context) ([6]byte, error) {
	return d.MAC, nil
}

func (d *FakeNetDriver) SetupRing(ctx context.Context, sqEntries, cqEntries int, notify ipc.Endpoint, recvSlot ipc.CapPtr) (ipc.RingFrame, error) {
	return ipc.RingFrame{Frame: 0, Bytes: uint64((sqEntries + cqEntries) * 32)}, nil
}

func (d *FakeNetDriver) SetupSHM(ctx context.Context, frame ipc.CapPtr, vaddr, paddr, size uint64) error {
	return nil
}

var _ ipc.DeviceManagerClient = (*FakeDeviceManager)(nil)
var _ ipc.NetDriverClient = (*FakeNetDriver)(nil)

// connectLoopbackAcceptTimeout bounds how long connectLoopbackPair waits
// for the stack to finish a handshake over the loopback interface before
// giving up; loopback delivery is in-process and should complete well
// within this.
const connectLoopbackAcceptTimeout = 2 * time.Second

// connectLoopbackPair drives the stack directly to establish one
// connected TCP pair over the loopback interface (127.0.0.1:port),
// bypassing Facade's Connect/Accept stubs (both NotSupported in this
// revision — see DESIGN.md). It registers both resulting endpoints in
// s.table and returns their badges, so tests can dispatch Send/Recv
// against a socket pair that is actually connected (spec.md §8 scenario
// 4: "the test drives the socket via a stack-side helper").
func (s *Server) connectLoopbackPair(port uint16) (clientBadge, serverBadge uint64, err error) {
	addr := tcpip.FullAddress{
		Addr: tcpip.AddrFromSlice(net.ParseIP(constants.LoopbackIPv4).To4()),
		Port: port,
	}

	var listenWQ waiter.Queue
	listenEP, tcpErr := s.stack.NewEndpoint(tcp.ProtocolNumber, ipv4.ProtocolNumber, &listenWQ)
	if tcpErr != nil {
		return 0, 0, errStr(tcpErr.String())
	}
	if tcpErr := listenEP.Bind(addr); tcpErr != nil {
		return 0, 0, errStr(tcpErr.String())
	}
	if tcpErr := listenEP.Listen(1); tcpErr != nil {
		return 0, 0, errStr(tcpErr.String())
	}
	defer listenEP.Close()

	var clientWQ waiter.Queue
	clientEP, tcpErr := s.stack.NewEndpoint(tcp.ProtocolNumber, ipv4.ProtocolNumber, &clientWQ)
	if tcpErr != nil {
		return 0, 0, errStr(tcpErr.String())
	}
	if tcpErr := clientEP.Connect(addr); tcpErr != nil {
		if _, started := tcpErr.(*tcpip.ErrConnectStarted); !started {
			return 0, 0, errStr(tcpErr.String())
		}
	}

	deadline := time.Now().Add(connectLoopbackAcceptTimeout)
	var serverEP tcpip.Endpoint
	var serverWQ *waiter.Queue
	for {
		var acceptErr tcpip.Error
		serverEP, serverWQ, acceptErr = listenEP.Accept(nil)
		if acceptErr == nil {
			break
		}
		if time.Now().After(deadline) {
			return 0, 0, errStr("connectLoopbackPair: timed out waiting to accept")
		}
		time.Sleep(time.Millisecond)
	}

	for clientEP.Readiness(waiter.WritableEvents)&waiter.WritableEvents == 0 {
		if time.Now().After(deadline) {
			return 0, 0, errStr("connectLoopbackPair: timed out waiting for connect to complete")
		}
		time.Sleep(time.Millisecond)
	}

	clientBadge = s.table.Insert(clientEP, &clientWQ)
	serverBadge = s.table.Insert(serverEP, serverWQ)
	return clientBadge, serverBadge, nil
}
