// Package netd is a userspace network service for a capability-based
// microkernel. It owns the host's embedded TCP/IP stack, attaches to
// Ethernet-class devices discovered through a device manager, and
// exposes BSD-style socket semantics over capability-addressed IPC.
//
// The service itself never touches the kernel's real capability
// primitives: those are represented by the interfaces in internal/ipc,
// which a concrete deployment supplies. Server runs a single-threaded,
// cooperative event loop, the same shape go-ublk's queue runner uses
// for its submit/complete cycle, generalized here to IPC dispatch,
// device polling, and probing.
package netd

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv4"
	"gvisor.dev/gvisor/pkg/tcpip/stack"
	"gvisor.dev/gvisor/pkg/tcpip/transport/tcp"

	"github.com/capsys/netd/internal/config"
	"github.com/capsys/netd/internal/constants"
	"github.com/capsys/netd/internal/iface"
	"github.com/capsys/netd/internal/ipc"
	"github.com/capsys/netd/internal/logging"
	"github.com/capsys/netd/internal/shm"
	"github.com/capsys/netd/internal/socktab"
)

// Config configures a Server. DeviceManager, ResourceManager and
// Endpoint are the out-of-scope collaborators named in spec.md §6; a
// real deployment supplies concrete implementations, tests supply
// fakes (see testing.go).
type Config struct {
	DeviceManager   ipc.DeviceManagerClient
	ResourceManager ipc.ResourceManagerClient
	Endpoint        ipc.Endpoint

	Log      *logging.Logger
	Metrics  *Metrics
	Observer Observer
}

// ServerInfo is a point-in-time introspection snapshot (SPEC_FULL §3:
// an addition in the spirit of go-ublk's DeviceInfo, absent from the
// original source).
type ServerInfo struct {
	Interfaces int
	Sockets    int
	UptimeNs   int64
	Running    bool
}

// Server is the network service's single process-wide instance
// (spec.md §9: "The service is a single process with process-wide
// mutable state"). All fields below init are touched only by the
// event loop started in Run.
type Server struct {
	cfg      Config
	log      *logging.Logger
	metrics  *Metrics
	observer Observer

	stack *stack.Stack
	table *socktab.Table

	mu         sync.Mutex
	interfaces []*iface.Context
	nextNICID  tcpip.NICID
	routes     []tcpip.Route
	pool       *shm.Pool
	poolVA     uint64

	pendingProbes *queue.Queue
	probedHW      map[uint64]struct{}

	network config.NetworkConfig

	nextRingVA atomic.Uint64
	nextShmVA  atomic.Uint64

	running   atomic.Bool
	startTime time.Time
}

// New constructs a Server from cfg. Call Init before Run.
func New(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = logging.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}
	return &Server{
		cfg:           cfg,
		log:           log,
		metrics:       metrics,
		observer:      observer,
		table:         socktab.NewTable(),
		pendingProbes: queue.New(),
		probedHW:      make(map[uint64]struct{}),
		nextNICID:     1,
	}
}

// Init performs the strict init sequence from spec.md §4.4:
//  1. load network.json (or defaults);
//  2. allocate the global packet pool, sized from that config;
//  3. create the loopback interface;
//  4. hook the device manager for Net devices;
//  5. register the service's own endpoint under the well-known key;
//  6. run an initial device sync and drain pending probes.
func (s *Server) Init(ctx context.Context) error {
	s.stack = stack.New(stack.Options{
		NetworkProtocols:   []stack.NetworkProtocolFactory{ipv4.NewProtocol},
		TransportProtocols: []stack.TransportProtocolFactory{tcp.NewProtocol},
	})
	s.nextRingVA.Store(constants.RingVABase)
	s.nextShmVA.Store(constants.ShmVABase)

	s.network = s.loadNetworkConfig(ctx)

	if err := s.initGlobalPool(); err != nil {
		return WrapError("init.pool", err)
	}

	lo, err := iface.NewLoopback(s.stack, s.allocNICID())
	if err != nil {
		return WrapError("init.loopback", err)
	}
	s.mu.Lock()
	s.interfaces = append(s.interfaces, lo)
	s.mu.Unlock()
	s.log.Info("loopback interface up", "addr", constants.LoopbackIPv4)

	if s.cfg.DeviceManager != nil && s.cfg.Endpoint != nil {
		hookCap, err := s.cfg.Endpoint.Mint(ipc.Badge(constants.HookBadge | constants.NotifyHook))
		if err != nil {
			return WrapError("init.hook", err)
		}
		if err := s.cfg.DeviceManager.Hook(ctx, ipc.HookTarget{Type: ipc.DeviceTypeNet}, hookCap); err != nil {
			s.log.Warn("failed to hook device manager", "err", err)
		}
	}

	if s.cfg.ResourceManager != nil {
		if err := s.cfg.ResourceManager.RegisterCap(ctx, "endpoint", constants.NetEndpointKey, constants.OwnEndpointSlot); err != nil {
			s.log.Warn("failed to register own endpoint", "err", err)
		}
	}

	s.syncDevices(ctx)
	s.processPendingProbes(ctx)

	s.startTime = time.Now()
	return nil
}

func (s *Server) loadNetworkConfig(ctx context.Context) config.NetworkConfig {
	if s.cfg.ResourceManager == nil {
		return config.NetworkConfig{BufferSize: config.DefaultBufferSize}
	}
	data, found, err := s.cfg.ResourceManager.GetConfig(ctx, "network.json", constants.ConfigSlot)
	if err != nil || !found {
		return config.NetworkConfig{BufferSize: config.DefaultBufferSize}
	}
	return config.Load(data, s.log)
}

// initGlobalPool unconditionally allocates the shared packet pool with
// shm.NewPool, sized from network.json's buffer_size (or its default),
// and reserves the next free SHM virtual address for it. The pool is an
// anonymous mmap in this process: it is not DMA-allocated or mapped
// through the resource manager, and probe hands drivers frame and
// physical address 0 for it. Every device probed
// afterward attaches to this same pool; it exists whether or not any
// device ever successfully probes (spec.md §4.4 step 2).
func (s *Server) initGlobalPool() error {
	frames := shm.FramesForBytes(uint64(s.network.BufferSize))
	pool, err := shm.NewPool(frames)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.pool = pool
	s.poolVA = s.allocShmVA(uint64(pool.Bytes()))
	s.mu.Unlock()
	return nil
}

func (s *Server) allocNICID() tcpip.NICID {
	id := s.nextNICID
	s.nextNICID++
	return id
}

// Run starts the cooperative event loop. It blocks until ctx is
// canceled or Stop is called. Run is fatal if Init was never called
// (spec.md §7: "listen before init is fatal to run").
func (s *Server) Run(ctx context.Context) error {
	if s.stack == nil {
		return NewError("run", CodeNotInitialized, "Init must be called before Run")
	}
	s.running.Store(true)
	s.log.Info("server running")

	for s.running.Load() {
		select {
		case <-ctx.Done():
			s.running.Store(false)
			return ctx.Err()
		default:
		}

		s.processPendingProbes(ctx)
		s.pollInterfaces()

		if s.cfg.Endpoint == nil {
			// No IPC endpoint configured: this server instance is being
			// driven directly by test/library code instead of a real
			// event loop. Yield and continue polling.
			continue
		}

		var utcb ipc.UTCB
		utcb.ReplyWindow = constants.ReplySlot
		utcb.RecvWindow = constants.RecvSlot

		badge, err := s.cfg.Endpoint.Recv(ctx, &utcb)
		if err != nil {
			if IsCode(err, CodeWouldBlock) || IsCode(err, CodeTimeout) {
				continue
			}
			return WrapError("run.recv", err)
		}

		dispatchErr := s.dispatch(ctx, badge, &utcb)
		switch {
		case dispatchErr == nil:
			_ = s.cfg.Endpoint.Reply(constants.ReplySlot, &utcb)
		case isSuccessNoReply(dispatchErr):
			// Notification: no reply by design.
		default:
			s.log.WithError(dispatchErr).Warn("dispatch failed")
			_ = s.cfg.Endpoint.Reply(constants.ReplySlot, &utcb)
		}
	}
	return nil
}

// Stop ends the event loop. Idempotent.
func (s *Server) Stop() {
	s.running.Store(false)
	s.metrics.Stop()
}

func (s *Server) pollInterfaces() {
	s.mu.Lock()
	interfaces := append([]*iface.Context(nil), s.interfaces...)
	s.mu.Unlock()

	for _, ctx := range interfaces {
		if poller, ok := ctx.Endpoint.(interface{ Poll() }); ok {
			poller.Poll()
		}
	}
}

// Info returns a point-in-time snapshot of server state.
func (s *Server) Info() ServerInfo {
	s.mu.Lock()
	n := len(s.interfaces)
	s.mu.Unlock()
	return ServerInfo{
		Interfaces: n,
		Sockets:    s.table.Len(),
		UptimeNs:   time.Since(s.startTime).Nanoseconds(),
		Running:    s.running.Load(),
	}
}

func (s *Server) addInterface(ctx *iface.Context) {
	s.mu.Lock()
	s.interfaces = append(s.interfaces, ctx)
	s.mu.Unlock()
}

func (s *Server) allocRingVA(size uint64) uint64 {
	for {
		old := s.nextRingVA.Load()
		next := old + size
		if s.nextRingVA.CompareAndSwap(old, next) {
			return old
		}
	}
}

// addRoute appends route to the stack's route table. Routes are applied
// in the order interfaces are probed and configs are read, matching the
// spec's ordering guarantees (spec.md §5).
func (s *Server) addRoute(route tcpip.Route) {
	s.mu.Lock()
	s.routes = append(s.routes, route)
	routes := append([]tcpip.Route(nil), s.routes...)
	s.mu.Unlock()
	s.stack.SetRouteTable(routes)
}

func (s *Server) allocShmVA(size uint64) uint64 {
	for {
		old := s.nextShmVA.Load()
		next := old + size
		if s.nextShmVA.CompareAndSwap(old, next) {
			return old
		}
	}
}
