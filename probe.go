package netd

import (
	"context"

	"github.com/capsys/netd/internal/constants"
	"github.com/capsys/netd/internal/iface"
	"github.com/capsys/netd/internal/ipc"
	"github.com/capsys/netd/internal/netdev"
	"github.com/capsys/netd/internal/shm"
)

// syncDevices queries the device manager for every Net device and
// enqueues any name not already pending (spec.md §4.5 "Sync step").
func (s *Server) syncDevices(ctx context.Context) {
	if s.cfg.DeviceManager == nil {
		return
	}
	names, err := s.cfg.DeviceManager.Query(ctx, ipc.DeviceTypeNet)
	if err != nil {
		s.log.WithError(err).Warn("device query failed")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, s.pendingProbes.Length())
	for i := 0; i < s.pendingProbes.Length(); i++ {
		seen[s.pendingProbes.Get(i).(string)] = true
	}
	for _, name := range names {
		if !seen[name] {
			s.pendingProbes.Add(name)
			seen[name] = true
		}
	}
}

// processPendingProbes drains the pending-device FIFO, probing any
// device whose hardware id has not already been seen (spec.md §4.5
// "Probe step"). Probe failures are logged and the device is skipped; a
// later HOOK notification may retry it.
func (s *Server) processPendingProbes(ctx context.Context) {
	if s.cfg.DeviceManager == nil {
		return
	}
	for {
		s.mu.Lock()
		if s.pendingProbes.Length() == 0 {
			s.mu.Unlock()
			return
		}
		name := s.pendingProbes.Peek().(string)
		s.pendingProbes.Remove()
		s.mu.Unlock()

		hwID, desc, err := s.cfg.DeviceManager.GetLogicDesc(ctx, name)
		if err != nil {
			s.log.WithError(err).Warn("get_logic_desc failed", "name", name)
			s.observer.ObserveProbe(false)
			continue
		}
		if desc.Type != ipc.DeviceTypeNet {
			continue
		}

		s.mu.Lock()
		_, already := s.probedHW[hwID]
		s.mu.Unlock()
		if already {
			continue
		}

		endpoint, err := s.cfg.DeviceManager.AllocLogic(ctx, ipc.DeviceTypeNet, name, constants.RecvSlot)
		if err != nil {
			s.log.WithError(err).Warn("alloc_logic failed", "name", name)
			s.observer.ObserveProbe(false)
			continue
		}

		if err := s.probe(ctx, hwID, name, endpoint); err != nil {
			s.log.WithError(err).Warn("probe failed", "name", name)
			s.observer.ObserveProbe(false)
			continue
		}
		s.observer.ObserveProbe(true)
	}
}

// probe binds one device: it allocates ring and SHM views, constructs a
// stack interface over it, applies configuration (or falls back to
// defaults), and marks the hardware id probed (spec.md §4.5 "Probe").
func (s *Server) probe(ctx context.Context, hwID uint64, name string, driver ipc.NetDriverClient) error {
	dev := netdev.New(name, driver, s.log)

	ringBytes := uint64(4 * 1024) // one page, enough for a 4+4-entry SQ/CQ pair
	ringVA := s.allocRingVA(ringBytes)
	ringMem := make([]byte, ringBytes) // stands in for the resource manager's Mmap of a DMA frame at ringVA
	s.log.Debug("mapping device ring", "name", name, "vaddr", ringVA)
	if err := dev.SetupRing(ctx, s.cfg.Endpoint, constants.RecvSlot, ringMem); err != nil {
		return WrapError("probe.setup_ring", err)
	}

	pool, shmVA, err := s.packetPool()
	if err != nil {
		return WrapError("probe.pool", err)
	}
	if err := dev.SetupSHM(ctx, 0, shmVA, 0, pool.All()); err != nil {
		return WrapError("probe.setup_shm", err)
	}

	if _, err := dev.MACAddress(ctx); err != nil {
		return WrapError("probe.mac_address", err)
	}

	ifCtx, err := iface.New(s.stack, s.allocNICID(), name, iface.KindReal, dev, hwID)
	if err != nil {
		return WrapError("probe.iface", err)
	}

	if err := s.applyInterfaceConfig(ifCtx, name); err != nil {
		return WrapError("probe.config", err)
	}

	s.addInterface(ifCtx)
	s.mu.Lock()
	s.probedHW[hwID] = struct{}{}
	s.mu.Unlock()
	return nil
}

// applyInterfaceConfig applies network.json's entry for name, or the
// documented fallback addressing when none is present (spec.md §4.5
// step 5), then applies any global 0.0.0.0/0 routes.
func (s *Server) applyInterfaceConfig(ifCtx *iface.Context, name string) error {
	if entry, ok := s.network.ForInterface(name); ok {
		if err := ifCtx.AddIPv4(s.stack, entry.IPv4, entry.Mask); err != nil {
			return err
		}
		if entry.Gateway != nil {
			route, err := ifCtx.Route("0.0.0.0", 0, *entry.Gateway)
			if err != nil {
				return err
			}
			s.addRoute(route)
		}
	} else {
		if err := ifCtx.AddIPv4(s.stack, constants.FallbackIPv4, constants.FallbackMask); err != nil {
			return err
		}
		route, err := ifCtx.FallbackRoute()
		if err != nil {
			return err
		}
		s.addRoute(route)
	}

	for _, r := range s.network.Routes {
		if r.Dest != "0.0.0.0" || r.Mask != 0 {
			continue
		}
		route, err := ifCtx.Route(r.Dest, r.Mask, r.Via)
		if err != nil {
			s.log.WithError(err).Warn("skipping malformed route entry")
			continue
		}
		s.addRoute(route)
	}
	return nil
}

// packetPool returns the pool Init already allocated and the SHM virtual
// address it was mapped at. It never allocates: Init's strict ordering
// (spec.md §4.4 step 2) guarantees the pool exists before any device can
// reach this call.
func (s *Server) packetPool() (*shm.Pool, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool == nil {
		return nil, 0, NewError("probe.pool", CodeNotInitialized, "global packet pool was never allocated")
	}
	return s.pool, s.poolVA, nil
}
