// Package iface bundles one device instance with its place in the
// TCP/IP stack (spec.md §4.2, component C3). Both device kinds satisfy
// gvisor's stack.LinkEndpoint, so the stack itself needs no tagged
// union; Kind is kept only for logging and introspection, echoing the
// spec's "uniform token interface" design note.
package iface

import (
	"fmt"
	"net"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/link/loopback"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv4"
	"gvisor.dev/gvisor/pkg/tcpip/stack"

	"github.com/capsys/netd/internal/constants"
)

// Kind distinguishes a real probed device from the always-present
// loopback for introspection purposes only.
type Kind int

const (
	KindReal Kind = iota
	KindLoopback
)

func (k Kind) String() string {
	if k == KindLoopback {
		return "loopback"
	}
	return "real"
}

// Context is one interface: its NIC id in the stack, its device
// endpoint, and bookkeeping needed to report it back through
// introspection.
type Context struct {
	Name     string
	Kind     Kind
	NICID    tcpip.NICID
	Endpoint stack.LinkEndpoint
	HWID     uint64 // 0 for loopback
}

// New builds a Context for an already-constructed link endpoint and
// enables it as a NIC in s.
func New(s *stack.Stack, nicID tcpip.NICID, name string, kind Kind, ep stack.LinkEndpoint, hwID uint64) (*Context, error) {
	if err := s.CreateNICWithOptions(nicID, ep, stack.NICOptions{Name: name}); err != nil {
		return nil, fmt.Errorf("iface %s: create nic: %s", name, err)
	}
	return &Context{Name: name, Kind: kind, NICID: nicID, Endpoint: ep, HWID: hwID}, nil
}

// AddIPv4 assigns ipv4/prefixLen to the interface's NIC.
func (c *Context) AddIPv4(s *stack.Stack, s4 string, prefixLen int) error {
	ip := net.ParseIP(s4)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("iface %s: invalid IPv4 address %q", c.Name, s4)
	}
	addr := tcpip.AddrFromSlice(ip.To4())
	protoAddr := tcpip.ProtocolAddress{
		Protocol: ipv4.ProtocolNumber,
		AddressWithPrefix: tcpip.AddressWithPrefix{
			Address:   addr,
			PrefixLen: prefixLen,
		},
	}
	if err := s.AddProtocolAddress(c.NICID, protoAddr, stack.AddressProperties{}); err != nil {
		return fmt.Errorf("iface %s: add address %s/%d: %s", c.Name, s4, prefixLen, err)
	}
	return nil
}

// Route builds a default-gateway-style route entry for this interface.
func (c *Context) Route(destCIDR string, prefixLen int, via string) (tcpip.Route, error) {
	dest := net.ParseIP(destCIDR)
	if dest == nil || dest.To4() == nil {
		return tcpip.Route{}, fmt.Errorf("iface %s: invalid route destination %q", c.Name, destCIDR)
	}
	subnet, err := tcpip.NewSubnet(tcpip.AddrFromSlice(dest.To4()), tcpip.MaskFromBytes(net.CIDRMask(prefixLen, 32)))
	if err != nil {
		return tcpip.Route{}, fmt.Errorf("iface %s: route subnet: %s", c.Name, err)
	}
	route := tcpip.Route{Destination: subnet, NIC: c.NICID}
	if via != "" {
		viaIP := net.ParseIP(via)
		if viaIP == nil || viaIP.To4() == nil {
			return tcpip.Route{}, fmt.Errorf("iface %s: invalid gateway %q", c.Name, via)
		}
		route.Gateway = tcpip.AddrFromSlice(viaIP.To4())
	}
	return route, nil
}

// FallbackRoute returns the default route used when no config names this
// interface (spec.md §4.5 step 5).
func (c *Context) FallbackRoute() (tcpip.Route, error) {
	return c.Route("0.0.0.0", 0, constants.FallbackGateway)
}

// NewLoopback creates the always-present loopback interface with
// 127.0.0.1/8 (spec.md §4.4 step 3), using the stack library's own
// in-process loopback link endpoint.
func NewLoopback(s *stack.Stack, nicID tcpip.NICID) (*Context, error) {
	ep := loopback.New()
	ctx, err := New(s, nicID, "lo", KindLoopback, ep, 0)
	if err != nil {
		return nil, err
	}
	if err := ctx.AddIPv4(s, constants.LoopbackIPv4, constants.LoopbackMask); err != nil {
		return nil, err
	}
	return ctx, nil
}
