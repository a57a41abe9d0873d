package netd

import (
	"errors"
	"time"

	"gvisor.dev/gvisor/pkg/tcpip/network/ipv4"
	"gvisor.dev/gvisor/pkg/tcpip/transport/tcp"
	"gvisor.dev/gvisor/pkg/waiter"

	"github.com/capsys/netd/internal/socktab"
)

// socketBufferSize is the fixed TX/RX buffer size every socket this
// service creates gets (spec.md §4.3: "4 KiB tcp buffers").
const socketBufferSize = 4096

// Socket creates one stack-level TCP socket and returns the badge a
// client thereafter uses to address it (spec.md §4.3, component C6).
// Only AF_INET/SOCK_STREAM is supported; anything else is InvalidArgs.
func (s *Server) Socket(domain, typ, proto int) (uint64, error) {
	const afInet, sockStream = 2, 1
	if domain != afInet || typ != sockStream {
		return 0, NewError("socket", CodeInvalidArgs, "only AF_INET/SOCK_STREAM is supported")
	}

	var wq waiter.Queue
	ep, tcpErr := s.stack.NewEndpoint(tcp.ProtocolNumber, ipv4.ProtocolNumber, &wq)
	if tcpErr != nil {
		return 0, WrapError("socket", errStr(tcpErr.String()))
	}
	ep.SocketOptions().SetReceiveBufferSize(socketBufferSize, true)
	ep.SocketOptions().SetSendBufferSize(socketBufferSize, true)

	badge := s.table.Insert(ep, &wq)
	s.metrics.SocketsCreated.Add(1)
	return badge, nil
}

// socketOp adapts one socktab.Facade call into the structured error
// taxonomy, tagging the error with the badge that caused it.
func socketOp(op string, badge uint64, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, socktab.ErrBadgeNotFound):
		return NewSocketError(op, badge, CodeNotFound, "unknown socket badge")
	case errors.Is(err, socktab.ErrWouldBlock):
		return NewSocketError(op, badge, CodeWouldBlock, "socket not ready")
	case errors.Is(err, socktab.ErrInvalidArgs):
		return NewSocketError(op, badge, CodeInvalidArgs, "invalid arguments")
	case errors.Is(err, socktab.ErrNotSupported):
		return NewSocketError(op, badge, CodeNotSupported, "operation not supported")
	case errors.Is(err, socktab.ErrIO):
		return NewSocketError(op, badge, CodeIO, "stack I/O error")
	case errors.Is(err, socktab.ErrInternal):
		return NewSocketError(op, badge, CodeInternal, "stack internal error")
	default:
		return WrapError(op, err)
	}
}

// Bind, Listen, Connect, Accept, Send, Recv, Close, SetSockOpt,
// GetSockOpt, GetSockName and GetPeerName are the root-level entry
// points the dispatcher calls for each (NETWORK, label) pair, each
// building a transient façade and translating its sentinel errors
// (spec.md §4.4: "a transient socket view {server, badge}").

func (s *Server) Bind(badge uint64, addr []byte) error {
	return socketOp("bind", badge, socktab.NewFacade(s.table, badge).Bind(addr))
}

func (s *Server) Listen(badge uint64, backlog int) error {
	return socketOp("listen", badge, socktab.NewFacade(s.table, badge).Listen(backlog))
}

func (s *Server) Connect(badge uint64, addr []byte) error {
	return socketOp("connect", badge, socktab.NewFacade(s.table, badge).Connect(addr))
}

func (s *Server) Accept(badge uint64) (uint64, error) {
	peer, err := socktab.NewFacade(s.table, badge).Accept()
	return peer, socketOp("accept", badge, err)
}

func (s *Server) Send(badge uint64, data []byte, flags int) (int, error) {
	start := time.Now()
	n, err := socktab.NewFacade(s.table, badge).Send(data, flags)
	s.observer.ObserveSend(uint64(n), uint64(time.Since(start)), err == nil)
	return n, socketOp("send", badge, err)
}

func (s *Server) Recv(badge uint64, buf []byte, flags int) (int, error) {
	start := time.Now()
	n, err := socktab.NewFacade(s.table, badge).Recv(buf, flags)
	s.observer.ObserveRecv(uint64(n), uint64(time.Since(start)), err == nil)
	return n, socketOp("recv", badge, err)
}

func (s *Server) CloseSocket(badge uint64) error {
	err := socketOp("close", badge, socktab.NewFacade(s.table, badge).Close())
	if err == nil {
		s.metrics.SocketsClosed.Add(1)
	}
	return err
}

func (s *Server) SetSockOpt(badge uint64, opt []byte) error {
	return socketOp("setsockopt", badge, socktab.NewFacade(s.table, badge).SetSockOpt(opt))
}

func (s *Server) GetSockOpt(badge uint64, opt []byte) ([]byte, error) {
	v, err := socktab.NewFacade(s.table, badge).GetSockOpt(opt)
	return v, socketOp("getsockopt", badge, err)
}

func (s *Server) GetSockName(badge uint64) ([]byte, error) {
	v, err := socktab.NewFacade(s.table, badge).GetSockName()
	return v, socketOp("getsockname", badge, err)
}

func (s *Server) GetPeerName(badge uint64) ([]byte, error) {
	v, err := socktab.NewFacade(s.table, badge).GetPeerName()
	return v, socketOp("getpeername", badge, err)
}

// SetupIOURing maps frame as badge's per-socket async ring.
func (s *Server) SetupIOURing(badge uint64, frame []byte, entries uint32) error {
	return socketOp("setup_iouring", badge, s.table.SetupIOURing(badge, frame, entries))
}

// ProcessIOURing drains badge's pending submissions.
func (s *Server) ProcessIOURing(badge uint64) (int, error) {
	n, err := s.table.ProcessIOURing(badge)
	return n, socketOp("process_iouring", badge, err)
}

type errStr string

func (e errStr) Error() string { return string(e) }
