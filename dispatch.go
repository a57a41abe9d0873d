package netd

import (
	"context"

	"github.com/capsys/netd/internal/constants"
	"github.com/capsys/netd/internal/ipc"
)

// dispatch routes one received message to its handler by (protocol, label)
// per spec.md §4.4/§6's dispatch table, mutating utcb in place with the
// reply payload. A NOTIFY message is handled entirely as a side effect and
// returns the successNoReply sentinel, telling Run to skip the reply.
func (s *Server) dispatch(ctx context.Context, badge ipc.Badge, utcb *ipc.UTCB) error {
	switch utcb.Tag.Protocol {
	case ipc.ProtoKernel:
		return s.dispatchKernel(ctx, badge, utcb)
	case ipc.ProtoNetwork:
		return s.dispatchNetwork(uint64(badge), utcb)
	default:
		return NewError("dispatch", CodeInvalidArgs, "unknown protocol")
	}
}

// dispatchKernel handles NOTIFY: the badge's low bits are a mask of
// constants.NotifyHook / NotifyIOURingSQ / NotifyIOURingCQ, each triggering
// the matching side effect (spec.md §4.4 step 2, §6).
func (s *Server) dispatchKernel(ctx context.Context, badge ipc.Badge, utcb *ipc.UTCB) error {
	if utcb.Tag.Label != ipc.LabelNotify {
		return NewError("dispatch.kernel", CodeInvalidArgs, "unknown kernel label")
	}
	bits := uint64(badge)
	if bits&constants.NotifyHook != 0 {
		s.syncDevices(ctx)
		s.processPendingProbes(ctx)
	}
	if bits&(constants.NotifyIOURingSQ|constants.NotifyIOURingCQ) != 0 {
		s.pollInterfaces()
	}
	return successNoReply
}

// dispatchNetwork handles the socket RPC surface (spec.md §4.3's call
// table), reading arguments out of utcb.Data/MRs and writing the result
// back the same way.
func (s *Server) dispatchNetwork(badge uint64, utcb *ipc.UTCB) error {
	switch utcb.Tag.Label {
	case ipc.LabelSocket:
		domain, typ, proto := int(utcb.MRs[0]), int(utcb.MRs[1]), int(utcb.MRs[2])
		newBadge, err := s.Socket(domain, typ, proto)
		if err != nil {
			return err
		}
		utcb.MRs[0] = newBadge
		return nil

	case ipc.LabelBind:
		return s.Bind(badge, utcb.Data)

	case ipc.LabelListen:
		return s.Listen(badge, int(utcb.MRs[0]))

	case ipc.LabelConnect:
		return s.Connect(badge, utcb.Data)

	case ipc.LabelAccept:
		peer, err := s.Accept(badge)
		if err != nil {
			return err
		}
		utcb.MRs[0] = peer
		return nil

	case ipc.LabelClose:
		return s.CloseSocket(badge)

	case ipc.LabelSend:
		n, err := s.Send(badge, utcb.Data, int(utcb.MRs[0]))
		if err != nil {
			return err
		}
		utcb.MRs[0] = uint64(n)
		return nil

	case ipc.LabelRecv:
		buf := make([]byte, utcb.MRs[0])
		n, err := s.Recv(badge, buf, int(utcb.MRs[1]))
		if err != nil {
			return err
		}
		utcb.Data = buf[:n]
		utcb.MRs[0] = uint64(n)
		return nil

	case ipc.LabelSetupIOURing:
		entries := uint32(utcb.MRs[0])
		return s.SetupIOURing(badge, utcb.Data, entries)

	case ipc.LabelProcessIOURing:
		n, err := s.ProcessIOURing(badge)
		if err != nil {
			return err
		}
		utcb.MRs[0] = uint64(n)
		return nil

	default:
		return NewError("dispatch.network", CodeInvalidArgs, "unknown network label")
	}
}
