package socktab

import (
	"errors"

	"github.com/capsys/netd/internal/ring"
)

// UringServer holds one badge's async ring view and drains it, turning
// each submission into a send or recv against the underlying socket
// (spec.md §4.3 "Per-socket async uring server").
//
// The mapped frame is laid out as [submission queue][completion
// queue][data region]; an SQE's Offset/Length address the data region,
// which plays the role the global packet pool plays for the device
// ring — the client writes the payload there before submitting a WRITE,
// and reads it from there after a READ completes.
type UringServer struct {
	sq   *ring.SubmissionQueue
	cq   *ring.CompletionQueue
	data []byte
}

// NewUringServer wraps frame as a submission/completion ring pair of
// entries capacity plus a trailing data region.
func NewUringServer(frame []byte, entries uint32) (*UringServer, error) {
	sqBytes := ring.RequiredBytes(entries, ring.SizeOfSQE)
	cqBytes := ring.RequiredBytes(entries, ring.SizeOfCQE)
	if len(frame) < sqBytes+cqBytes {
		return nil, ErrInvalidArgs
	}
	sq, err := ring.NewSubmissionQueue(frame[:sqBytes], entries)
	if err != nil {
		return nil, wrap(ErrInvalidArgs, err.Error())
	}
	cq, err := ring.NewCompletionQueue(frame[sqBytes:sqBytes+cqBytes], entries)
	if err != nil {
		return nil, wrap(ErrInvalidArgs, err.Error())
	}
	return &UringServer{sq: sq, cq: cq, data: frame[sqBytes+cqBytes:]}, nil
}

// Attach installs u as e's async ring server.
func (e *Entry) Attach(u *UringServer) { e.uring = u }

// Uring returns e's async ring server, if one was ever attached.
func (e *Entry) Uring() (*UringServer, bool) { return e.uring, e.uring != nil }

// SetupIOURing maps frame as badge's per-socket ring and attaches it.
func (t *Table) SetupIOURing(badge uint64, frame []byte, entries uint32) error {
	e, ok := t.Lookup(badge)
	if !ok {
		return ErrBadgeNotFound
	}
	u, err := NewUringServer(frame, entries)
	if err != nil {
		return err
	}
	e.Attach(u)
	return nil
}

// ProcessIOURing drains every pending submission on badge's ring,
// routing READ to Recv and WRITE to Send, and returns the number of
// completions produced. Unknown opcodes complete with a negated
// NotSupported result, matching the dispatcher's wire-level convention
// of negative results signaling error codes (spec.md §3, §4.3).
func (t *Table) ProcessIOURing(badge uint64) (int, error) {
	e, ok := t.Lookup(badge)
	if !ok {
		return 0, ErrBadgeNotFound
	}
	u, ok := e.Uring()
	if !ok {
		return 0, wrap(ErrInvalidArgs, "setup_iouring was never called for this badge")
	}

	facade := NewFacade(t, badge)
	n := 0
	for {
		sqe, ok := u.sq.Pop()
		if !ok {
			break
		}
		result := u.process(facade, sqe)
		if !u.cq.Push(ring.CQE{UserData: sqe.UserData, Result: result}) {
			break
		}
		n++
	}
	return n, nil
}

func (u *UringServer) process(facade *Facade, sqe ring.SQE) int64 {
	off, length := sqe.Offset, sqe.Length
	if off > uint64(len(u.data)) || off+length > uint64(len(u.data)) {
		return negated(ErrInvalidArgs)
	}
	region := u.data[off : off+length]

	switch sqe.Opcode {
	case ring.OpWrite:
		n, err := facade.Send(region, 0)
		if err != nil {
			return negated(err)
		}
		return int64(n)
	case ring.OpRead:
		n, err := facade.Recv(region, 0)
		if err != nil {
			return negated(err)
		}
		return int64(n)
	default:
		return negated(ErrNotSupported)
	}
}

// negated maps a façade error onto the ring's negative-result-is-error
// convention (spec.md §3: "result ... negated error on failure").
func negated(err error) int64 {
	switch {
	case errors.Is(err, ErrWouldBlock):
		return -2
	case errors.Is(err, ErrInvalidArgs):
		return -3
	case errors.Is(err, ErrIO):
		return -4
	case errors.Is(err, ErrBadgeNotFound):
		return -5
	default:
		return -1 // ErrNotSupported and anything unrecognized
	}
}
