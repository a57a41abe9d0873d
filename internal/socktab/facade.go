package socktab

import (
	"encoding/binary"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/waiter"
)

// Facade is a transient, per-call view onto one socket: {table, badge},
// built fresh from the caller's badge for the duration of one dispatch
// (spec.md §4.4: "a transient socket view {server, badge}").
type Facade struct {
	table *Table
	badge uint64
}

// NewFacade builds a façade bound to badge. The façade itself holds no
// state beyond its two fields; looking up the entry happens on each
// call, so a Close() racing a Send() (in tests exercising the table
// directly, outside the single-threaded event loop) fails safely
// instead of operating on stale state.
func NewFacade(table *Table, badge uint64) *Facade {
	return &Facade{table: table, badge: badge}
}

func (f *Facade) entry() (*Entry, error) {
	e, ok := f.table.Lookup(f.badge)
	if !ok {
		return nil, ErrBadgeNotFound
	}
	return e, nil
}

// Bind parses the little-endian port from the first two bytes of addr
// and puts the socket into LISTEN on that port (spec.md §4.3).
func (f *Facade) Bind(addr []byte) error {
	e, err := f.entry()
	if err != nil {
		return err
	}
	if len(addr) < 2 {
		return wrap(ErrInvalidArgs, "address shorter than 2 bytes")
	}
	port := binary.LittleEndian.Uint16(addr)

	full := tcpip.FullAddress{Port: port}
	if tcpErr := e.EP.Bind(full); tcpErr != nil {
		return wrap(ErrInternal, tcpErr.String())
	}
	if tcpErr := e.EP.Listen(1); tcpErr != nil {
		return wrap(ErrInternal, tcpErr.String())
	}
	return nil
}

// Listen is accepted silently; the stack was already put into LISTEN by
// Bind, with an implicit backlog of 1 (spec.md §4.3, §9 open question:
// backlog is ignored on purpose).
func (f *Facade) Listen(backlog int) error {
	_, err := f.entry()
	return err
}

// Connect is a stub in this revision (spec.md §9 open question,
// resolved in favor of NotSupported rather than inventing a contract).
func (f *Facade) Connect(addr []byte) error {
	if _, err := f.entry(); err != nil {
		return err
	}
	return ErrNotSupported
}

// Accept is a stub in this revision, for the same reason as Connect.
func (f *Facade) Accept() (uint64, error) {
	if _, err := f.entry(); err != nil {
		return 0, err
	}
	return 0, ErrNotSupported
}

// Send enqueues data into the socket's transmit ring if the stack
// reports it sendable, returning the number of bytes accepted.
func (f *Facade) Send(data []byte, flags int) (int, error) {
	e, err := f.entry()
	if err != nil {
		return 0, err
	}
	if e.EP.Readiness(waiter.WritableEvents)&waiter.WritableEvents == 0 {
		return 0, ErrWouldBlock
	}
	n, tcpErr := e.EP.Write(tcpip.SlicePayload(data), tcpip.WriteOptions{})
	if tcpErr != nil {
		return 0, wrap(ErrIO, tcpErr.String())
	}
	return int(n), nil
}

// Recv dequeues up to len(buf) bytes from the socket's receive ring if
// the stack reports it receivable.
func (f *Facade) Recv(buf []byte, flags int) (int, error) {
	e, err := f.entry()
	if err != nil {
		return 0, err
	}
	if e.EP.Readiness(waiter.ReadableEvents)&waiter.ReadableEvents == 0 {
		return 0, ErrWouldBlock
	}
	w := tcpip.SliceWriter(buf)
	res, tcpErr := e.EP.Read(&w, tcpip.ReadOptions{})
	if tcpErr != nil {
		return 0, wrap(ErrIO, tcpErr.String())
	}
	return res.Count, nil
}

// Close removes badge from the socket table before releasing the
// underlying endpoint, preserving the invariant that a badge never maps
// to a freed socket (spec.md §3).
func (f *Facade) Close() error {
	e, err := f.entry()
	if err != nil {
		return err
	}
	f.table.Remove(f.badge)
	e.EP.Close()
	return nil
}

// SetSockOpt, GetSockOpt, GetSockName and GetPeerName are all
// NotSupported per spec.md §4.3's call table.
func (f *Facade) SetSockOpt([]byte) error { return ErrNotSupported }
func (f *Facade) GetSockOpt([]byte) ([]byte, error) {
	return nil, ErrNotSupported
}
func (f *Facade) GetSockName() ([]byte, error) { return nil, ErrNotSupported }
func (f *Facade) GetPeerName() ([]byte, error) { return nil, ErrNotSupported }
