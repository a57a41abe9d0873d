// Package ring implements the fixed-capacity, single-producer/
// single-consumer submission and completion rings shared between netd
// and a driver (or between netd and a client, for per-socket uring).
// Entries are packed with explicit byte offsets rather than struct
// layout, the way go-ublk's internal/uapi marshals its ioctl payloads,
// because the peer on the other end of the shared memory is not
// necessarily another Go process.
package ring

import (
	"encoding/binary"
	"errors"
	"sync/atomic"
	"unsafe"
)

// Opcode identifies the kind of operation a submission entry requests.
type Opcode uint32

const (
	OpRead  Opcode = 1
	OpWrite Opcode = 2
)

// SQE is one submission queue entry: an opcode plus a buffer region
// (offset/length into the paired SHM pool) and an opaque tag the
// submitter uses to match the eventual completion.
type SQE struct {
	Opcode   Opcode
	Offset   uint64
	Length   uint64
	UserData uint64
}

// SizeOfSQE is the wire size of one marshaled SQE.
const SizeOfSQE = 4 + 4 + 8 + 8 + 8 // opcode, pad, offset, length, user_data

// CQE is one completion queue entry: the submitter's tag and a signed
// result (bytes transferred on success, a negated error code on
// failure).
type CQE struct {
	UserData uint64
	Result   int64
}

// SizeOfCQE is the wire size of one marshaled CQE.
const SizeOfCQE = 8 + 8

// ErrShortBuffer is returned when a marshaled buffer is too small to
// hold the entry being decoded.
var ErrShortBuffer = errors.New("ring: short buffer")

func putSQE(b []byte, e SQE) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(e.Opcode))
	binary.LittleEndian.PutUint32(b[4:8], 0)
	binary.LittleEndian.PutUint64(b[8:16], e.Offset)
	binary.LittleEndian.PutUint64(b[16:24], e.Length)
	binary.LittleEndian.PutUint64(b[24:32], e.UserData)
}

func getSQE(b []byte) (SQE, error) {
	if len(b) < SizeOfSQE {
		return SQE{}, ErrShortBuffer
	}
	return SQE{
		Opcode:   Opcode(binary.LittleEndian.Uint32(b[0:4])),
		Offset:   binary.LittleEndian.Uint64(b[8:16]),
		Length:   binary.LittleEndian.Uint64(b[16:24]),
		UserData: binary.LittleEndian.Uint64(b[24:32]),
	}, nil
}

func putCQE(b []byte, e CQE) {
	binary.LittleEndian.PutUint64(b[0:8], e.UserData)
	binary.LittleEndian.PutUint64(b[8:16], uint64(e.Result))
}

func getCQE(b []byte) (CQE, error) {
	if len(b) < SizeOfCQE {
		return CQE{}, ErrShortBuffer
	}
	return CQE{
		UserData: binary.LittleEndian.Uint64(b[0:8]),
		Result:   int64(binary.LittleEndian.Uint64(b[8:16])),
	}, nil
}

// queue is the shared bookkeeping common to a submission or completion
// ring: a fixed power-of-two entry count over a caller-provided byte
// buffer, with head/tail counters living in the buffer's first 8 bytes
// so a non-Go peer mapping the same memory observes them too.
type queue struct {
	buf       []byte
	entries   uint32
	entrySize uint32
}

const headerSize = 8 // head(4) + tail(4)

func newQueue(buf []byte, entries uint32, entrySize uint32) (*queue, error) {
	if entries == 0 || entries&(entries-1) != 0 {
		return nil, errors.New("ring: entries must be a power of two")
	}
	need := int(headerSize + entries*entrySize)
	if len(buf) < need {
		return nil, ErrShortBuffer
	}
	return &queue{buf: buf, entries: entries, entrySize: entrySize}, nil
}

func (q *queue) headPtr() *uint32 { return (*uint32)(unsafe.Pointer(&q.buf[0])) }
func (q *queue) tailPtr() *uint32 { return (*uint32)(unsafe.Pointer(&q.buf[4])) }

func (q *queue) slot(i uint32) []byte {
	idx := i & (q.entries - 1)
	off := headerSize + idx*q.entrySize
	return q.buf[off : off+q.entrySize]
}

func (q *queue) full() bool {
	head := atomic.LoadUint32(q.headPtr())
	tail := atomic.LoadUint32(q.tailPtr())
	return tail-head >= q.entries
}

func (q *queue) empty() bool {
	head := atomic.LoadUint32(q.headPtr())
	tail := atomic.LoadUint32(q.tailPtr())
	return head == tail
}

// SubmissionQueue is the producer side a client or driver writes
// requests into.
type SubmissionQueue struct{ q *queue }

// NewSubmissionQueue wraps buf as a submission queue with the given
// power-of-two entry count. buf must be at least SizeOfSQE*entries+8 bytes.
func NewSubmissionQueue(buf []byte, entries uint32) (*SubmissionQueue, error) {
	q, err := newQueue(buf, entries, SizeOfSQE)
	if err != nil {
		return nil, err
	}
	return &SubmissionQueue{q: q}, nil
}

// Push appends one submission entry. Returns false if the queue is full.
func (s *SubmissionQueue) Push(e SQE) bool {
	if s.q.full() {
		return false
	}
	tail := atomic.LoadUint32(s.q.tailPtr())
	putSQE(s.q.slot(tail), e)
	atomic.StoreUint32(s.q.tailPtr(), tail+1)
	return true
}

// Pop removes and returns the oldest submission entry. Returns false if
// the queue is empty.
func (s *SubmissionQueue) Pop() (SQE, bool) {
	if s.q.empty() {
		return SQE{}, false
	}
	head := atomic.LoadUint32(s.q.headPtr())
	e, err := getSQE(s.q.slot(head))
	if err != nil {
		return SQE{}, false
	}
	atomic.StoreUint32(s.q.headPtr(), head+1)
	return e, true
}

// Len reports the number of entries currently queued.
func (s *SubmissionQueue) Len() int {
	head := atomic.LoadUint32(s.q.headPtr())
	tail := atomic.LoadUint32(s.q.tailPtr())
	return int(tail - head)
}

// CompletionQueue is the consumer side a client or driver drains
// finished operations from.
type CompletionQueue struct{ q *queue }

// NewCompletionQueue wraps buf as a completion queue with the given
// power-of-two entry count. buf must be at least SizeOfCQE*entries+8 bytes.
func NewCompletionQueue(buf []byte, entries uint32) (*CompletionQueue, error) {
	q, err := newQueue(buf, entries, SizeOfCQE)
	if err != nil {
		return nil, err
	}
	return &CompletionQueue{q: q}, nil
}

// Push appends one completion entry. Returns false if the queue is full.
func (c *CompletionQueue) Push(e CQE) bool {
	if c.q.full() {
		return false
	}
	tail := atomic.LoadUint32(c.q.tailPtr())
	putCQE(c.q.slot(tail), e)
	atomic.StoreUint32(c.q.tailPtr(), tail+1)
	return true
}

// Peek returns the oldest completion entry without removing it.
func (c *CompletionQueue) Peek() (CQE, bool) {
	if c.q.empty() {
		return CQE{}, false
	}
	head := atomic.LoadUint32(c.q.headPtr())
	e, err := getCQE(c.q.slot(head))
	if err != nil {
		return CQE{}, false
	}
	return e, true
}

// Advance removes the oldest completion entry, previously read via Peek.
func (c *CompletionQueue) Advance() {
	head := atomic.LoadUint32(c.q.headPtr())
	atomic.StoreUint32(c.q.headPtr(), head+1)
}

// Pop removes and returns the oldest completion entry.
func (c *CompletionQueue) Pop() (CQE, bool) {
	e, ok := c.Peek()
	if !ok {
		return CQE{}, false
	}
	c.Advance()
	return e, true
}

// RequiredBytes returns the buffer size needed to hold a ring of the
// given entry count and per-entry size, including its header.
func RequiredBytes(entries uint32, entrySize uint32) int {
	return int(headerSize + entries*entrySize)
}
