// Package shm provides the service-side half of the shared packet pool:
// a page-aligned, anonymously mmap'd region sliced into fixed-size
// frames, exposed only through bounded-slice accessors (spec.md §9:
// "No raw pointers in the data model"). The root package's
// Server.initGlobalPool maps its global pool with this package directly,
// as an anonymous mapping rather than through the resource manager, the
// way go-ublk's internal/uring maps its io_uring submission/completion
// regions with golang.org/x/sys/unix.
package shm

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/capsys/netd/internal/constants"
)

// Pool is a contiguous region of page-aligned memory divided into fixed
// constants.FrameSize frames.
type Pool struct {
	mem    []byte
	frames int
}

// NewPool mmaps an anonymous, zero-filled region large enough to hold
// frames of constants.FrameSize bytes each, rounded up to a whole
// number of pages.
func NewPool(frames int) (*Pool, error) {
	if frames <= 0 {
		return nil, fmt.Errorf("shm: frame count must be positive, got %d", frames)
	}
	size := frames * constants.FrameSize
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %d bytes: %w", size, err)
	}
	return &Pool{mem: mem, frames: frames}, nil
}

// Frames reports how many fixed-size frames the pool holds.
func (p *Pool) Frames() int { return p.frames }

// Bytes returns the pool's total size in bytes.
func (p *Pool) Bytes() int { return len(p.mem) }

// All returns the pool's entire backing region as one bounded slice,
// for callers (like internal/netdev) that address it by byte offset
// rather than frame index.
func (p *Pool) All() []byte { return p.mem }

// Frame returns a bounded slice over frame index, sized exactly
// constants.FrameSize. Panics on an out-of-range index; callers are
// expected to validate against Frames() first, same as any other slice
// bounds contract.
func (p *Pool) Frame(index int) []byte {
	if index < 0 || index >= p.frames {
		panic(fmt.Sprintf("shm: frame index %d out of range [0,%d)", index, p.frames))
	}
	off := index * constants.FrameSize
	return p.mem[off : off+constants.FrameSize]
}

// Close unmaps the pool. It is not safe to use the pool, or any slice
// obtained from Frame, after Close returns.
func (p *Pool) Close() error {
	if p.mem == nil {
		return nil
	}
	err := unix.Munmap(p.mem)
	p.mem = nil
	return err
}

// FramesForBytes returns the number of whole constants.FrameSize frames
// needed to cover n bytes, and never less than one (n == 0 gives 1).
func FramesForBytes(n uint64) int {
	frames := n / constants.FrameSize
	if n%constants.FrameSize != 0 {
		frames++
	}
	if frames == 0 {
		frames = 1
	}
	return int(frames)
}
