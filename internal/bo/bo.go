// Package bo implements reference-counted GPU buffer objects and the
// allocator that creates them.
//
// A BO is the only owner of its kernel handle. Every component storing a
// *BO in a field takes its own reference with Ref and gives it back with
// Unref (or Replace, which does both for a field being overwritten).
package bo

import (
	"fmt"
	"sync/atomic"
)

// Domain is the memory pool a buffer object lives in.
type Domain uint32

const (
	// DomainGTT is system memory the GPU reaches through the GART. It is
	// always CPU visible.
	DomainGTT Domain = 0x2
	// DomainVRAM is device local memory.
	DomainVRAM Domain = 0x4
)

func (d Domain) String() string {
	switch d {
	case DomainGTT:
		return "GTT"
	case DomainVRAM:
		return "VRAM"
	}
	return fmt.Sprintf("Domain(%#x)", uint32(d))
}

// Path is the backend a buffer object was created through.
type Path uint8

const (
	// PathGeneric buffers come from the generic buffer manager (kernel dumb
	// buffers): linear, host visible, mapped at creation.
	PathGeneric Path = iota + 1
	// PathDeviceMemory buffers come from the driver's GEM allocator with an
	// explicit domain.
	PathDeviceMemory
)

func (p Path) String() string {
	switch p {
	case PathGeneric:
		return "generic"
	case PathDeviceMemory:
		return "device-memory"
	}
	return "unknown"
}

type BO struct {
	alloc *Allocator

	path   Path
	domain Domain
	handle uint32
	size   uint64
	pitch  uint32

	cpu  []byte
	refs atomic.Int32
}

// Ref takes a new reference and returns the same buffer.
func (b *BO) Ref() *BO {
	if b.refs.Add(1) <= 1 {
		panic(fmt.Sprintf("bo: ref of released %s", b))
	}
	return b
}

// Unref drops the reference *b holds and clears *b. The buffer is unmapped
// and its backend memory released when the last reference goes away.
// Unref of a nil handle is a no-op.
func Unref(b **BO) {
	if b == nil || *b == nil {
		return
	}
	buf := *b
	*b = nil

	n := buf.refs.Add(-1)
	switch {
	case n == 0:
		buf.alloc.free(buf)
	case n < 0:
		panic(fmt.Sprintf("bo: too many releases of %s", buf))
	}
}

// Replace stores next in *slot, releasing the reference to the previous
// value first and taking one on next. Storing the value already held is a
// no-op.
func Replace(slot **BO, next *BO) {
	if *slot == next {
		return
	}
	Unref(slot)
	if next != nil {
		*slot = next.Ref()
	}
}

// Refs returns the current reference count.
func (b *BO) Refs() int {
	return int(b.refs.Load())
}

func (b *BO) Size() uint64 {
	return b.size
}

func (b *BO) Domain() Domain {
	return b.domain
}

func (b *BO) Path() Path {
	return b.path
}

// Handle returns the kernel GEM handle, for framebuffer and cursor
// programming only.
func (b *BO) Handle() uint32 {
	return b.handle
}

// Pitch returns the row stride in bytes of surface allocations and zero for
// plain allocations.
func (b *BO) Pitch() uint32 {
	return b.pitch
}

// CPU returns the CPU mapping, or nil when the buffer is not mapped.
func (b *BO) CPU() []byte {
	return b.cpu
}

func (b *BO) Mapped() bool {
	return b.cpu != nil
}

func (b *BO) String() string {
	return fmt.Sprintf("bo(%s %s handle=%d size=%d)", b.path, b.domain, b.handle, b.size)
}
