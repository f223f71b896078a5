package bo

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/NeowayLabs/kmsd/internal/logger"
)

// PageSize is the allocation granularity of the GPU.
const PageSize = 4096

var (
	// ErrAllocation reports the backend returned no memory. Callers
	// recover by degrading to a cheaper placement.
	ErrAllocation = errors.New("buffer allocation failed")
	// ErrMap reports the buffer exists but no CPU mapping could be made.
	ErrMap = errors.New("buffer mapping failed")
)

// Device is the kernel interface buffer objects are created through.
type Device interface {
	// generic buffer manager
	CreateDumb(width, height, bpp uint32) (handle, pitch uint32, size uint64, err error)
	MapDumb(handle uint32, size uint64) ([]byte, error)
	DestroyDumb(handle uint32) error

	// device memory allocator
	CreateGEM(size, alignment uint64, domain Domain) (uint32, error)
	MapGEM(handle uint32, size uint64) ([]byte, error)
	CloseGEM(handle uint32) error

	Unmap(mem []byte) error
}

// Allocator creates buffer objects. It never retries a failed allocation;
// the fallback policy belongs to the caller.
type Allocator struct {
	dev  Device
	live atomic.Int64
}

func NewAllocator(dev Device) *Allocator {
	return &Allocator{dev: dev}
}

// Live returns the number of buffer objects created and not yet freed.
func (a *Allocator) Live() int {
	return int(a.live.Load())
}

func roundUp(x, v uint64) uint64 {
	if x%v == 0 {
		return x
	}
	return x + (v - (x % v))
}

func (a *Allocator) newBO(path Path, domain Domain, handle uint32, size uint64, pitch uint32) *BO {
	b := &BO{
		alloc:  a,
		path:   path,
		domain: domain,
		handle: handle,
		size:   size,
		pitch:  pitch,
	}
	b.refs.Store(1)
	a.live.Add(1)
	return b
}

// Allocate creates a buffer of at least size bytes in the given domain on
// the device-memory path. The size is rounded up to whole pages before it
// reaches the kernel. The returned buffer holds one reference.
func (a *Allocator) Allocate(size uint64, domain Domain, alignment uint64) (*BO, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: zero sized request", ErrAllocation)
	}
	size = roundUp(size, PageSize)
	if alignment == 0 {
		alignment = PageSize
	}

	handle, err := a.dev.CreateGEM(size, alignment, domain)
	if err != nil {
		return nil, fmt.Errorf("%w: %d bytes in %s: %v", ErrAllocation, size, domain, err)
	}
	b := a.newBO(PathDeviceMemory, domain, handle, size, 0)
	logger.Debug("allocated buffer", "bo", b)
	return b, nil
}

// AllocatePitched creates a width×height surface on the device-memory path
// whose rows are padded to a multiple of align bytes.
func (a *Allocator) AllocatePitched(width, height, bpp, align uint32, domain Domain) (*BO, error) {
	if width == 0 || height == 0 || bpp == 0 || align == 0 {
		return nil, fmt.Errorf("%w: invalid surface %dx%d@%d align %d",
			ErrAllocation, width, height, bpp, align)
	}
	pitch := uint32(roundUp(uint64(width)*uint64((bpp+7)/8), uint64(align)))

	b, err := a.Allocate(uint64(pitch)*uint64(height), domain, 0)
	if err != nil {
		return nil, err
	}
	b.pitch = pitch
	return b, nil
}

// AllocateSurface creates a linear width×height surface through the generic
// buffer manager. The kernel chooses the pitch. The buffer is mapped before
// it is returned; a buffer that cannot be mapped is released and ErrMap
// returned.
func (a *Allocator) AllocateSurface(width, height, bpp uint32) (*BO, error) {
	handle, pitch, size, err := a.dev.CreateDumb(width, height, bpp)
	if err != nil {
		return nil, fmt.Errorf("%w: %dx%d@%d generic surface: %v",
			ErrAllocation, width, height, bpp, err)
	}
	b := a.newBO(PathGeneric, DomainGTT, handle, size, pitch)

	if _, err := a.Map(b); err != nil {
		Unref(&b)
		return nil, err
	}
	logger.Debug("allocated surface", "bo", b, "pitch", pitch)
	return b, nil
}

// Map returns a CPU mapping of the buffer, creating it on first use.
func (a *Allocator) Map(b *BO) ([]byte, error) {
	if b.cpu != nil {
		return b.cpu, nil
	}

	var (
		mem []byte
		err error
	)
	switch b.path {
	case PathGeneric:
		mem, err = a.dev.MapDumb(b.handle, b.size)
	case PathDeviceMemory:
		mem, err = a.dev.MapGEM(b.handle, b.size)
	default:
		err = fmt.Errorf("unknown path %d", b.path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMap, b, err)
	}
	b.cpu = mem
	return mem, nil
}

func (a *Allocator) free(b *BO) {
	if b.cpu != nil {
		if err := a.dev.Unmap(b.cpu); err != nil {
			logger.Warn("failed to unmap buffer", "bo", b, "err", err)
		}
		b.cpu = nil
	}

	var err error
	switch b.path {
	case PathGeneric:
		err = a.dev.DestroyDumb(b.handle)
	case PathDeviceMemory:
		err = a.dev.CloseGEM(b.handle)
	}
	if err != nil {
		logger.Warn("failed to release buffer", "bo", b, "err", err)
	}
	a.live.Add(-1)
	logger.Debug("freed buffer", "bo", b)
}
