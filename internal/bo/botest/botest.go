// Package botest provides an in-memory bo.Device for tests.
package botest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/NeowayLabs/kmsd/internal/bo"
)

// ErrNoMemory is what a failing Device returns by default.
var ErrNoMemory = errors.New("out of memory")

// Request describes one allocation submitted to the Device.
type Request struct {
	Seq    int // 0 based order of submission
	Path   bo.Path
	Domain bo.Domain
	Size   uint64 // page rounded size on the device path, zero on the generic path
	Width  uint32 // generic path only
}

type object struct {
	path   bo.Path
	size   uint64
	mapped bool
}

// Device keeps every buffer object in Go memory and counts what happens
// to them.
type Device struct {
	// Fail, when set, is consulted before each allocation; a non-nil
	// result fails it.
	Fail func(Request) error
	// FailMap, when set, is consulted before each mapping.
	FailMap func(handle uint32) error
	// NoDeviceMemory makes the device-memory path unavailable, like a
	// card without a GEM domain allocator.
	NoDeviceMemory bool
	// DumbPitchAlign is the pitch alignment of generic surfaces; 64 bytes
	// when zero.
	DumbPitchAlign uint32

	mu      sync.Mutex
	seq     int
	next    uint32
	objects map[uint32]*object

	creates, frees, maps, unmaps, badFrees int
}

func New() *Device {
	return &Device{}
}

func (d *Device) check(req Request) error {
	req.Seq = d.seq
	d.seq++
	if d.Fail != nil {
		return d.Fail(req)
	}
	return nil
}

func (d *Device) add(path bo.Path, size uint64) uint32 {
	if d.objects == nil {
		d.objects = make(map[uint32]*object)
	}
	d.next++
	d.objects[d.next] = &object{path: path, size: size}
	d.creates++
	return d.next
}

func (d *Device) CreateDumb(width, height, bpp uint32) (uint32, uint32, uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(Request{Path: bo.PathGeneric, Domain: bo.DomainGTT, Width: width}); err != nil {
		return 0, 0, 0, err
	}
	align := d.DumbPitchAlign
	if align == 0 {
		align = 64
	}
	pitch := (width*((bpp+7)/8) + align - 1) / align * align
	size := uint64(pitch) * uint64(height)
	return d.add(bo.PathGeneric, size), pitch, size, nil
}

func (d *Device) CreateGEM(size, alignment uint64, domain bo.Domain) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.NoDeviceMemory {
		return 0, errors.New("device memory allocator not available")
	}
	if err := d.check(Request{Path: bo.PathDeviceMemory, Domain: domain, Size: size}); err != nil {
		return 0, err
	}
	return d.add(bo.PathDeviceMemory, size), nil
}

func (d *Device) mapObject(path bo.Path, handle uint32, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	obj, ok := d.objects[handle]
	if !ok || obj.path != path {
		return nil, fmt.Errorf("no %s object %d", path, handle)
	}
	if d.FailMap != nil {
		if err := d.FailMap(handle); err != nil {
			return nil, err
		}
	}
	obj.mapped = true
	d.maps++
	return make([]byte, size), nil
}

func (d *Device) MapDumb(handle uint32, size uint64) ([]byte, error) {
	return d.mapObject(bo.PathGeneric, handle, size)
}

func (d *Device) MapGEM(handle uint32, size uint64) ([]byte, error) {
	return d.mapObject(bo.PathDeviceMemory, handle, size)
}

func (d *Device) Unmap(mem []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unmaps++
	return nil
}

func (d *Device) release(path bo.Path, handle uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	obj, ok := d.objects[handle]
	if !ok || obj.path != path {
		d.badFrees++
		return fmt.Errorf("double free of %s object %d", path, handle)
	}
	delete(d.objects, handle)
	d.frees++
	return nil
}

func (d *Device) DestroyDumb(handle uint32) error {
	return d.release(bo.PathGeneric, handle)
}

func (d *Device) CloseGEM(handle uint32) error {
	return d.release(bo.PathDeviceMemory, handle)
}

// Creates returns how many objects were allocated.
func (d *Device) Creates() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.creates
}

// Frees returns how many objects were released.
func (d *Device) Frees() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frees
}

// Maps returns how many CPU mappings were created.
func (d *Device) Maps() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maps
}

// Unmaps returns how many CPU mappings were torn down.
func (d *Device) Unmaps() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unmaps
}

// BadFrees returns how many releases targeted an object that did not exist.
func (d *Device) BadFrees() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.badFrees
}

// Live returns how many objects are allocated right now.
func (d *Device) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.objects)
}

// Alive reports whether the object behind a handle still exists.
func (d *Device) Alive(handle uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.objects[handle]
	return ok
}

// FailNth returns a Fail hook that fails only the n-th (0 based)
// allocation.
func FailNth(n int) func(Request) error {
	return func(req Request) error {
		if req.Seq == n {
			return ErrNoMemory
		}
		return nil
	}
}

// FailDomain returns a Fail hook that fails every device-memory allocation
// in the given domain.
func FailDomain(domain bo.Domain) func(Request) error {
	return func(req Request) error {
		if req.Path == bo.PathDeviceMemory && req.Domain == domain {
			return ErrNoMemory
		}
		return nil
	}
}
