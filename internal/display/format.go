package display

import (
	"fmt"

	"github.com/NeowayLabs/kmsd/mode"
)

// DefaultGroupBytes is the pitch alignment used when the tiling
// configuration is unknown.
const DefaultGroupBytes = 256

// Format is a validated pixel depth and its storage size.
type Format struct {
	Depth int
	BPP   int
}

// CPP returns the bytes per pixel.
func (f Format) CPP() int {
	return f.BPP / 8
}

// ResolveFormat validates a requested depth and bpp. A zero depth selects
// 24; a zero bpp selects the storage size of the depth. Depth 24 is only
// scanned out stored in 32 bits.
func ResolveFormat(depth, bpp int) (Format, error) {
	if depth == 0 {
		depth = 24
	}

	var want int
	switch depth {
	case 8:
		want = 8
	case 15, 16:
		want = 16
	case 24:
		want = 32
	default:
		return Format{}, fmt.Errorf("%w: depth %d", ErrUnsupportedDepth, depth)
	}
	if bpp != 0 && bpp != want {
		return Format{}, fmt.Errorf("%w: depth %d at %d bpp", ErrUnsupportedDepth, depth, bpp)
	}
	return Format{Depth: depth, BPP: want}, nil
}

// ModeStatus is the verdict of ValidMode.
type ModeStatus int

const (
	ModeOK ModeStatus = iota
	// ModeClockRange marks modes whose clocks the display PLLs cannot
	// drive reliably.
	ModeClockRange
)

func (st ModeStatus) String() string {
	switch st {
	case ModeOK:
		return "ok"
	case ModeClockRange:
		return "clock range"
	}
	return fmt.Sprintf("ModeStatus(%d)", int(st))
}

// ValidMode rejects modes the hardware does not drive. Double scan is
// broken at high clocks, so it is refused from 1024 pixels wide or 768
// lines high.
func ValidMode(m *mode.Info) ModeStatus {
	if m.DoubleScan() && (m.Hdisplay >= 1024 || m.Vdisplay >= 768) {
		return ModeClockRange
	}
	return ModeOK
}

// Accel is the acceleration variant of a screen, chosen once at pre-init.
type Accel int

const (
	// Unaccelerated screens render in software into a linear, host
	// visible front buffer.
	Unaccelerated Accel = iota
	// GenericBufferManaged screens allocate through the generic buffer
	// manager.
	GenericBufferManaged
	// DeviceMemoryManaged screens allocate through the driver's domain
	// aware allocator with explicit VRAM/GTT placement.
	DeviceMemoryManaged
)

func (a Accel) String() string {
	switch a {
	case Unaccelerated:
		return "unaccelerated"
	case GenericBufferManaged:
		return "generic-buffer-managed"
	case DeviceMemoryManaged:
		return "device-memory-managed"
	}
	return fmt.Sprintf("Accel(%d)", int(a))
}

// SelectAccel picks the acceleration variant. Acceleration is off when the
// options disable it or the kernel reports the engines are not working.
func SelectAccel(opts Options, ad Adapter) Accel {
	switch {
	case opts.NoAccel, opts.AccelMethod == "none", !ad.AccelWorking:
		return Unaccelerated
	case ad.DeviceMemory:
		return DeviceMemoryManaged
	case ad.GenericBuffers:
		return GenericBufferManaged
	}
	return Unaccelerated
}

func alignUp(x, a int) int {
	return (x + a - 1) / a * a
}
