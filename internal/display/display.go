// Package display drives one screen of an adapter through mode setting
// and VT switches.
package display

import (
	"errors"
	"io"

	"github.com/NeowayLabs/kmsd/internal/bo"
	"github.com/NeowayLabs/kmsd/mode"
)

var (
	// ErrMasterAcquisition reports another process holds DRM master.
	ErrMasterAcquisition = errors.New("unable to retrieve master")
	// ErrModeApply reports one or more outputs rejected their mode. The
	// failing pipelines are turned off, the others keep running.
	ErrModeApply = errors.New("mode apply failed")
	// ErrUnsupportedDepth reports a pixel depth/bpp pair the display
	// engine cannot scan out.
	ErrUnsupportedDepth = errors.New("unsupported depth")
	// ErrNoModes reports that no output has a usable mode.
	ErrNoModes = errors.New("no modes")
	// ErrState reports an operation invoked in the wrong screen state.
	ErrState = errors.New("invalid screen state")
	// ErrSwapSuppressed reports a buffer swap refused because the screen
	// does not own the display.
	ErrSwapSuppressed = errors.New("buffer swap suppressed")
	// ErrBufferLayout reports a buffer whose pitch or size does not fit
	// the screen.
	ErrBufferLayout = errors.New("buffer does not fit the screen")
)

// KMS is the kernel mode setting interface of one adapter, shared by every
// screen on it.
type KMS interface {
	io.Closer
	bo.Device

	Probe() (Adapter, error)
	Outputs() ([]Output, error)

	SetMaster() error
	DropMaster() error

	AddFB(width, height uint32, depth, bpp uint8, pitch, handle uint32) (uint32, error)
	RmFB(fb uint32) error
	// SetCrtc scans fb out on crtc. A zero fb turns the crtc off.
	SetCrtc(crtc, fb, x, y uint32, connectors []uint32, mode *mode.Info) error
	// SetCursor programs the cursor plane. A zero handle hides it.
	SetCursor(crtc, handle, width, height uint32) error
	PageFlip(crtc, fb uint32) error
	SetDPMS(connector uint32, level uint64) error
}

// Heaps are the memory pool sizes of an adapter in bytes.
type Heaps struct {
	GTT         uint64
	VRAM        uint64
	VRAMVisible uint64
}

// Adapter is what the kernel reports about the hardware.
type Adapter struct {
	Driver string
	CRTCs  []uint32

	// DeviceMemory is true when the driver has a domain aware buffer
	// allocator (amdgpu GEM).
	DeviceMemory bool
	// GenericBuffers is true when the kernel supports dumb buffers.
	GenericBuffers bool
	AccelWorking   bool

	Heaps Heaps
	// GroupBytes is the pipe interleave size decoded from the tiling
	// configuration, zero when unknown.
	GroupBytes uint32

	CursorWidth, CursorHeight uint32
	Prime                     uint64
}

// Output is a connector routed to a CRTC.
type Output struct {
	Name      string
	Connector uint32
	CRTC      uint32
	Pipe      int

	Modes []mode.Info // as reported, preferred first
	Mode  mode.Info   // the mode chosen at pre-init
	X, Y  uint32

	// Enabled outputs are part of the desired configuration.
	Enabled bool
	// Lit outputs are currently scanning out the front buffer.
	Lit bool
}

// Options are the screen policies taken from the configuration.
type Options struct {
	NoAccel        bool
	AccelMethod    string
	SoftwareCursor bool
	PageFlip       bool
}

// Request carries the mode discovery inputs.
type Request struct {
	Depth int
	BPP   int

	// Zero sizes the screen to fit every enabled output side by side.
	VirtualWidth  int
	VirtualHeight int

	// Heads restricts the screen to the named connectors; empty takes
	// them all.
	Heads []string
}
