package display

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/NeowayLabs/kmsd/internal/bo"
	"github.com/NeowayLabs/kmsd/internal/cursor"
	"github.com/NeowayLabs/kmsd/internal/logger"
	"github.com/NeowayLabs/kmsd/internal/pixmap"
	"github.com/NeowayLabs/kmsd/internal/session"
)

// ScreenSurface is the surface id of the screen pixmap, bound to the front
// buffer on accelerated screens.
const ScreenSurface pixmap.SurfaceID = 0

// State is a stage of the screen lifecycle.
type State int

const (
	Uninitialized State = iota
	ModeDiscovered
	BuffersReady
	Active
	Inactive
	Closed
)

func (st State) String() string {
	switch st {
	case Uninitialized:
		return "uninitialized"
	case ModeDiscovered:
		return "mode-discovered"
	case BuffersReady:
		return "buffers-ready"
	case Active:
		return "active"
	case Inactive:
		return "inactive"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(st))
}

// Screen is one display context. Its methods are not safe for concurrent
// use; the host serializes them.
type Screen struct {
	log  *log.Logger
	opts Options
	sess *session.Handle[KMS]
	kms  KMS

	state   State
	adapter Adapter
	accel   Accel
	format  Format

	virtualWidth  int
	virtualHeight int
	pitchAlign    int
	displayWidth  int
	pitch         uint32

	outputs []Output

	alloc   *bo.Allocator
	front   *bo.BO
	fb      uint32
	cursors *cursor.Slots
	pixmaps *pixmap.Table
	shadows map[int]*bo.BO

	master   bool
	vtActive bool

	blockHooks []func()
	flushHooks []func()
	closeHooks []func() error
}

// New creates a screen on an acquired session. The screen owns the handle
// and releases it on Close.
func New(sess *session.Handle[KMS], opts Options) *Screen {
	role := "primary"
	if sess.Secondary() {
		role = "secondary"
	}
	dev := sess.Device()
	return &Screen{
		log:     logger.With("adapter", sess.Adapter(), "role", role),
		opts:    opts,
		sess:    sess,
		kms:     dev,
		alloc:   bo.NewAllocator(dev),
		pixmaps: pixmap.NewTable(),
		shadows: make(map[int]*bo.BO),
	}
}

func (s *Screen) expect(op string, states ...State) error {
	for _, st := range states {
		if s.state == st {
			return nil
		}
	}
	return fmt.Errorf("%w: %s while %s", ErrState, op, s.state)
}

// fail tears the screen down after a fatal error and returns err.
func (s *Screen) fail(err error) error {
	if terr := s.teardown(); terr != nil {
		s.log.Warn("teardown after fatal error", "err", terr)
	}
	return err
}

// PreInit probes the adapter, validates the pixel format, picks the
// acceleration variant and computes the desired output configuration.
func (s *Screen) PreInit(req Request) error {
	if err := s.expect("pre-init", Uninitialized); err != nil {
		return err
	}

	format, err := ResolveFormat(req.Depth, req.BPP)
	if err != nil {
		s.log.Error("given depth is not supported", "depth", req.Depth, "bpp", req.BPP)
		return s.fail(err)
	}
	s.format = format
	s.log.Infof("Pixel depth = %d bits stored in %d bytes (%d bpp pixmaps)",
		format.Depth, format.CPP(), format.BPP)

	ad, err := s.kms.Probe()
	if err != nil {
		return s.fail(fmt.Errorf("probe adapter: %w", err))
	}
	s.adapter = ad
	s.sess.SetCRTCCount(len(ad.CRTCs))

	s.accel = SelectAccel(s.opts, ad)
	if s.accel == Unaccelerated {
		s.log.Info("GPU accel disabled or not working, using shadow framebuffer")
	} else {
		s.log.Info("acceleration enabled", "accel", s.accel)
	}

	s.pitchAlign = DefaultGroupBytes
	if s.accel != Unaccelerated && ad.GroupBytes != 0 {
		s.pitchAlign = int(ad.GroupBytes)
	}

	s.log.Infof("mem size init: gart size :%x vram size: s:%x visible:%x",
		ad.Heaps.GTT, ad.Heaps.VRAM, ad.Heaps.VRAMVisible)
	if s.opts.PageFlip {
		s.log.Info("KMS Pageflipping: enabled")
	} else {
		s.log.Info("KMS Pageflipping: disabled")
	}

	outputs, err := s.kms.Outputs()
	if err != nil {
		return s.fail(fmt.Errorf("discover outputs: %w", err))
	}
	if err := s.layout(outputs, req); err != nil {
		return s.fail(err)
	}

	s.displayWidth = alignUp(s.virtualWidth, s.pitchAlign/s.format.CPP())
	s.state = ModeDiscovered
	return nil
}

// layout keeps the requested heads, picks a valid mode per output and
// places the outputs left to right.
func (s *Screen) layout(outputs []Output, req Request) error {
	heads := make(map[string]bool, len(req.Heads))
	for _, h := range req.Heads {
		heads[h] = true
	}

	var x, width, height int
	for _, out := range outputs {
		if len(heads) > 0 && !heads[out.Name] {
			continue
		}
		out.Enabled = false
		out.Lit = false
		for _, m := range out.Modes {
			if ValidMode(&m) == ModeOK {
				out.Mode = m
				out.Enabled = true
				break
			}
		}
		if !out.Enabled {
			s.log.Warn("no valid mode", "output", out.Name)
			continue
		}
		out.X = uint32(x)
		x += int(out.Mode.Hdisplay)
		width = x
		height = max(height, int(out.Mode.Vdisplay))
		s.outputs = append(s.outputs, out)
	}
	if len(s.outputs) == 0 {
		return ErrNoModes
	}

	s.virtualWidth, s.virtualHeight = width, height
	if req.VirtualWidth > 0 && req.VirtualHeight > 0 {
		s.virtualWidth, s.virtualHeight = req.VirtualWidth, req.VirtualHeight
	}
	for i := range s.outputs {
		out := &s.outputs[i]
		if int(out.X)+int(out.Mode.Hdisplay) > s.virtualWidth ||
			int(out.Mode.Vdisplay) > s.virtualHeight {
			s.log.Warn("output does not fit the virtual screen", "output", out.Name,
				"mode", out.Mode.ModeName())
			out.Enabled = false
		}
	}
	for _, out := range s.outputs {
		if out.Enabled {
			return nil
		}
	}
	return ErrNoModes
}

// SetupBuffers allocates the cursor slots and the front buffer.
func (s *Screen) SetupBuffers() error {
	if err := s.expect("setup buffers", ModeDiscovered); err != nil {
		return err
	}

	s.cursors = cursor.New(cursor.Config{
		Pipes:        len(s.adapter.CRTCs),
		Width:        s.adapter.CursorWidth,
		Height:       s.adapter.CursorHeight,
		DeviceMemory: s.adapter.DeviceMemory && s.accel != GenericBufferManaged,
		Alloc:        s.alloc,
		Programmer:   cursorPlane{s},
	})
	for _, out := range s.outputs {
		switch {
		case !out.Enabled:
		case s.opts.SoftwareCursor:
			_ = s.cursors.Disable(out.Pipe)
		default:
			// a failure leaves the pipe on the software cursor
			_, _ = s.cursors.Ensure(out.Pipe)
		}
	}

	front, accel, err := s.allocateFront(s.virtualWidth, s.virtualHeight)
	if err != nil {
		s.log.Error("Failed to allocate front buffer memory", "err", err)
		return s.fail(err)
	}
	s.installFront(front, accel)
	bo.Unref(&front)

	s.state = BuffersReady
	return nil
}

func (s *Screen) allocate(accel Accel, width, height int) (*bo.BO, error) {
	w, h, bpp := uint32(width), uint32(height), uint32(s.format.BPP)
	switch {
	case accel == DeviceMemoryManaged:
		return s.alloc.AllocatePitched(w, h, bpp, uint32(s.pitchAlign), bo.DomainVRAM)
	case accel == GenericBufferManaged, s.adapter.GenericBuffers:
		return s.allocateSurface(width, h, bpp)
	}
	return s.alloc.AllocatePitched(w, h, bpp, uint32(s.pitchAlign), bo.DomainGTT)
}

// allocateSurface asks the generic buffer manager for rows padded to the
// pitch alignment. The kernel may pad further; a pitch that is not a
// multiple of the alignment cannot be scanned out.
func (s *Screen) allocateSurface(width int, height, bpp uint32) (*bo.BO, error) {
	w := alignUp(width, s.pitchAlign/s.format.CPP())
	b, err := s.alloc.AllocateSurface(uint32(w), height, bpp)
	if err != nil {
		return nil, err
	}
	if b.Pitch()%uint32(s.pitchAlign) != 0 {
		pitch := b.Pitch()
		bo.Unref(&b)
		return nil, fmt.Errorf("%w: surface pitch %d is not a multiple of %d",
			bo.ErrAllocation, pitch, s.pitchAlign)
	}
	return b, nil
}

// allocateFront allocates a front buffer for the current variant. An
// accelerated screen that runs out of memory drops to a linear host
// visible buffer; the returned variant takes effect on installFront.
func (s *Screen) allocateFront(width, height int) (*bo.BO, Accel, error) {
	accel := s.accel
	b, err := s.allocate(accel, width, height)
	if err != nil && accel != Unaccelerated && errors.Is(err, bo.ErrAllocation) {
		s.log.Warn("accelerated front buffer allocation failed, using linear host memory", "err", err)
		accel = Unaccelerated
		b, err = s.allocate(accel, width, height)
	}
	if err != nil {
		return nil, s.accel, err
	}

	// software rendering needs the CPU view; accelerated screens map on demand
	if accel == Unaccelerated {
		if _, err := s.alloc.Map(b); err != nil {
			bo.Unref(&b)
			return nil, s.accel, err
		}
	}
	return b, accel, nil
}

// installFront makes b the front buffer, taking a reference of its own,
// and commits the acceleration variant it was allocated for.
func (s *Screen) installFront(b *bo.BO, accel Accel) {
	if accel != s.accel {
		s.log.Warn("acceleration disabled", "was", s.accel)
		s.accel = accel
	}
	bo.Replace(&s.front, b)
	s.pitch = b.Pitch()
	s.displayWidth = int(s.pitch) / s.format.CPP()
	s.log.Infof("Front buffer pitch: %d bytes", s.pitch)

	if s.accel != Unaccelerated {
		s.pixmaps.Bind(ScreenSurface, s.front)
	} else {
		s.pixmaps.Bind(ScreenSurface, nil)
	}
}

type cursorPlane struct {
	s *Screen
}

func (p cursorPlane) SetCursor(pipe int, b *bo.BO, width, height uint32) error {
	var handle uint32
	if b != nil {
		handle = b.Handle()
	}
	return p.s.kms.SetCursor(p.s.adapter.CRTCs[pipe], handle, width, height)
}

func (s *Screen) State() State             { return s.state }
func (s *Screen) Accel() Accel             { return s.accel }
func (s *Screen) Format() Format           { return s.format }
func (s *Screen) Adapter() Adapter         { return s.adapter }
func (s *Screen) Allocator() *bo.Allocator { return s.alloc }

// Cursors returns the cursor slots, nil before SetupBuffers.
func (s *Screen) Cursors() *cursor.Slots { return s.cursors }

// Pitch returns the front buffer row stride in bytes.
func (s *Screen) Pitch() uint32 { return s.pitch }

// DisplayWidth returns the front buffer width in pixels including the
// row padding.
func (s *Screen) DisplayWidth() int { return s.displayWidth }

func (s *Screen) VirtualSize() (int, int) { return s.virtualWidth, s.virtualHeight }

func (s *Screen) MasterHeld() bool { return s.master }
func (s *Screen) VTActive() bool   { return s.vtActive }

// Outputs returns a copy of the desired output configuration.
func (s *Screen) Outputs() []Output {
	return append([]Output(nil), s.outputs...)
}

// FrontBuffer returns the front buffer without taking a reference.
func (s *Screen) FrontBuffer() *bo.BO { return s.front }

// FrontBufferCPU returns the CPU view of the front buffer for software
// rendering, mapping it on first use.
func (s *Screen) FrontBufferCPU() ([]byte, error) {
	if s.front == nil {
		return nil, fmt.Errorf("%w: no front buffer while %s", ErrState, s.state)
	}
	return s.alloc.Map(s.front)
}

// SurfaceBO returns the buffer bound to a surface, or nil. No reference is
// taken.
func (s *Screen) SurfaceBO(id pixmap.SurfaceID) *bo.BO {
	return s.pixmaps.Lookup(id)
}

// Bind points a surface at a buffer; nil unbinds it.
func (s *Screen) Bind(id pixmap.SurfaceID, b *bo.BO) {
	s.pixmaps.Bind(id, b)
}

// DestroySurface drops the binding of a destroyed surface.
func (s *Screen) DestroySurface(id pixmap.SurfaceID) {
	s.pixmaps.Destroy(id)
}

// Stride returns the row stride of a bound surface.
func (s *Screen) Stride(id pixmap.SurfaceID) int {
	return s.pixmaps.Stride(id)
}
