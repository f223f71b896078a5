// Package cursor manages the per-pipeline hardware cursor buffers.
package cursor

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/NeowayLabs/kmsd/internal/bo"
	"github.com/NeowayLabs/kmsd/internal/logger"
)

// ErrCursorAllocation reports that a pipeline got no usable cursor buffer.
// The pipeline falls back to a software cursor.
var ErrCursorAllocation = errors.New("cursor allocation failed")

const (
	// DefaultWidth and DefaultHeight are the cursor size of CIK and newer
	// parts, used when the kernel does not report one.
	DefaultWidth  = 128
	DefaultHeight = 128

	bytesPerPixel = 4 // ARGB8888
)

// Programmer drives the cursor plane of a pipeline.
type Programmer interface {
	// SetCursor scans out b on the cursor plane of pipe; a nil b hides the
	// cursor.
	SetCursor(pipe int, b *bo.BO, width, height uint32) error
}

type Config struct {
	Pipes  int
	Width  uint32
	Height uint32

	// DeviceMemory places cursors in VRAM through the device-memory
	// allocator. Otherwise they come from the generic buffer manager,
	// host visible and mapped at creation.
	DeviceMemory bool

	Alloc      *bo.Allocator
	Programmer Programmer
}

// Slots holds one lazily allocated cursor buffer per pipeline.
type Slots struct {
	cfg      Config
	bufs     []*bo.BO
	software []bool
	visible  []bool
}

func New(cfg Config) *Slots {
	if cfg.Width == 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height == 0 {
		cfg.Height = DefaultHeight
	}
	return &Slots{
		cfg:      cfg,
		bufs:     make([]*bo.BO, cfg.Pipes),
		software: make([]bool, cfg.Pipes),
		visible:  make([]bool, cfg.Pipes),
	}
}

// Size returns the byte size of one cursor buffer, page aligned.
func (s *Slots) Size() uint64 {
	n := uint64(s.cfg.Width) * uint64(s.cfg.Height) * bytesPerPixel
	return (n + bo.PageSize - 1) / bo.PageSize * bo.PageSize
}

func (s *Slots) Width() uint32  { return s.cfg.Width }
func (s *Slots) Height() uint32 { return s.cfg.Height }
func (s *Slots) Pipes() int     { return s.cfg.Pipes }

func (s *Slots) check(pipe int) error {
	if pipe < 0 || pipe >= len(s.bufs) {
		return fmt.Errorf("cursor: pipe %d out of range [0,%d)", pipe, len(s.bufs))
	}
	return nil
}

// Ensure returns the cursor buffer of pipe, allocating it on first use.
// A failure marks the pipeline for software cursor rendering and wraps
// ErrCursorAllocation.
func (s *Slots) Ensure(pipe int) (*bo.BO, error) {
	if err := s.check(pipe); err != nil {
		return nil, err
	}
	if b := s.bufs[pipe]; b != nil {
		return b, nil
	}

	b, err := s.allocate()
	if err != nil {
		s.software[pipe] = true
		logger.Warn("hardware cursor disabled", "pipe", pipe, "err", err)
		return nil, fmt.Errorf("%w: pipe %d: %w", ErrCursorAllocation, pipe, err)
	}
	s.bufs[pipe] = b
	s.software[pipe] = false
	logger.Debug("cursor allocated", "pipe", pipe, "bo", b)
	return b, nil
}

func (s *Slots) allocate() (*bo.BO, error) {
	alloc := s.cfg.Alloc
	if !s.cfg.DeviceMemory {
		return alloc.AllocateSurface(s.cfg.Width, s.cfg.Height, bytesPerPixel*8)
	}

	b, err := alloc.Allocate(s.Size(), bo.DomainVRAM, 0)
	if err != nil {
		return nil, err
	}
	if _, err := alloc.Map(b); err != nil {
		bo.Unref(&b)
		return nil, err
	}
	return b, nil
}

// Image returns the mapped memory of an allocated cursor buffer, where
// cursor images are written. It is nil for pipelines without one.
func (s *Slots) Image(pipe int) []byte {
	if s.check(pipe) != nil || s.bufs[pipe] == nil {
		return nil
	}
	return s.bufs[pipe].CPU()
}

// Hardware reports whether pipe renders its cursor on the cursor plane.
func (s *Slots) Hardware(pipe int) bool {
	return s.check(pipe) == nil && !s.software[pipe]
}

// Disable switches pipe to the software cursor and hides its plane.
func (s *Slots) Disable(pipe int) error {
	if err := s.check(pipe); err != nil {
		return err
	}
	s.software[pipe] = true
	return s.hide(pipe)
}

// Show puts the cursor of pipe on its plane. Pipelines using the software
// cursor are left alone.
func (s *Slots) Show(pipe int) error {
	if err := s.check(pipe); err != nil {
		return err
	}
	if s.software[pipe] {
		return nil
	}
	b, err := s.Ensure(pipe)
	if err != nil {
		return err
	}
	if err := s.cfg.Programmer.SetCursor(pipe, b, s.cfg.Width, s.cfg.Height); err != nil {
		return fmt.Errorf("show cursor on pipe %d: %w", pipe, err)
	}
	s.visible[pipe] = true
	return nil
}

// Visible reports whether the cursor plane of pipe is programmed.
func (s *Slots) Visible(pipe int) bool {
	return s.check(pipe) == nil && s.visible[pipe]
}

func (s *Slots) hide(pipe int) error {
	if !s.visible[pipe] {
		return nil
	}
	s.visible[pipe] = false
	if err := s.cfg.Programmer.SetCursor(pipe, nil, 0, 0); err != nil {
		return fmt.Errorf("hide cursor on pipe %d: %w", pipe, err)
	}
	return nil
}

// Hide takes every cursor off its plane. The buffers are kept.
func (s *Slots) Hide() error {
	var err error
	for pipe := range s.bufs {
		err = multierr.Append(err, s.hide(pipe))
	}
	return err
}

// Allocated returns how many pipelines hold a cursor buffer.
func (s *Slots) Allocated() int {
	n := 0
	for _, b := range s.bufs {
		if b != nil {
			n++
		}
	}
	return n
}

// Release drops every cursor buffer. The planes must already be hidden
// or the device master released.
func (s *Slots) Release() {
	for pipe := range s.bufs {
		bo.Unref(&s.bufs[pipe])
		s.visible[pipe] = false
	}
}
