package display

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/NeowayLabs/kmsd/internal/bo"
	"github.com/NeowayLabs/kmsd/mode"
)

// Resize replaces the front buffer with one of the new virtual size. On an
// active screen the outputs are moved to the new buffer before the old
// one is released. An allocation failure keeps the old buffer.
func (s *Screen) Resize(width, height int) error {
	if err := s.expect("resize", BuffersReady, Active, Inactive); err != nil {
		return err
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid size %dx%d", width, height)
	}
	if width == s.virtualWidth && height == s.virtualHeight {
		return nil
	}

	next, accel, err := s.allocateFront(width, height)
	if err != nil {
		return err
	}
	defer bo.Unref(&next)

	var modeErr error
	switch {
	case s.state == Active:
		fb, err := s.addFB(next, width, height)
		if err != nil {
			return err
		}
		old := s.fb
		s.fb = fb
		modeErr = s.applyModes()
		if err := s.kms.RmFB(old); err != nil {
			s.log.Warn("remove framebuffer", "fb", old, "err", err)
		}
	case s.fb != 0:
		if err := s.kms.RmFB(s.fb); err != nil {
			s.log.Warn("remove framebuffer", "fb", s.fb, "err", err)
		}
		s.fb = 0
	}

	s.virtualWidth, s.virtualHeight = width, height
	s.installFront(next, accel)
	return modeErr
}

// PageFlip makes next the front buffer of every lit output. Swaps are
// refused while the screen does not own the display or when page flipping
// is disabled. The previous front buffer is released; the host's flush
// barrier guarantees no flip still scans it out.
func (s *Screen) PageFlip(next *bo.BO) error {
	if s.state != Active || !s.vtActive {
		return fmt.Errorf("%w: screen %s", ErrSwapSuppressed, s.state)
	}
	if !s.opts.PageFlip {
		return fmt.Errorf("%w: page flipping disabled", ErrSwapSuppressed)
	}
	if next == nil {
		return errors.New("page flip to nil buffer")
	}
	if next == s.front {
		return nil
	}
	if err := s.checkLayout(next); err != nil {
		return err
	}

	fb, err := s.addFB(next, s.virtualWidth, s.virtualHeight)
	if err != nil {
		return err
	}

	var flipped []Output
	for _, out := range s.outputs {
		if !out.Lit {
			continue
		}
		if err := s.kms.PageFlip(out.CRTC, fb); err != nil {
			for _, back := range flipped {
				if berr := s.kms.PageFlip(back.CRTC, s.fb); berr != nil {
					s.log.Warn("flip back", "output", back.Name, "err", berr)
				}
			}
			if rerr := s.kms.RmFB(fb); rerr != nil {
				s.log.Warn("remove framebuffer", "fb", fb, "err", rerr)
			}
			return fmt.Errorf("page flip on %s: %w", out.Name, err)
		}
		flipped = append(flipped, out)
	}

	old := s.fb
	s.fb = fb
	if err := s.kms.RmFB(old); err != nil {
		s.log.Warn("remove framebuffer", "fb", old, "err", err)
	}
	s.installFront(next, s.accel)
	return nil
}

// checkLayout rejects buffers that cannot be scanned out as the front
// buffer of the current virtual size.
func (s *Screen) checkLayout(b *bo.BO) error {
	pitch := uint64(b.Pitch())
	switch {
	case pitch == 0:
		return fmt.Errorf("%w: buffer has no pitch", ErrBufferLayout)
	case pitch%uint64(s.pitchAlign) != 0:
		return fmt.Errorf("%w: pitch %d is not a multiple of %d", ErrBufferLayout, pitch, s.pitchAlign)
	case pitch < uint64(s.virtualWidth*s.format.CPP()):
		return fmt.Errorf("%w: pitch %d too small for width %d", ErrBufferLayout, pitch, s.virtualWidth)
	case b.Size() < pitch*uint64(s.virtualHeight):
		return fmt.Errorf("%w: %d bytes too small for %d rows of %d", ErrBufferLayout,
			b.Size(), s.virtualHeight, pitch)
	}
	return nil
}

// Blank powers every output off. It does nothing while the screen does
// not own the display.
func (s *Screen) Blank() error {
	if !s.vtActive {
		return nil
	}
	var err error
	for _, out := range s.outputs {
		err = multierr.Append(err, s.kms.SetDPMS(out.Connector, mode.DPMSOff))
	}
	return err
}

// Unblank powers the outputs of enabled CRTCs back on. Disabled ones stay
// off.
func (s *Screen) Unblank() error {
	if !s.vtActive {
		return nil
	}
	var err error
	for _, out := range s.outputs {
		if !out.Lit {
			continue
		}
		err = multierr.Append(err, s.kms.SetDPMS(out.Connector, mode.DPMSOn))
	}
	return err
}

// AttachShadow records the rotation shadow buffer of a pipe, replacing the
// previous one. A nil buffer drops it.
func (s *Screen) AttachShadow(pipe int, b *bo.BO) error {
	if s.state == Closed {
		return fmt.Errorf("%w: attach shadow while %s", ErrState, s.state)
	}
	slot := s.shadows[pipe]
	bo.Replace(&slot, b)
	if slot == nil {
		delete(s.shadows, pipe)
	} else {
		s.shadows[pipe] = slot
	}
	return nil
}

// Shadows returns the number of rotation shadows held.
func (s *Screen) Shadows() int {
	return len(s.shadows)
}

func (s *Screen) releaseShadows() {
	for pipe, b := range s.shadows {
		bo.Unref(&b)
		delete(s.shadows, pipe)
	}
}

// AddBlockHook registers f to run on every RunBlockHooks.
func (s *Screen) AddBlockHook(f func()) {
	s.blockHooks = append(s.blockHooks, f)
}

// AddFlushHook registers f to run on RunFlushHooks while the screen owns
// the display.
func (s *Screen) AddFlushHook(f func()) {
	s.flushHooks = append(s.flushHooks, f)
}

// AddCloseHook registers f to run first thing in Close.
func (s *Screen) AddCloseHook(f func() error) {
	s.closeHooks = append(s.closeHooks, f)
}

// RunBlockHooks runs the block hooks in registration order.
func (s *Screen) RunBlockHooks() {
	for _, f := range s.blockHooks {
		f()
	}
}

// RunFlushHooks runs the flush hooks in registration order, unless the
// display belongs to another VT.
func (s *Screen) RunFlushHooks() {
	if !s.vtActive {
		return
	}
	for _, f := range s.flushHooks {
		f()
	}
}
