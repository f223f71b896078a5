package display

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/NeowayLabs/kmsd/internal/bo"
)

// Activate takes DRM master, creates the framebuffer and lights the
// outputs. Failing to get master is fatal: the screen is torn down.
// Outputs rejecting their mode are turned off and reported with
// ErrModeApply while the screen becomes active anyway.
func (s *Screen) Activate() error {
	if err := s.expect("activate", BuffersReady); err != nil {
		return err
	}

	if err := s.kms.SetMaster(); err != nil {
		s.log.Error("Unable to retrieve master", "err", err)
		return s.fail(fmt.Errorf("%w: %v", ErrMasterAcquisition, err))
	}
	s.master = true

	fb, err := s.addFB(s.front, s.virtualWidth, s.virtualHeight)
	if err != nil {
		return s.fail(err)
	}
	s.fb = fb

	s.vtActive = true
	s.state = Active
	err = s.applyModes()
	s.showCursors()
	return err
}

// LeaveVT gives the display away: cursors are hidden, rotation shadows
// released, master dropped and swaps suppressed. The screen is inactive
// afterwards even when some of these steps fail.
func (s *Screen) LeaveVT() error {
	if err := s.expect("leave VT", Active); err != nil {
		return err
	}
	s.log.Debug("leaving VT")

	// cursor planes need master to be programmed
	err := s.cursors.Hide()
	s.releaseShadows()
	if derr := s.kms.DropMaster(); derr != nil {
		err = multierr.Append(err, fmt.Errorf("drop master: %w", derr))
	}
	s.master = false
	s.vtActive = false
	for i := range s.outputs {
		s.outputs[i].Lit = false
	}
	s.state = Inactive
	return err
}

// EnterVT takes the display back and re-applies the desired outputs. When
// master cannot be retrieved the screen stays inactive and the host
// retries on its next VT arbitration.
func (s *Screen) EnterVT() error {
	if err := s.expect("enter VT", Inactive); err != nil {
		return err
	}
	s.log.Debug("entering VT")

	if err := s.kms.SetMaster(); err != nil {
		s.log.Error("Unable to retrieve master", "err", err)
		return fmt.Errorf("%w: %v", ErrMasterAcquisition, err)
	}
	s.master = true

	if s.fb == 0 {
		fb, err := s.addFB(s.front, s.virtualWidth, s.virtualHeight)
		if err != nil {
			s.dropMaster()
			return err
		}
		s.fb = fb
	}

	s.vtActive = true
	s.state = Active
	err := s.applyModes()
	s.showCursors()
	return err
}

// Close runs the close hooks and releases everything the screen holds,
// the session handle included.
func (s *Screen) Close() error {
	if s.state == Closed {
		return nil
	}

	var err error
	for _, hook := range s.closeHooks {
		err = multierr.Append(err, hook())
	}
	return multierr.Append(err, s.teardown())
}

func (s *Screen) teardown() error {
	var err error
	if s.master && s.cursors != nil {
		err = multierr.Append(err, s.cursors.Hide())
	}
	if s.master {
		if derr := s.kms.DropMaster(); derr != nil {
			err = multierr.Append(err, fmt.Errorf("drop master: %w", derr))
		}
		s.master = false
	}
	s.vtActive = false

	if s.cursors != nil {
		s.cursors.Release()
	}
	s.pixmaps.Clear()
	s.releaseShadows()

	if s.fb != 0 {
		if rerr := s.kms.RmFB(s.fb); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("remove framebuffer: %w", rerr))
		}
		s.fb = 0
	}
	bo.Unref(&s.front)

	if live := s.alloc.Live(); live > 0 {
		s.log.Warn("buffers outlive the screen", "count", live)
	}
	err = multierr.Append(err, s.sess.Release())
	s.state = Closed
	return err
}

func (s *Screen) dropMaster() {
	if err := s.kms.DropMaster(); err != nil {
		s.log.Warn("drop master", "err", err)
	}
	s.master = false
}

func (s *Screen) addFB(b *bo.BO, width, height int) (uint32, error) {
	fb, err := s.kms.AddFB(uint32(width), uint32(height),
		uint8(s.format.Depth), uint8(s.format.BPP), b.Pitch(), b.Handle())
	if err != nil {
		return 0, fmt.Errorf("add framebuffer for %s: %w", b, err)
	}
	return fb, nil
}

// applyModes scans the front buffer out on every enabled output. Outputs
// failing their mode set are switched off; the others proceed.
func (s *Screen) applyModes() error {
	var (
		errs            error
		failed, enabled int
	)
	for i := range s.outputs {
		out := &s.outputs[i]
		out.Lit = false
		if !out.Enabled {
			continue
		}
		enabled++

		err := s.kms.SetCrtc(out.CRTC, s.fb, out.X, out.Y, []uint32{out.Connector}, &out.Mode)
		if err != nil {
			failed++
			s.log.Warn("failed to set mode", "output", out.Name, "mode", out.Mode.ModeName(), "err", err)
			if oerr := s.kms.SetCrtc(out.CRTC, 0, 0, 0, nil, nil); oerr != nil {
				s.log.Warn("failed to disable crtc", "crtc", out.CRTC, "err", oerr)
			}
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", out.Name, err))
			continue
		}
		out.Lit = true
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d outputs: %v", ErrModeApply, failed, enabled, errs)
	}
	return nil
}

func (s *Screen) showCursors() {
	for _, out := range s.outputs {
		if !out.Lit || !s.cursors.Hardware(out.Pipe) {
			continue
		}
		if err := s.cursors.Show(out.Pipe); err != nil {
			s.log.Warn("falling back to software cursor", "output", out.Name, "err", err)
			_ = s.cursors.Disable(out.Pipe)
		}
	}
}
