package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/NeowayLabs/kmsd/internal/config"
	"github.com/NeowayLabs/kmsd/internal/display"
	"github.com/NeowayLabs/kmsd/internal/kms"
	"github.com/NeowayLabs/kmsd/internal/logger"
	"github.com/NeowayLabs/kmsd/internal/session"
)

var (
	frames   int
	interval time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Light the outputs and follow VT switches",
	Long: `Bring up one screen per zaphod head (or a single screen), take DRM master
and paint the front buffers until interrupted.

SIGUSR1 releases the display as on a VT switch away, SIGUSR2 takes it back,
SIGINT and SIGTERM restore the console and exit.`,
	RunE: runDaemon,
}

func init() {
	runCmd.Flags().IntVar(&frames, "frames", 0, "Exit after painting this many frames (0 runs until interrupted)")
	runCmd.Flags().DurationVar(&interval, "interval", 100*time.Millisecond, "Time between frames")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	path := kms.AdapterPath(cfg.Device.Path, cfg.Device.Card)
	reg := session.NewRegistry[display.KMS](kms.Opener)

	logger.Info("starting", "device", path, "screens", cfg.Heads())
	screens, err := bringUp(reg, path, cfg)
	if err != nil {
		return err
	}
	defer func() {
		// secondaries first, the primary's close hook restores the console
		for i := len(screens) - 1; i >= 0; i-- {
			if err := screens[i].Close(); err != nil {
				logger.Warn("close screen", "err", err)
			}
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vt := make(chan os.Signal, 1)
	signal.Notify(vt, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(vt)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 0; frames == 0 || n < frames; {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case sig := <-vt:
			switchVT(screens, sig == syscall.SIGUSR2)
		case <-ticker.C:
			for _, s := range screens {
				s.RunBlockHooks()
				s.RunFlushHooks()
			}
			n++
		}
	}
	return nil
}

// bringUp initializes and activates every screen. Screens already up are
// closed when a later one fails.
func bringUp(reg *session.Registry[display.KMS], path string, cfg *config.Config) ([]*display.Screen, error) {
	var screens []*display.Screen
	abort := func(err error) ([]*display.Screen, error) {
		for i := len(screens) - 1; i >= 0; i-- {
			err = multierr.Append(err, screens[i].Close())
		}
		return nil, err
	}

	opts := options(cfg)
	for i, req := range requests(cfg) {
		h, err := reg.Acquire(path)
		if err != nil {
			return abort(err)
		}
		s := display.New(h, opts)
		if card, ok := h.Device().(*kms.Card); ok && h.Primary() {
			s.AddCloseHook(card.Restore)
		}

		if err := s.PreInit(req); err != nil {
			return abort(fmt.Errorf("screen %d: %w", i, err))
		}
		if err := s.SetupBuffers(); err != nil {
			return abort(fmt.Errorf("screen %d: %w", i, err))
		}
		// the screen owns its handle from here on
		screens = append(screens, s)
		s.AddFlushHook(newPainter(s).paint)

		if err := s.Activate(); err != nil {
			if s.State() == display.Closed {
				return abort(fmt.Errorf("screen %d: %w", i, err))
			}
			logger.Warn("screen activated with errors", "screen", i, "err", err)
		}
	}
	return screens, nil
}

func switchVT(screens []*display.Screen, enter bool) {
	for i, s := range screens {
		var err error
		if enter {
			err = s.EnterVT()
		} else {
			err = s.LeaveVT()
		}
		if err != nil {
			logger.Warn("VT switch", "screen", i, "enter", enter, "err", err)
		}
	}
}
