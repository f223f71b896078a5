package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NeowayLabs/kmsd/drm"
	"github.com/NeowayLabs/kmsd/internal/config"
	"github.com/NeowayLabs/kmsd/internal/display"
	"github.com/NeowayLabs/kmsd/internal/kms"
	"github.com/NeowayLabs/kmsd/internal/logger"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Print what the card reports",
	Long: `Open the card without taking DRM master and print the driver, memory
heaps, capabilities and the connector to CRTC routing.`,
	RunE: runProbe,
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	path := kms.AdapterPath(cfg.Device.Path, cfg.Device.Card)

	card, err := kms.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer card.Close()

	ad, err := card.Probe()
	if err != nil {
		return err
	}
	v := card.Version()
	logger.Infof("driver: %s %d.%d.%d (%s)", v.Name, v.Major, v.Minor, v.Patch, v.Desc)
	logger.Infof("crtcs: %d", len(ad.CRTCs))
	logger.Infof("generic buffers: %t, device memory: %t, accel working: %t",
		ad.GenericBuffers, ad.DeviceMemory, ad.AccelWorking)
	logger.Infof("mem size init: gart size :%x vram size: s:%x visible:%x",
		ad.Heaps.GTT, ad.Heaps.VRAM, ad.Heaps.VRAMVisible)
	if ad.GroupBytes != 0 {
		logger.Infof("group bytes: %d", ad.GroupBytes)
	}
	logger.Infof("cursor: %dx%d", ad.CursorWidth, ad.CursorHeight)
	logger.Infof("prime: import %t, export %t",
		ad.Prime&drm.PrimeCapImport != 0, ad.Prime&drm.PrimeCapExport != 0)
	logger.Infof("acceleration: %s", display.SelectAccel(options(cfg), ad))

	outs, err := card.Outputs()
	if err != nil {
		return err
	}
	for _, out := range outs {
		valid := 0
		for i := range out.Modes {
			if display.ValidMode(&out.Modes[i]) == display.ModeOK {
				valid++
			}
		}
		logger.Info("output", "name", out.Name, "connector", out.Connector, "crtc", out.CRTC,
			"pipe", out.Pipe, "preferred", out.Modes[0].ModeName(), "modes", len(out.Modes), "valid", valid)
	}
	return nil
}

func options(cfg *config.Config) display.Options {
	return display.Options{
		NoAccel:        cfg.Accel.NoAccel,
		AccelMethod:    cfg.Accel.Method,
		SoftwareCursor: cfg.Cursor.Software,
		PageFlip:       cfg.Display.PageFlip,
	}
}

// requests returns the mode discovery input of every screen.
func requests(cfg *config.Config) []display.Request {
	base := display.Request{
		Depth:         cfg.Screen.Depth,
		BPP:           cfg.Screen.BPP,
		VirtualWidth:  cfg.Screen.VirtualWidth,
		VirtualHeight: cfg.Screen.VirtualHeight,
	}
	if len(cfg.Display.ZaphodHeads) == 0 {
		return []display.Request{base}
	}

	reqs := make([]display.Request, 0, len(cfg.Display.ZaphodHeads))
	for _, head := range cfg.Display.ZaphodHeads {
		req := base
		req.Heads = []string{head}
		reqs = append(reqs, req)
	}
	return reqs
}
