// Package kms implements the display and buffer object interfaces on top
// of a DRM card node.
package kms

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"launchpad.net/gommap"

	"github.com/NeowayLabs/kmsd/amdgpu"
	"github.com/NeowayLabs/kmsd/drm"
	"github.com/NeowayLabs/kmsd/internal/bo"
	"github.com/NeowayLabs/kmsd/internal/cursor"
	"github.com/NeowayLabs/kmsd/internal/display"
	"github.com/NeowayLabs/kmsd/internal/logger"
	"github.com/NeowayLabs/kmsd/mode"
)

// DeviceMemoryDriver is the kernel driver whose GEM interface takes
// explicit placement domains.
const DeviceMemoryDriver = "amdgpu"

var errNoDeviceMemory = errors.New("driver has no domain aware allocator")

// Card is an open DRM primary node.
type Card struct {
	file    *os.File
	path    string
	version drm.Version

	mset  *mode.SimpleModeset
	saved map[uint32]*mode.Crtc
	dpms  map[uint32]uint32 // connector -> DPMS property

	maps map[*byte]gommap.MMap
}

// AdapterPath returns the device node to open: path when set, the n-th
// card otherwise.
func AdapterPath(path string, card int) string {
	if path != "" {
		return path
	}
	return drm.CardPath(card)
}

// Open opens the card node and negotiates the driver version.
func Open(path string) (*Card, error) {
	file, err := drm.Open(path)
	if err != nil {
		return nil, err
	}

	version, err := drm.GetVersion(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("version negotiation: %w", err)
	}
	logger.Info("opened card", "path", path, "driver", version.Name,
		"version", fmt.Sprintf("%d.%d.%d", version.Major, version.Minor, version.Patch))

	return &Card{
		file:    file,
		path:    path,
		version: version,
		saved:   make(map[uint32]*mode.Crtc),
		dpms:    make(map[uint32]uint32),
		maps:    make(map[*byte]gommap.MMap),
	}, nil
}

// Opener opens cards for a session registry.
func Opener(path string) (display.KMS, error) {
	card, err := Open(path)
	if err != nil {
		return nil, err
	}
	return card, nil
}

func (c *Card) Path() string         { return c.path }
func (c *Card) Version() drm.Version { return c.version }
func (c *Card) File() *os.File       { return c.file }
func (c *Card) deviceMemory() bool   { return c.version.Name == DeviceMemoryDriver }

// Close unmaps whatever is still mapped and closes the node.
func (c *Card) Close() error {
	var err error
	for key, mem := range c.maps {
		logger.Warn("unmapping leaked buffer mapping", "path", c.path, "size", len(mem))
		err = multierr.Append(err, mem.UnsafeUnmap())
		delete(c.maps, key)
	}
	return multierr.Append(err, c.file.Close())
}

// Probe reports what the kernel knows about the adapter.
func (c *Card) Probe() (display.Adapter, error) {
	res, err := mode.GetResources(c.file)
	if err != nil {
		return display.Adapter{}, fmt.Errorf("cannot retrieve resources: %w", err)
	}

	ad := display.Adapter{
		Driver:         c.version.Name,
		CRTCs:          res.Crtcs,
		DeviceMemory:   c.deviceMemory(),
		GenericBuffers: drm.HasDumbBuffer(c.file),
	}
	ad.CursorWidth, ad.CursorHeight = drm.CursorSize(c.file, cursor.DefaultWidth, cursor.DefaultHeight)
	if prime, err := drm.GetCap(c.file, drm.CapPrime); err == nil {
		ad.Prime = prime
	}
	if !ad.DeviceMemory {
		return ad, nil
	}

	if ad.AccelWorking, err = amdgpu.AccelWorking(c.file); err != nil {
		logger.Warn("accel working query failed", "err", err)
	}
	if heaps, err := amdgpu.QueryHeaps(c.file); err == nil {
		ad.Heaps = display.Heaps{
			GTT:         heaps.GTTSize,
			VRAM:        heaps.VRAMSize,
			VRAMVisible: heaps.VRAMCPUAccessible,
		}
	} else {
		logger.Warn("heap size query failed", "err", err)
	}
	if cfg, err := amdgpu.ReadRegister(c.file, amdgpu.GBAddrConfig); err == nil {
		if group, ok := amdgpu.GroupBytes(cfg); ok {
			ad.GroupBytes = group
		}
	} else {
		logger.Debug("tiling config unavailable", "err", err)
	}
	return ad, nil
}

// Outputs routes the connected connectors to CRTCs.
func (c *Card) Outputs() ([]display.Output, error) {
	mset, err := mode.NewSimpleModeset(c.file)
	if err != nil {
		return nil, err
	}
	c.mset = mset

	outs := make([]display.Output, 0, len(mset.Modesets))
	for _, ms := range mset.Modesets {
		outs = append(outs, display.Output{
			Name:      ms.Name,
			Connector: ms.Conn,
			CRTC:      ms.Crtc,
			Pipe:      ms.Pipe,
			Modes:     ms.Modes,
		})
	}
	return outs, nil
}

func (c *Card) SetMaster() error  { return drm.SetMaster(c.file) }
func (c *Card) DropMaster() error { return drm.DropMaster(c.file) }

func (c *Card) AddFB(width, height uint32, depth, bpp uint8, pitch, handle uint32) (uint32, error) {
	return mode.AddFB(c.file, width, height, depth, bpp, pitch, handle)
}

func (c *Card) RmFB(fb uint32) error {
	return mode.RmFB(c.file, fb)
}

// SetCrtc programs a CRTC. The state a CRTC had before the first call is
// kept for Restore.
func (c *Card) SetCrtc(crtc, fb, x, y uint32, connectors []uint32, m *mode.Info) error {
	if _, ok := c.saved[crtc]; !ok {
		if saved, err := mode.GetCrtc(c.file, crtc); err == nil {
			c.saved[crtc] = saved
		}
	}
	return mode.SetCrtc(c.file, crtc, fb, x, y, connectors, m)
}

// Restore puts back the CRTC configuration found before the first mode
// set, so the console comes back when the daemon exits. It needs master.
func (c *Card) Restore() error {
	if c.mset == nil {
		return nil
	}
	var err error
	for i := range c.mset.Modesets {
		ms := &c.mset.Modesets[i]
		saved, ok := c.saved[ms.Crtc]
		if !ok || saved.BufferID == 0 {
			continue
		}
		err = multierr.Append(err, c.mset.SetCrtc(ms, saved))
	}
	return err
}

func (c *Card) SetCursor(crtc, handle, width, height uint32) error {
	return mode.SetCursor(c.file, crtc, handle, width, height)
}

func (c *Card) PageFlip(crtc, fb uint32) error {
	return mode.PageFlip(c.file, crtc, fb, 0, 0)
}

// SetDPMS sets the DPMS property of a connector.
func (c *Card) SetDPMS(connector uint32, level uint64) error {
	prop, ok := c.dpms[connector]
	if !ok {
		conn, err := c.connector(connector)
		if err != nil {
			return err
		}
		if prop, ok = mode.FindProperty(c.file, conn, "DPMS"); !ok {
			return fmt.Errorf("connector %d has no DPMS property", connector)
		}
		c.dpms[connector] = prop
	}
	return mode.SetConnectorProperty(c.file, connector, prop, level)
}

func (c *Card) connector(id uint32) (*mode.Connector, error) {
	if c.mset != nil {
		if conn, ok := c.mset.Topology.Connector(id); ok {
			return conn, nil
		}
	}
	return mode.GetConnector(c.file, id)
}

func (c *Card) CreateDumb(width, height, bpp uint32) (uint32, uint32, uint64, error) {
	dumb, err := mode.CreateDumb(c.file, width, height, bpp)
	if err != nil {
		return 0, 0, 0, err
	}
	return dumb.Handle, dumb.Pitch, dumb.Size, nil
}

func (c *Card) MapDumb(handle uint32, size uint64) ([]byte, error) {
	offset, err := mode.MapDumb(c.file, handle)
	if err != nil {
		return nil, err
	}
	return c.mmap(offset, size)
}

func (c *Card) DestroyDumb(handle uint32) error {
	return mode.DestroyDumb(c.file, handle)
}

// CreateGEM allocates through the driver allocator. VRAM buffers are
// created CPU accessible so cursors and software fallbacks can map them.
func (c *Card) CreateGEM(size, alignment uint64, domain bo.Domain) (uint32, error) {
	if !c.deviceMemory() {
		return 0, errNoDeviceMemory
	}
	var flags uint64
	switch domain {
	case bo.DomainVRAM:
		flags = amdgpu.CreateCPUAccessRequired
	case bo.DomainGTT:
		flags = amdgpu.CreateCPUGTTUSWC
	}
	return amdgpu.GemCreate(c.file, size, alignment, uint32(domain), flags)
}

func (c *Card) MapGEM(handle uint32, size uint64) ([]byte, error) {
	if !c.deviceMemory() {
		return nil, errNoDeviceMemory
	}
	offset, err := amdgpu.GemMmapOffset(c.file, handle)
	if err != nil {
		return nil, err
	}
	return c.mmap(offset, size)
}

func (c *Card) CloseGEM(handle uint32) error {
	return drm.GemClose(c.file, handle)
}

func (c *Card) mmap(offset, size uint64) ([]byte, error) {
	mem, err := gommap.MapAt(0, c.file.Fd(), int64(offset), int64(size),
		gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap buffer: %w", err)
	}
	c.maps[mapKey(mem)] = mem
	return mem, nil
}

func (c *Card) Unmap(mem []byte) error {
	key := mapKey(mem)
	mapped, ok := c.maps[key]
	if !ok {
		return fmt.Errorf("unmap of unknown mapping %p", key)
	}
	delete(c.maps, key)
	return mapped.UnsafeUnmap()
}

func mapKey(mem []byte) *byte {
	if len(mem) == 0 {
		return nil
	}
	return &mem[0]
}
