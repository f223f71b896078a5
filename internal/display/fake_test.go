package display_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NeowayLabs/kmsd/internal/bo/botest"
	"github.com/NeowayLabs/kmsd/internal/display"
	"github.com/NeowayLabs/kmsd/internal/session"
	"github.com/NeowayLabs/kmsd/mode"
)

var errBusy = errors.New("device or resource busy")

type framebuffer struct {
	width, height uint32
	pitch, handle uint32
}

type flip struct {
	crtc, fb uint32
}

// fakeKMS is an adapter with two CRTCs whose buffer objects live in a
// botest.Device.
type fakeKMS struct {
	*botest.Device

	adapter display.Adapter
	outputs []display.Output

	probeErr  error
	masterErr error
	addFBErr  error
	failCrtc  map[uint32]error
	failFlip  map[uint32]error

	master      bool
	masterCalls int
	closed      int
	nextFB      uint32
	fbs         map[uint32]framebuffer
	scanout     map[uint32]uint32 // crtc -> fb
	cursors     map[uint32]uint32 // crtc -> bo handle
	flips       []flip
	dpms        map[uint32]uint64
}

func testMode(w, h uint16) mode.Info {
	info := mode.Info{Hdisplay: w, Vdisplay: h}
	copy(info.Name[:], fmt.Sprintf("%dx%d", w, h))
	return info
}

func newFakeKMS() *fakeKMS {
	return &fakeKMS{
		Device: botest.New(),
		adapter: display.Adapter{
			Driver:         "amdgpu",
			CRTCs:          []uint32{31, 32},
			DeviceMemory:   true,
			GenericBuffers: true,
			AccelWorking:   true,
			Heaps:          display.Heaps{GTT: 1 << 30, VRAM: 1 << 31, VRAMVisible: 1 << 28},
			GroupBytes:     256,
		},
		outputs: []display.Output{
			{Name: "DP-1", Connector: 41, CRTC: 31, Pipe: 0, Modes: []mode.Info{testMode(1920, 1080)}},
			{Name: "HDMI-A-1", Connector: 42, CRTC: 32, Pipe: 1, Modes: []mode.Info{testMode(1920, 1080)}},
		},
		failCrtc: make(map[uint32]error),
		failFlip: make(map[uint32]error),
		fbs:      make(map[uint32]framebuffer),
		scanout:  make(map[uint32]uint32),
		cursors:  make(map[uint32]uint32),
		dpms:     make(map[uint32]uint64),
	}
}

func (k *fakeKMS) Close() error {
	k.closed++
	return nil
}

func (k *fakeKMS) Probe() (display.Adapter, error) {
	return k.adapter, k.probeErr
}

func (k *fakeKMS) Outputs() ([]display.Output, error) {
	return append([]display.Output(nil), k.outputs...), nil
}

func (k *fakeKMS) SetMaster() error {
	k.masterCalls++
	if k.masterErr != nil {
		return k.masterErr
	}
	k.master = true
	return nil
}

func (k *fakeKMS) DropMaster() error {
	k.master = false
	return nil
}

func (k *fakeKMS) AddFB(width, height uint32, depth, bpp uint8, pitch, handle uint32) (uint32, error) {
	if !k.Alive(handle) {
		return 0, fmt.Errorf("no buffer %d", handle)
	}
	if k.addFBErr != nil {
		return 0, k.addFBErr
	}
	k.nextFB++
	k.fbs[k.nextFB] = framebuffer{width: width, height: height, pitch: pitch, handle: handle}
	return k.nextFB, nil
}

func (k *fakeKMS) RmFB(fb uint32) error {
	if _, ok := k.fbs[fb]; !ok {
		return fmt.Errorf("no framebuffer %d", fb)
	}
	delete(k.fbs, fb)
	return nil
}

func (k *fakeKMS) SetCrtc(crtc, fb, x, y uint32, connectors []uint32, m *mode.Info) error {
	if fb != 0 {
		if !k.master {
			return errors.New("permission denied")
		}
		if err := k.failCrtc[crtc]; err != nil {
			return err
		}
		if _, ok := k.fbs[fb]; !ok {
			return fmt.Errorf("no framebuffer %d", fb)
		}
	}
	k.scanout[crtc] = fb
	return nil
}

func (k *fakeKMS) SetCursor(crtc, handle, width, height uint32) error {
	if !k.master {
		return errors.New("permission denied")
	}
	k.cursors[crtc] = handle
	return nil
}

func (k *fakeKMS) PageFlip(crtc, fb uint32) error {
	if err := k.failFlip[crtc]; err != nil {
		return err
	}
	k.flips = append(k.flips, flip{crtc: crtc, fb: fb})
	k.scanout[crtc] = fb
	return nil
}

func (k *fakeKMS) SetDPMS(connector uint32, level uint64) error {
	k.dpms[connector] = level
	return nil
}

type fixture struct {
	kms *fakeKMS
	reg *session.Registry[display.KMS]
}

func newFixture() *fixture {
	k := newFakeKMS()
	return &fixture{
		kms: k,
		reg: session.NewRegistry[display.KMS](func(string) (display.KMS, error) {
			return k, nil
		}),
	}
}

func (f *fixture) screen(t *testing.T, opts display.Options) *display.Screen {
	t.Helper()
	h, err := f.reg.Acquire("card0")
	require.NoError(t, err)
	return display.New(h, opts)
}

var defaultOptions = display.Options{PageFlip: true}

// active brings a screen up to the active state.
func (f *fixture) active(t *testing.T, opts display.Options, req display.Request) *display.Screen {
	t.Helper()
	s := f.screen(t, opts)
	require.NoError(t, s.PreInit(req))
	require.NoError(t, s.SetupBuffers())
	require.NoError(t, s.Activate())
	return s
}
