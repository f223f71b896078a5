package kms_test

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NeowayLabs/kmsd/drm"
	"github.com/NeowayLabs/kmsd/internal/bo"
	"github.com/NeowayLabs/kmsd/internal/display"
	"github.com/NeowayLabs/kmsd/internal/kms"
	"github.com/NeowayLabs/kmsd/internal/session"
)

func requireCard(t *testing.T) *kms.Card {
	t.Helper()
	card, err := kms.Open(drm.CardPath(0))
	if err != nil {
		t.Skipf("no usable DRM card: %s", err)
	}
	t.Cleanup(func() { card.Close() })
	return card
}

func TestAdapterPath(t *testing.T) {
	assert.Equal(t, "/dev/dri/card1", kms.AdapterPath("", 1))
	assert.Equal(t, "/dev/dri/by-path/pci-0000:03:00.0-card", kms.AdapterPath("/dev/dri/by-path/pci-0000:03:00.0-card", 1))
}

func TestOpenMissingCard(t *testing.T) {
	_, err := kms.Open("/dev/dri/card-does-not-exist")
	assert.True(t, errors.Is(err, os.ErrNotExist))

	reg := session.NewRegistry[display.KMS](kms.Opener)
	_, err = reg.Acquire("/dev/dri/card-does-not-exist")
	assert.ErrorIs(t, err, session.ErrDeviceOpen)
	assert.Equal(t, 0, reg.Refs("/dev/dri/card-does-not-exist"))
}

func TestProbe(t *testing.T) {
	card := requireCard(t)

	ad, err := card.Probe()
	require.NoError(t, err)
	assert.Equal(t, card.Version().Name, ad.Driver)
	assert.NotEmpty(t, ad.CRTCs)
	assert.NotZero(t, ad.CursorWidth)
	assert.NotZero(t, ad.CursorHeight)
	if ad.Driver == kms.DeviceMemoryDriver {
		assert.True(t, ad.DeviceMemory)
		assert.NotZero(t, ad.Heaps.VRAM)
	}
}

func TestOutputs(t *testing.T) {
	card := requireCard(t)

	outs, err := card.Outputs()
	require.NoError(t, err)
	for _, out := range outs {
		assert.NotEmpty(t, out.Name)
		assert.NotEmpty(t, out.Modes)
		assert.NotZero(t, out.CRTC)
	}
}

func TestDumbBufferRoundTrip(t *testing.T) {
	card := requireCard(t)
	if !drm.HasDumbBuffer(card.File()) {
		t.Skip("card has no dumb buffers")
	}

	alloc := bo.NewAllocator(card)
	b, err := alloc.AllocateSurface(64, 64, 32)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, b.Pitch(), uint32(256))
	assert.Len(t, b.CPU(), int(b.Size()))
	b.CPU()[0] = 0xff

	bo.Unref(&b)
	assert.Equal(t, 0, alloc.Live())
}

func TestDeviceMemoryRoundTrip(t *testing.T) {
	card := requireCard(t)
	if card.Version().Name != kms.DeviceMemoryDriver {
		t.Skipf("driver %s has no device memory allocator", card.Version().Name)
	}

	alloc := bo.NewAllocator(card)
	b, err := alloc.Allocate(128*128*4, bo.DomainVRAM, 0)
	require.NoError(t, err)
	mem, err := alloc.Map(b)
	require.NoError(t, err)
	assert.Len(t, mem, 128*128*4)

	bo.Unref(&b)
	assert.Equal(t, 0, alloc.Live())
}

func TestDeviceMemoryOnOtherDrivers(t *testing.T) {
	card := requireCard(t)
	if card.Version().Name == kms.DeviceMemoryDriver {
		t.Skip("device memory driver")
	}

	_, err := bo.NewAllocator(card).Allocate(4096, bo.DomainGTT, 0)
	assert.ErrorIs(t, err, bo.ErrAllocation)
}

func TestUnmapUnknown(t *testing.T) {
	card := requireCard(t)
	assert.Error(t, card.Unmap(make([]byte, 16)))
}
