package bo_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NeowayLabs/kmsd/internal/bo"
	"github.com/NeowayLabs/kmsd/internal/bo/botest"
)

func TestAllocateRoundsToPages(t *testing.T) {
	alloc, dev := newAllocator()

	var seen []uint64
	dev.Fail = func(req botest.Request) error {
		seen = append(seen, req.Size)
		return nil
	}

	for _, tc := range []struct{ req, want uint64 }{
		{1, 4096},
		{4096, 4096},
		{4097, 8192},
		{128 * 128 * 4, 65536},
	} {
		b, err := alloc.Allocate(tc.req, bo.DomainVRAM, 0)
		require.NoError(t, err)
		assert.Equal(t, tc.want, b.Size())
		assert.Equal(t, bo.PathDeviceMemory, b.Path())
		assert.Equal(t, bo.DomainVRAM, b.Domain())
		bo.Unref(&b)
	}
	assert.Equal(t, []uint64{4096, 4096, 8192, 65536}, seen)
}

func TestAllocateFailure(t *testing.T) {
	alloc, dev := newAllocator()
	dev.Fail = botest.FailDomain(bo.DomainVRAM)

	b, err := alloc.Allocate(4096, bo.DomainVRAM, 0)
	assert.Nil(t, b)
	assert.ErrorIs(t, err, bo.ErrAllocation)
	assert.Equal(t, 0, alloc.Live())

	_, err = alloc.Allocate(0, bo.DomainGTT, 0)
	assert.ErrorIs(t, err, bo.ErrAllocation)

	b, err = alloc.Allocate(4096, bo.DomainGTT, 0)
	require.NoError(t, err)
	bo.Unref(&b)
}

func TestMapIsIdempotent(t *testing.T) {
	alloc, dev := newAllocator()

	b, err := alloc.Allocate(8192, bo.DomainGTT, 0)
	require.NoError(t, err)
	assert.False(t, b.Mapped())

	first, err := alloc.Map(b)
	require.NoError(t, err)
	second, err := alloc.Map(b)
	require.NoError(t, err)

	assert.Equal(t, 1, dev.Maps())
	assert.Len(t, first, 8192)
	assert.Same(t, &first[0], &second[0])

	bo.Unref(&b)
	assert.Equal(t, 1, dev.Unmaps())
	assert.Equal(t, 1, dev.Frees())
}

func TestMapFailure(t *testing.T) {
	alloc, dev := newAllocator()
	dev.FailMap = func(uint32) error { return errors.New("no aperture") }

	b, err := alloc.Allocate(4096, bo.DomainVRAM, 0)
	require.NoError(t, err)

	_, err = alloc.Map(b)
	assert.ErrorIs(t, err, bo.ErrMap)
	assert.Nil(t, b.CPU())

	bo.Unref(&b)
	assert.Equal(t, 0, dev.Unmaps())
	assert.Equal(t, 1, dev.Frees())
}

func TestAllocateSurfaceIsMappedAtCreation(t *testing.T) {
	alloc, dev := newAllocator()

	b, err := alloc.AllocateSurface(1366, 768, 32)
	require.NoError(t, err)
	assert.Equal(t, bo.PathGeneric, b.Path())
	assert.True(t, b.Mapped())
	assert.Equal(t, uint32(5504), b.Pitch())
	assert.Equal(t, uint64(5504*768), b.Size())
	assert.Equal(t, 1, dev.Maps())

	bo.Unref(&b)
	assert.Equal(t, 1, dev.Frees())
}

func TestAllocateSurfaceMapFailureReleases(t *testing.T) {
	alloc, dev := newAllocator()
	dev.FailMap = func(uint32) error { return errors.New("no aperture") }

	b, err := alloc.AllocateSurface(64, 64, 32)
	assert.Nil(t, b)
	assert.ErrorIs(t, err, bo.ErrMap)
	assert.Equal(t, 1, dev.Creates())
	assert.Equal(t, 1, dev.Frees())
	assert.Equal(t, 0, alloc.Live())
}

func TestAllocatePitched(t *testing.T) {
	alloc, _ := newAllocator()

	b, err := alloc.AllocatePitched(1920, 1080, 32, 256, bo.DomainVRAM)
	require.NoError(t, err)
	assert.Equal(t, uint32(7680), b.Pitch())
	assert.Equal(t, uint64(7680*1080), b.Size())
	bo.Unref(&b)

	b, err = alloc.AllocatePitched(1366, 768, 32, 256, bo.DomainVRAM)
	require.NoError(t, err)
	assert.Equal(t, uint32(5632), b.Pitch())
	bo.Unref(&b)

	_, err = alloc.AllocatePitched(0, 768, 32, 256, bo.DomainVRAM)
	assert.ErrorIs(t, err, bo.ErrAllocation)
}

func TestDeviceMemoryUnavailable(t *testing.T) {
	alloc, dev := newAllocator()
	dev.NoDeviceMemory = true

	_, err := alloc.Allocate(4096, bo.DomainGTT, 0)
	assert.ErrorIs(t, err, bo.ErrAllocation)

	b, err := alloc.AllocateSurface(64, 64, 32)
	require.NoError(t, err)
	bo.Unref(&b)
}
