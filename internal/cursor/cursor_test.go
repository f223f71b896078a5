package cursor_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NeowayLabs/kmsd/internal/bo"
	"github.com/NeowayLabs/kmsd/internal/bo/botest"
	"github.com/NeowayLabs/kmsd/internal/cursor"
)

type call struct {
	pipe   int
	handle uint32
	width  uint32
}

type recorder struct {
	calls []call
	err   error
}

func (r *recorder) SetCursor(pipe int, b *bo.BO, width, height uint32) error {
	c := call{pipe: pipe, width: width}
	if b != nil {
		c.handle = b.Handle()
	}
	r.calls = append(r.calls, c)
	return r.err
}

func newSlots(pipes int, deviceMemory bool) (*cursor.Slots, *botest.Device, *bo.Allocator, *recorder) {
	dev := botest.New()
	alloc := bo.NewAllocator(dev)
	prog := &recorder{}
	s := cursor.New(cursor.Config{
		Pipes:        pipes,
		DeviceMemory: deviceMemory,
		Alloc:        alloc,
		Programmer:   prog,
	})
	return s, dev, alloc, prog
}

func TestEnsureIsIdempotent(t *testing.T) {
	s, dev, _, _ := newSlots(2, true)

	first, err := s.Ensure(0)
	require.NoError(t, err)
	second, err := s.Ensure(0)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, dev.Creates())
	assert.Equal(t, 1, first.Refs())
}

func TestDeviceMemoryPlacement(t *testing.T) {
	s, _, _, _ := newSlots(1, true)

	b, err := s.Ensure(0)
	require.NoError(t, err)
	assert.Equal(t, bo.PathDeviceMemory, b.Path())
	assert.Equal(t, bo.DomainVRAM, b.Domain())
	assert.Equal(t, uint64(128*128*4), b.Size())
	assert.True(t, b.Mapped())
	assert.Len(t, s.Image(0), 128*128*4)
}

func TestGenericPlacement(t *testing.T) {
	s, _, _, _ := newSlots(1, false)

	b, err := s.Ensure(0)
	require.NoError(t, err)
	assert.Equal(t, bo.PathGeneric, b.Path())
	assert.Equal(t, bo.DomainGTT, b.Domain())
	assert.True(t, b.Mapped())
}

func TestSizeIsPageAligned(t *testing.T) {
	s := cursor.New(cursor.Config{Pipes: 1, Width: 64, Height: 65})
	assert.Equal(t, uint64(20480), s.Size())
	assert.Equal(t, uint32(64), s.Width())
	assert.Equal(t, uint32(65), s.Height())
}

func TestAllocationFailureAffectsOnePipe(t *testing.T) {
	s, dev, _, prog := newSlots(3, true)
	dev.Fail = botest.FailNth(1)

	_, err := s.Ensure(0)
	require.NoError(t, err)
	_, err = s.Ensure(1)
	assert.ErrorIs(t, err, cursor.ErrCursorAllocation)
	_, err = s.Ensure(2)
	require.NoError(t, err)

	assert.True(t, s.Hardware(0))
	assert.False(t, s.Hardware(1))
	assert.True(t, s.Hardware(2))
	assert.Equal(t, 2, s.Allocated())

	for pipe := 0; pipe < 3; pipe++ {
		require.NoError(t, s.Show(pipe))
	}
	assert.True(t, s.Visible(0))
	assert.False(t, s.Visible(1))
	assert.True(t, s.Visible(2))
	assert.Len(t, prog.calls, 2)
}

func TestUnmappableGenericCursorFails(t *testing.T) {
	s, dev, alloc, _ := newSlots(2, false)
	dev.FailMap = func(uint32) error { return errors.New("no aperture") }

	_, err := s.Ensure(0)
	assert.ErrorIs(t, err, cursor.ErrCursorAllocation)
	assert.ErrorIs(t, err, bo.ErrMap)
	assert.False(t, s.Hardware(0))
	assert.Equal(t, 0, alloc.Live())
}

func TestUnmappableDeviceCursorFails(t *testing.T) {
	s, dev, alloc, _ := newSlots(1, true)
	dev.FailMap = func(uint32) error { return errors.New("no aperture") }

	_, err := s.Ensure(0)
	assert.ErrorIs(t, err, cursor.ErrCursorAllocation)
	assert.Nil(t, s.Image(0))
	assert.Equal(t, 0, alloc.Live())
}

func TestHideKeepsBuffers(t *testing.T) {
	s, dev, _, prog := newSlots(2, true)
	require.NoError(t, s.Show(0))
	require.NoError(t, s.Show(1))

	require.NoError(t, s.Hide())
	assert.False(t, s.Visible(0))
	assert.False(t, s.Visible(1))
	assert.Equal(t, 2, s.Allocated())
	assert.Equal(t, 0, dev.Frees())
	require.Len(t, prog.calls, 4)
	assert.Equal(t, uint32(0), prog.calls[3].handle)

	// hidden planes are not touched again
	require.NoError(t, s.Hide())
	assert.Len(t, prog.calls, 4)

	require.NoError(t, s.Show(0))
	assert.Equal(t, 2, dev.Creates())
}

func TestDisable(t *testing.T) {
	s, _, _, prog := newSlots(1, true)
	require.NoError(t, s.Show(0))

	require.NoError(t, s.Disable(0))
	assert.False(t, s.Hardware(0))
	assert.False(t, s.Visible(0))

	require.NoError(t, s.Show(0))
	assert.False(t, s.Visible(0))
	assert.Len(t, prog.calls, 2)
}

func TestProgrammerFailure(t *testing.T) {
	s, _, _, prog := newSlots(1, true)
	prog.err = errors.New("EINVAL")

	assert.Error(t, s.Show(0))
	assert.False(t, s.Visible(0))
	assert.Equal(t, 1, s.Allocated())
}

func TestReleaseFreesAll(t *testing.T) {
	s, dev, alloc, _ := newSlots(2, false)
	_, err := s.Ensure(0)
	require.NoError(t, err)
	_, err = s.Ensure(1)
	require.NoError(t, err)

	s.Release()
	assert.Equal(t, 0, s.Allocated())
	assert.Equal(t, 0, alloc.Live())
	assert.Equal(t, 2, dev.Frees())

	s.Release()
	assert.Equal(t, 0, dev.BadFrees())
}

func TestPipeOutOfRange(t *testing.T) {
	s, _, _, _ := newSlots(1, true)

	_, err := s.Ensure(1)
	assert.Error(t, err)
	assert.Error(t, s.Show(-1))
	assert.False(t, s.Hardware(4))
	assert.Nil(t, s.Image(4))
}
