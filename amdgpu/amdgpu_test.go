package amdgpu

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestGroupBytes(t *testing.T) {
	for _, tc := range []struct {
		cfg   uint32
		bytes uint32
		ok    bool
	}{
		{0x00000000, 256, true},
		{0x22011003, 256, true},
		{0x00000010, 512, true},
		{0x00000020, 0, false},
		{0x00000070, 0, false},
	} {
		got, ok := GroupBytes(tc.cfg)
		assert.Equal(t, tc.ok, ok, "cfg %#x", tc.cfg)
		assert.Equal(t, tc.bytes, got, "cfg %#x", tc.cfg)
	}
}

func TestRequestLayout(t *testing.T) {
	// sizes of the kernel uapi structures on 64 bit
	assert.Equal(t, uintptr(32), unsafe.Sizeof(sysGemCreate{}))
	assert.Equal(t, uintptr(8), unsafe.Sizeof(sysGemMmap{}))
	assert.Equal(t, uintptr(32), unsafe.Sizeof(sysInfo{}))
	assert.Equal(t, uintptr(24), unsafe.Sizeof(Heaps{}))
	assert.Equal(t, uint32(0xc0206440), IOCTLGemCreate)
	assert.Equal(t, uint32(0x40206445), IOCTLInfo)
}
