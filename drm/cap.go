package drm

import (
	"os"
	"unsafe"

	"github.com/NeowayLabs/kmsd/ioctl"
)

type (
	capability struct {
		cap uint64
		val uint64
	}
)

const (
	CapDumbBuffer = iota + 1
	CapVBlankHighCRTC
	CapDumbPreferredDepth
	CapDumbPreferShadow
	CapPrime
	CapTimestampMonotonic
	CapAsyncPageFlip
	CapCursorWidth
	CapCursorHeight

	CapAddFB2Modifiers = 0x10
)

// Bits of the CapPrime value.
const (
	PrimeCapImport = 0x1
	PrimeCapExport = 0x2
)

func GetCap(file *os.File, capid uint64) (uint64, error) {
	cap := &capability{}
	cap.cap = capid
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLGetCap), uintptr(unsafe.Pointer(cap)))
	if err != nil {
		return 0, err
	}
	return cap.val, nil
}

func HasDumbBuffer(file *os.File) bool {
	val, err := GetCap(file, CapDumbBuffer)
	if err != nil {
		return false
	}
	return val != 0
}

// CursorSize returns the hardware cursor dimensions the driver advertises,
// or the given defaults when the kernel does not report them.
func CursorSize(file *os.File, defWidth, defHeight uint32) (uint32, uint32) {
	w, err := GetCap(file, CapCursorWidth)
	if err != nil || w == 0 {
		return defWidth, defHeight
	}
	h, err := GetCap(file, CapCursorHeight)
	if err != nil || h == 0 {
		return defWidth, defHeight
	}
	return uint32(w), uint32(h)
}
