// Package amdgpu wraps the amdgpu specific DRM commands needed to place
// buffer objects in a chosen memory domain and to query the adapter.
package amdgpu

import (
	"os"
	"unsafe"

	"github.com/NeowayLabs/kmsd/drm"
	"github.com/NeowayLabs/kmsd/ioctl"
)

// Memory domains (AMDGPU_GEM_DOMAIN_*).
const (
	DomainCPU  = 0x1
	DomainGTT  = 0x2
	DomainVRAM = 0x4
)

// GEM creation flags (AMDGPU_GEM_CREATE_*).
const (
	CreateCPUAccessRequired = 1 << 0
	CreateNoCPUAccess       = 1 << 1
	CreateCPUGTTUSWC        = 1 << 2
)

// Info queries (AMDGPU_INFO_*).
const (
	InfoAccelWorking = 0x00
	InfoVRAMGTT      = 0x14
	InfoReadMMRReg   = 0x15
)

// GBAddrConfig is the dword offset of the GB_ADDR_CONFIG register, whose
// bits 6:4 encode the pipe interleave size.
const GBAddrConfig = 0x263e

// allInstances selects the broadcast register instance.
const allInstances = 0xffffffff

type (
	sysGemCreate struct {
		// in
		boSize      uint64
		alignment   uint64
		domains     uint64
		domainFlags uint64
	}

	sysGemMmap struct {
		// in: handle, out: fake offset
		handleOrAddr uint64
	}

	sysInfo struct {
		returnPointer uintptr
		returnSize    uint32
		query         uint32
		// query specific arguments; read_mmr_reg is the largest user
		dwordOffset uint32
		count       uint32
		instance    uint32
		flags       uint32
	}

	// Heaps reports the size of the memory pools of the adapter.
	Heaps struct {
		VRAMSize          uint64
		VRAMCPUAccessible uint64
		GTTSize           uint64
	}
)

var (
	// DRM_IOWR(DRM_COMMAND_BASE + 0x00, union drm_amdgpu_gem_create)
	IOCTLGemCreate = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGemCreate{})), drm.IOCTLBase, drm.CommandBase+0x00)

	// DRM_IOWR(DRM_COMMAND_BASE + 0x01, union drm_amdgpu_gem_mmap)
	IOCTLGemMmap = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGemMmap{})), drm.IOCTLBase, drm.CommandBase+0x01)

	// DRM_IOW(DRM_COMMAND_BASE + 0x05, struct drm_amdgpu_info)
	IOCTLInfo = ioctl.NewCode(ioctl.Write,
		uint16(unsafe.Sizeof(sysInfo{})), drm.IOCTLBase, drm.CommandBase+0x05)
)

// GemCreate allocates a buffer object of size bytes in the given domains
// and returns its GEM handle. The output handle overlays the first field of
// the request.
func GemCreate(file *os.File, size, alignment uint64, domains uint32, flags uint64) (uint32, error) {
	req := &sysGemCreate{
		boSize:      size,
		alignment:   alignment,
		domains:     uint64(domains),
		domainFlags: flags,
	}
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLGemCreate),
		uintptr(unsafe.Pointer(req)))
	if err != nil {
		return 0, err
	}
	return uint32(req.boSize), nil
}

// GemMmapOffset returns the fake offset to mmap the buffer object at.
func GemMmapOffset(file *os.File, handle uint32) (uint64, error) {
	req := &sysGemMmap{handleOrAddr: uint64(handle)}
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLGemMmap),
		uintptr(unsafe.Pointer(req)))
	if err != nil {
		return 0, err
	}
	return req.handleOrAddr, nil
}

func query(file *os.File, req *sysInfo, out unsafe.Pointer, size uintptr) error {
	req.returnPointer = uintptr(out)
	req.returnSize = uint32(size)
	return ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLInfo),
		uintptr(unsafe.Pointer(req)))
}

// AccelWorking reports whether the kernel considers the GPU acceleration
// engines functional.
func AccelWorking(file *os.File) (bool, error) {
	var working uint32
	err := query(file, &sysInfo{query: InfoAccelWorking},
		unsafe.Pointer(&working), unsafe.Sizeof(working))
	if err != nil {
		return false, err
	}
	return working != 0, nil
}

func QueryHeaps(file *os.File) (Heaps, error) {
	var heaps Heaps
	err := query(file, &sysInfo{query: InfoVRAMGTT},
		unsafe.Pointer(&heaps), unsafe.Sizeof(heaps))
	return heaps, err
}

// ReadRegister reads one memory mapped register of the GPU.
func ReadRegister(file *os.File, offset uint32) (uint32, error) {
	var val uint32
	err := query(file, &sysInfo{
		query:       InfoReadMMRReg,
		dwordOffset: offset,
		count:       1,
		instance:    allInstances,
	}, unsafe.Pointer(&val), unsafe.Sizeof(val))
	return val, err
}

// GroupBytes decodes the pipe interleave size out of GB_ADDR_CONFIG. It
// reports false for encodings the display engine does not scan out from.
func GroupBytes(gbAddrConfig uint32) (uint32, bool) {
	switch (gbAddrConfig & 0x70) >> 4 {
	case 0:
		return 256, true
	case 1:
		return 512, true
	}
	return 0, false
}
