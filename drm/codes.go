package drm

import (
	"unsafe"

	"github.com/NeowayLabs/kmsd/ioctl"
)

const IOCTLBase = 'd'

// CommandBase is the first ioctl number reserved for driver specific
// commands (DRM_COMMAND_BASE).
const CommandBase = 0x40

var (
	// DRM_IOWR(0x00, struct drm_version)
	IOCTLVersion = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(version{})), IOCTLBase, 0)

	// DRM_IOW(0x09, struct drm_gem_close)
	IOCTLGemClose = ioctl.NewCode(ioctl.Write,
		uint16(unsafe.Sizeof(gemClose{})), IOCTLBase, 0x09)

	// DRM_IOWR(0x0c, struct drm_get_cap)
	IOCTLGetCap = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(capability{})), IOCTLBase, 0x0c)

	// DRM_IO(0x1e)
	IOCTLSetMaster = ioctl.NewNoArgCode(IOCTLBase, 0x1e)

	// DRM_IO(0x1f)
	IOCTLDropMaster = ioctl.NewNoArgCode(IOCTLBase, 0x1f)
)
