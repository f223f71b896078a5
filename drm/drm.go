package drm

import (
	"bytes"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/NeowayLabs/kmsd/ioctl"
)

type (
	version struct {
		Major   int32
		Minor   int32
		Patch   int32
		namelen int64
		name    uintptr
		datelen int64
		date    uintptr
		desclen int64
		desc    uintptr
	}

	// Version of DRM driver
	Version struct {
		version

		Major, Minor, Patch int32
		Name                string // Name of the driver (eg.: amdgpu)
		Date                string
		Desc                string
	}

	gemClose struct {
		handle uint32
		pad    uint32
	}
)

const (
	driPath = "/dev/dri"
)

func Available() (Version, error) {
	f, err := OpenCard(0)
	if err != nil {
		// handle backward linux compat?
		// check /proc/dri/0 ?
		return Version{}, err
	}
	defer f.Close()
	return GetVersion(f)
}

// CardPath returns the device node of the n-th primary card.
func CardPath(n int) string {
	return fmt.Sprintf("%s/card%d", driPath, n)
}

func OpenCard(n int) (*os.File, error) {
	return Open(CardPath(n))
}

// Open opens a DRM device node for reading and writing. The descriptor is
// not inherited by child processes.
func Open(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC, 0)
}

func GetVersion(file *os.File) (Version, error) {
	var (
		name, date, desc []byte
	)

	version := &version{}
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLVersion),
		uintptr(unsafe.Pointer(version)))
	if err != nil {
		return Version{}, err
	}

	if version.namelen > 0 {
		name = make([]byte, version.namelen+1)
		version.name = uintptr(unsafe.Pointer(&name[0]))
	}

	if version.datelen > 0 {
		date = make([]byte, version.datelen+1)
		version.date = uintptr(unsafe.Pointer(&date[0]))
	}
	if version.desclen > 0 {
		desc = make([]byte, version.desclen+1)
		version.desc = uintptr(unsafe.Pointer(&desc[0]))
	}

	err = ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLVersion),
		uintptr(unsafe.Pointer(version)))
	if err != nil {
		return Version{}, err
	}

	// remove C null byte at end
	name = name[:version.namelen]
	date = date[:version.datelen]
	desc = desc[:version.desclen]

	nozero := func(r rune) bool {
		return r == 0
	}

	v := Version{
		version: *version,
		Major:   version.Major,
		Minor:   version.Minor,
		Patch:   version.Patch,
		Name:    string(bytes.TrimFunc(name, nozero)),
		Date:    string(bytes.TrimFunc(date, nozero)),
		Desc:    string(bytes.TrimFunc(desc, nozero)),
	}

	return v, nil
}

// SetMaster makes the file the DRM master of its device. It fails with
// EBUSY (or EINVAL on older kernels) while another file holds master.
func SetMaster(file *os.File) error {
	return ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLSetMaster), 0)
}

// DropMaster gives up DRM master so another process (eg.: the compositor
// on the VT being switched to) can take it.
func DropMaster(file *os.File) error {
	return ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLDropMaster), 0)
}

// GemClose releases a GEM handle. The buffer object is freed by the kernel
// once no framebuffer or mapping references it any longer.
func GemClose(file *os.File, handle uint32) error {
	return ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLGemClose),
		uintptr(unsafe.Pointer(&gemClose{handle: handle})))
}
