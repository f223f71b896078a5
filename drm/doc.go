// Package drm provides access to the DRM (Direct Rendering Manager)
// device nodes of the kernel: opening cards, querying the driver version
// and capabilities, and acquiring or dropping DRM master, the exclusive
// token required to issue mode-setting commands.
package drm
