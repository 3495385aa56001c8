package drmkit

import (
	"unsafe"

	"github.com/NeowayLabs/drmkit/ioctl"
)

const IOCTLBase = 'd'

var (
	// DRM_IOWR(0x00, struct drm_version)
	IOCTLVersion = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(version{})), IOCTLBase, 0)

	// DRM_IOWR(0x0c, struct drm_get_cap)
	IOCTLGetCap = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(capability{})), IOCTLBase, 0x0c)

	// DRM_IOW(0x0d, struct drm_set_client_cap)
	IOCTLSetClientCap = ioctl.NewCode(ioctl.Write,
		uint16(unsafe.Sizeof(capability{})), IOCTLBase, 0x0d)

	// DRM_IOW(0x11, struct drm_auth)
	IOCTLAuthMagic = ioctl.NewCode(ioctl.Write,
		uint16(unsafe.Sizeof(auth{})), IOCTLBase, 0x11)

	// DRM_IO(0x1e)
	IOCTLSetMaster = ioctl.NewCode(ioctl.None, 0, IOCTLBase, 0x1e)

	// DRM_IO(0x1f)
	IOCTLDropMaster = ioctl.NewCode(ioctl.None, 0, IOCTLBase, 0x1f)

	// DRM_IOWR(0xA0, struct drm_mode_card_res)
	IOCTLModeCardRes = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(cardRes{})), IOCTLBase, 0xA0)
)
