package drmkit

import (
	"errors"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/NeowayLabs/drmkit/ioctl"
)

type (
	auth struct {
		magic uint32
	}

	// the prefix of struct drm_mode_card_res, enough to read the counts.
	cardRes struct {
		fbIDPtr, crtcIDPtr, connectorIDPtr, encoderIDPtr uintptr

		countFbs, countCrtcs, countConnectors, countEncoders uint32

		minWidth, maxWidth, minHeight, maxHeight uint32
	}
)

// IsMaster reports whether file holds the DRM master lock.
// Authenticating magic 0 only fails with EACCES for non-masters.
func IsMaster(file *os.File) bool {
	err := ioctl.Do(file.Fd(), uintptr(IOCTLAuthMagic),
		uintptr(unsafe.Pointer(&auth{})))
	return !errors.Is(err, unix.EACCES)
}

// IsKMS reports whether the device behind file is a mode setting
// capable node, i.e. it exposes CRTCs, connectors and encoders.
func IsKMS(file *os.File) bool {
	res := &cardRes{}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeCardRes),
		uintptr(unsafe.Pointer(res)))
	if err != nil {
		return false
	}
	return res.countCrtcs > 0 && res.countConnectors > 0 && res.countEncoders > 0
}

func SetMaster(file *os.File) error {
	return ioctl.Do(file.Fd(), uintptr(IOCTLSetMaster), 0)
}

func DropMaster(file *os.File) error {
	return ioctl.Do(file.Fd(), uintptr(IOCTLDropMaster), 0)
}
