package drmkit

import (
	"os"
	"unsafe"

	"github.com/NeowayLabs/drmkit/ioctl"
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

// Client capabilities, see SetClientCap.
const (
	ClientCapStereo3D = iota + 1
	ClientCapUniversalPlanes
	ClientCapAtomic
)

// GetCap returns the value of the device capability cap.
func GetCap(file *os.File, cap uint64) (uint64, error) {
	c := &capability{cap: cap}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLGetCap), uintptr(unsafe.Pointer(c)))
	if err != nil {
		return 0, err
	}
	return c.val, nil
}

func HasDumbBuffer(file *os.File) bool {
	val, err := GetCap(file, CapDumbBuffer)
	if err != nil {
		return false
	}
	return val != 0
}

// SetClientCap informs the kernel that this client understands cap.
func SetClientCap(file *os.File, cap, val uint64) error {
	c := &capability{cap: cap, val: val}
	return ioctl.Do(file.Fd(), uintptr(IOCTLSetClientCap), uintptr(unsafe.Pointer(c)))
}
