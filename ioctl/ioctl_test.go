package ioctl

import (
	"strconv"
	"testing"
)

func getbits(n uint32) string {
	return strconv.FormatUint(uint64(n), 2)
}

func TestNewCode(t *testing.T) {
	code := NewCode(Read, 0x218, 'r', 1)
	expected := uint32(0x82187201)
	if code != expected {
		t.Errorf("Expected %s but got %s", getbits(expected),
			getbits(code))
		return
	}
}

func TestNewCodeNoParams(t *testing.T) {
	// DRM_IOCTL_SET_MASTER is _IO('d', 0x1e)
	code := NewCode(None, 0, 'd', 0x1e)
	if code != 0x641e {
		t.Errorf("Expected %s but got %s", getbits(0x641e), getbits(code))
	}
}

func TestNewCodeInvalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		typ  uint8
		sz   uint16
	}{
		{"type", 0x4, 0},
		{"size", Read, 1 << 14},
	} {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("NewCode(%d, %d) did not panic", tc.typ, tc.sz)
				}
			}()
			NewCode(tc.typ, tc.sz, 'd', 0)
		})
	}
}
