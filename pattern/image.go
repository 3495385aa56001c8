// Package pattern draws test patterns onto 32 bpp XRGB8888 surfaces
// such as mapped dumb buffers.
package pattern

import (
	"image"
	"image/color"
	"image/draw"
)

// Surface is a pixel target addressed in 32 bit XRGB8888 words.
// *kms.Mapping implements it.
type Surface interface {
	Width() uint32
	Height() uint32
	SetPixel(x, y, val uint32) bool
	Pixel(x, y uint32) (uint32, bool)
}

// Image adapts a Surface to draw.Image. The X byte is ignored on read
// and written as zero.
type Image struct {
	s Surface
}

var _ draw.Image = (*Image)(nil)

func NewImage(s Surface) *Image { return &Image{s: s} }

func (m *Image) ColorModel() color.Model { return color.RGBAModel }

func (m *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, int(m.s.Width()), int(m.s.Height()))
}

func (m *Image) At(x, y int) color.Color {
	if x < 0 || y < 0 {
		return color.RGBA{}
	}
	v, ok := m.s.Pixel(uint32(x), uint32(y))
	if !ok {
		return color.RGBA{}
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}

func (m *Image) Set(x, y int, c color.Color) {
	if x < 0 || y < 0 {
		return
	}
	m.s.SetPixel(uint32(x), uint32(y), XRGB(c))
}

// XRGB converts c to an XRGB8888 word, dropping alpha.
func XRGB(c color.Color) uint32 {
	r, g, b, _ := c.RGBA()
	return (r>>8)<<16 | (g>>8)<<8 | b>>8
}

// Gray returns the XRGB8888 word with all channels set to v.
func Gray(v uint8) uint32 {
	c := uint32(v)
	return c<<16 | c<<8 | c
}
