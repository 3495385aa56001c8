package pattern

import (
	"fmt"
	"image"
	"image/draw"
	"slices"

	"github.com/fogleman/gg"
)

// Names of the patterns known to Draw.
var Names = []string{"gradient", "fill", "rings", "blank"}

// Background is the gray the fill and rings patterns start from.
const Background = 0x28

// DefaultRings are the ring centers of the rings pattern.
var DefaultRings = []image.Point{{X: 200, Y: 200}, {X: 400, Y: 200}}

// Known reports whether name is one of Names.
func Known(name string) bool {
	return slices.Contains(Names, name)
}

// Draw paints the named pattern over the whole surface.
func Draw(s Surface, name string) error {
	switch name {
	case "gradient":
		Gradient(s)
	case "fill":
		Fill(s, Gray(Background))
	case "rings":
		Fill(s, Gray(Background))
		Rings(s, DefaultRings...)
	case "blank":
		Fill(s, 0)
	default:
		return fmt.Errorf("unknown pattern %q, want one of %v", name, Names)
	}
	return nil
}

// Gradient writes a blue-magenta ramp growing from the top left corner:
// c = 0xff*(x*y)/(w*h) stored as c<<16 | c.
func Gradient(s Surface) {
	w, h := s.Width(), s.Height()
	area := uint64(w) * uint64(h)
	for y := uint32(0); y < h; y++ {
		for x := uint32(0); x < w; x++ {
			c := uint32(0xff * uint64(y) * uint64(x) / area)
			s.SetPixel(x, y, c<<16|c)
		}
	}
}

func Fill(s Surface, val uint32) {
	w, h := s.Width(), s.Height()
	for y := uint32(0); y < h; y++ {
		for x := uint32(0); x < w; x++ {
			s.SetPixel(x, y, val)
		}
	}
}

const (
	ringOuter = 100
	ringInner = 90
	ringHole  = 20
)

// Rings draws a black ring with a white band and a black center at
// each point.
func Rings(s Surface, centers ...image.Point) {
	dst := NewImage(s)
	size := 2*ringOuter + 1
	for _, p := range centers {
		c := gg.NewContext(size, size)
		mid := float64(ringOuter)
		c.SetRGB(0, 0, 0)
		c.DrawCircle(mid, mid, ringOuter)
		c.Fill()
		c.SetRGB(1, 1, 1)
		c.DrawCircle(mid, mid, ringInner)
		c.Fill()
		c.SetRGB(0, 0, 0)
		c.DrawCircle(mid, mid, ringHole)
		c.Fill()

		r := image.Rect(p.X-ringOuter, p.Y-ringOuter, p.X-ringOuter+size, p.Y-ringOuter+size)
		draw.Draw(dst, r, c.Image(), image.Point{}, draw.Over)
	}
}

// SavePNG writes the surface contents to path.
func SavePNG(path string, s Surface) error {
	return gg.SavePNG(path, NewImage(s))
}
