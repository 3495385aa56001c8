package pattern

import (
	"image"
	"image/draw"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

var goFont = sync.OnceValues(func() (*truetype.Font, error) {
	return truetype.Parse(goregular.TTF)
})

const labelPad = 4

// Label writes text in white on a black box whose top left corner is
// at (x, y). size is the font size in points.
func Label(s Surface, text string, x, y int, size float64) error {
	f, err := goFont()
	if err != nil {
		return err
	}
	face := truetype.NewFace(f, &truetype.Options{Size: size})
	defer face.Close()

	measure := gg.NewContext(1, 1)
	measure.SetFontFace(face)
	tw, th := measure.MeasureString(text)

	w, h := int(tw)+2*labelPad, int(th)+2*labelPad
	c := gg.NewContext(w, h)
	c.SetFontFace(face)
	c.SetRGB(0, 0, 0)
	c.Clear()
	c.SetRGB(1, 1, 1)
	c.DrawStringAnchored(text, labelPad, labelPad, 0, 1)

	draw.Draw(NewImage(s), image.Rect(x, y, x+w, y+h), c.Image(), image.Point{}, draw.Src)
	return nil
}
