package recorder

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const labelHeight = 12

// AddLabel draws white text on a black box with the top left corner at x, y.
func AddLabel(img *image.RGBA, x, y int, label string) {
	box := image.Rect(x, y, x+len(label)*basicfont.Face7x13.Advance+3, y+labelHeight)
	draw.Draw(img, box.Intersect(img.Bounds()), image.Black, image.Point{}, draw.Src)
	(&font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x+2, y+10),
	}).DrawString(label)
}

func clone(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// TimeFormat prints a stream time as hh:mm:ss.mmm.
func TimeFormat(d time.Duration) string {
	mms := d.Milliseconds()
	return fmt.Sprintf("%02d:%02d:%02d.%03d", mms/3600000, mms/60000%60, mms/1000%60, mms%1000)
}
