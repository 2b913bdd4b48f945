package video

import (
	"image"
	"sync"

	"golang.org/x/image/draw"
)

var rgbaPool = sync.Pool{New: func() any { return &image.RGBA{} }}

func getRGBA(w, h int) *image.RGBA {
	img := rgbaPool.Get().(*image.RGBA)
	n := w * h * 4
	if cap(img.Pix) < n {
		img.Pix = make([]uint8, n)
	}
	img.Pix = img.Pix[:n]
	img.Stride = w * 4
	img.Rect = image.Rect(0, 0, w, h)
	return img
}

func putRGBA(img *image.RGBA) { rgbaPool.Put(img) }

// Resize scales src to fill out with the nearest neighbour interpolation.
func Resize(src *image.RGBA, out *image.RGBA) {
	draw.NearestNeighbor.Scale(out, out.Bounds(), src, src.Bounds(), draw.Src, nil)
}
