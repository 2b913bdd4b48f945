package source

import (
	"fmt"
	"image"

	"github.com/framepump/framepump/pkg/video"
	"golang.org/x/image/draw"
)

// fill copies a decoded picture into the frame.
// 4:2:0 pictures are kept in I420 and the rest become RGBA.
func fill(dst *video.Frame, img image.Image) error {
	if img == nil {
		return fmt.Errorf("%w: no picture", ErrInternal)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if src, ok := img.(*image.YCbCr); ok && src.SubsampleRatio == image.YCbCrSubsampleRatio420 {
		if err := dst.Allocate(w, h, video.I420); err != nil {
			return err
		}
		out := dst.YCbCr()
		for y := 0; y < h; y++ {
			copy(out.Y[y*out.YStride:y*out.YStride+w], src.Y[src.YOffset(b.Min.X, b.Min.Y+y):])
		}
		cw := out.CStride
		for cy := 0; cy < (h+1)/2; cy++ {
			off := src.COffset(b.Min.X, b.Min.Y+cy*2)
			copy(out.Cb[cy*cw:(cy+1)*cw], src.Cb[off:])
			copy(out.Cr[cy*cw:(cy+1)*cw], src.Cr[off:])
		}
		return nil
	}

	if err := dst.Allocate(w, h, video.RGBA); err != nil {
		return err
	}
	draw.Draw(dst.RGBA(), dst.Bounds(), img, b.Min, draw.Src)
	return nil
}
