package video

import (
	"context"
	"fmt"
	"image"

	"github.com/framepump/framepump/pkg/thread"
)

// Transform converts the src picture into dst.
// The dst frame must be allocated already, its size and format define
// the output, so Transform may scale as well as change the pixel format.
// Rows are split into stripes processed on the pool.
func Transform(ctx context.Context, src, dst *Frame, pool *thread.Pool) error {
	if src == nil || dst == nil {
		return ErrNilFrame
	}
	if !src.Format.Valid() || !dst.Format.Valid() {
		return fmt.Errorf("%w: %v -> %v", ErrIncompatible, src.Format, dst.Format)
	}
	if len(src.Pix) < src.Format.Size(src.W, src.H) || len(dst.Pix) < dst.Format.Size(dst.W, dst.H) {
		return fmt.Errorf("%w: short pixel buffer", ErrIncompatible)
	}
	dst.PTS = src.PTS

	if src.W == dst.W && src.H == dst.H {
		return convert(ctx, src, dst, pool)
	}

	// scale through RGBA
	in := src.RGBA()
	if in == nil {
		tmp := getRGBA(src.W, src.H)
		defer putRGBA(tmp)
		if err := convert(ctx, src, wrapRGBA(tmp), pool); err != nil {
			return err
		}
		in = tmp
	}
	if out := dst.RGBA(); out != nil {
		Resize(in, out)
		return nil
	}
	out := getRGBA(dst.W, dst.H)
	defer putRGBA(out)
	Resize(in, out)
	return convert(ctx, wrapRGBA(out), dst, pool)
}

func wrapRGBA(img *image.RGBA) *Frame {
	return &Frame{Pix: img.Pix, Stride: img.Stride, W: img.Rect.Dx(), H: img.Rect.Dy(), Format: RGBA}
}

// convert changes the pixel format of same sized frames.
func convert(ctx context.Context, src, dst *Frame, pool *thread.Pool) error {
	var rows func(y0, y1 int)
	switch {
	case src.Format == dst.Format:
		rows = func(y0, y1 int) { copyRows(src, dst, y0, y1) }
	case src.Format == I420:
		rows = func(y0, y1 int) { yuvToRGB(src, dst, y0, y1) }
	case dst.Format == I420:
		rows = func(y0, y1 int) { rgbToYUV(src, dst, y0, y1) }
	default:
		rows = func(y0, y1 int) { swapRB(src.Pix, src.Stride, dst.Pix, dst.Stride, src.W, y0, y1) }
	}

	even := src.Format == I420 || dst.Format == I420
	step, n := stripes(src.H, pool.Size(), even)
	return pool.Parallel(ctx, n, func(i int) error {
		y0 := i * step
		rows(y0, min(y0+step, src.H))
		return nil
	})
}

// stripes splits h rows into n parts of step rows.
// Planar 4:2:0 needs stripes starting at even rows
// so that every chroma row belongs to one stripe.
func stripes(h, th int, even bool) (step, n int) {
	if th < 1 {
		th = 1
	}
	step = (h + th - 1) / th
	if even && step%2 != 0 {
		step++
	}
	if step < 1 {
		step = 1
	}
	return step, (h + step - 1) / step
}

func copyRows(src, dst *Frame, y0, y1 int) {
	rowLen := src.Format.stride(src.W)
	for y := y0; y < y1; y++ {
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+rowLen], src.Pix[y*src.Stride:])
	}
	if src.Format != I420 {
		return
	}
	_, su, sv := src.planes()
	_, du, dv := dst.planes()
	cw, _ := chroma(src.W, src.H)
	for cy := y0 / 2; cy < (y1+1)/2; cy++ {
		copy(du[cy*cw:(cy+1)*cw], su[cy*cw:])
		copy(dv[cy*cw:(cy+1)*cw], sv[cy*cw:])
	}
}

// rgbOffsets returns positions of the red and the blue bytes in a packed pixel.
func rgbOffsets(f PixFmt) (r, b int) {
	if f == BGRA {
		return 2, 0
	}
	return 0, 2
}

// yuvToRGB uses BT.601 limited range integer coefficients.
func yuvToRGB(src, dst *Frame, y0, y1 int) {
	sy, su, sv := src.planes()
	cw, _ := chroma(src.W, src.H)
	ro, bo := rgbOffsets(dst.Format)
	for y := y0; y < y1; y++ {
		row := dst.Pix[y*dst.Stride:]
		crow := (y / 2) * cw
		for x := 0; x < src.W; x++ {
			c := 298 * (int(sy[y*src.Stride+x]) - 16)
			d := int(su[crow+x/2]) - 128
			e := int(sv[crow+x/2]) - 128
			px := row[x*4 : x*4+4 : x*4+4]
			px[ro] = clamp((c + 409*e + 128) >> 8)
			px[1] = clamp((c - 100*d - 208*e + 128) >> 8)
			px[bo] = clamp((c + 516*d + 128) >> 8)
			px[3] = 0xff
		}
	}
}

func rgbToYUV(src, dst *Frame, y0, y1 int) {
	dy, du, dv := dst.planes()
	cw, _ := chroma(src.W, src.H)
	ro, bo := rgbOffsets(src.Format)
	at := func(x, y int) (r, g, b int) {
		px := src.Pix[y*src.Stride+x*4:]
		return int(px[ro]), int(px[1]), int(px[bo])
	}

	for y := y0; y < y1; y++ {
		for x := 0; x < src.W; x++ {
			r, g, b := at(x, y)
			dy[y*dst.Stride+x] = uint8(((66*r + 129*g + 25*b + 128) >> 8) + 16)
		}
	}
	// chroma of a 2x2 block average
	for cy := y0 / 2; cy < (y1+1)/2; cy++ {
		for cx := 0; cx < cw; cx++ {
			var r, g, b, n int
			for y := cy * 2; y < min(cy*2+2, src.H); y++ {
				for x := cx * 2; x < min(cx*2+2, src.W); x++ {
					pr, pg, pb := at(x, y)
					r, g, b, n = r+pr, g+pg, b+pb, n+1
				}
			}
			r, g, b = r/n, g/n, b/n
			du[cy*cw+cx] = uint8(((-38*r - 74*g + 112*b + 128) >> 8) + 128)
			dv[cy*cw+cx] = uint8(((112*r - 94*g - 18*b + 128) >> 8) + 128)
		}
	}
}

func swapRB(src []byte, sStride int, dst []byte, dStride int, w, y0, y1 int) {
	for y := y0; y < y1; y++ {
		s := src[y*sStride : y*sStride+w*4]
		d := dst[y*dStride : y*dStride+w*4]
		for x := 0; x < len(s); x += 4 {
			d[x], d[x+1], d[x+2], d[x+3] = s[x+2], s[x+1], s[x], s[x+3]
		}
	}
}

func clamp(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 0xff {
		return 0xff
	}
	return uint8(v)
}
