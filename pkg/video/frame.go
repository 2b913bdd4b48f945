// Package video contains decoded picture buffers and pixel format conversions.
package video

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"time"
)

var (
	ErrAllocation   = errors.New("video: frame allocation failure")
	ErrIncompatible = errors.New("video: incompatible frames")
	ErrNilFrame     = errors.New("video: nil frame")
)

// maxDimension limits the width and the height of a frame.
const maxDimension = 1 << 14

type PixFmt uint8

const (
	None PixFmt = iota
	// I420 is planar 8-bit YUV 4:2:0, the full Y plane followed by U and V
	// planes of half the width and the height (rounded up).
	I420
	RGBA
	// BGRA is packed like RGBA with red and blue swapped.
	BGRA
)

func (f PixFmt) String() string {
	switch f {
	case I420:
		return "i420"
	case RGBA:
		return "rgba"
	case BGRA:
		return "bgra"
	default:
		return "none"
	}
}

func ParsePixFmt(s string) (PixFmt, error) {
	switch strings.ToLower(s) {
	case "i420", "yuv420p":
		return I420, nil
	case "rgba":
		return RGBA, nil
	case "bgra":
		return BGRA, nil
	}
	return None, fmt.Errorf("unknown pixel format %q", s)
}

func (f PixFmt) Valid() bool { return f > None && f <= BGRA }

// Size returns the number of bytes a w x h picture takes in this format.
func (f PixFmt) Size(w, h int) int {
	switch f {
	case I420:
		cw, ch := chroma(w, h)
		return w*h + 2*cw*ch
	case RGBA, BGRA:
		return w * h * 4
	}
	return 0
}

func (f PixFmt) stride(w int) int {
	if f == I420 {
		return w
	}
	return w * 4
}

func chroma(w, h int) (int, int) { return (w + 1) / 2, (h + 1) / 2 }

// Frame is a decoded picture.
// For planar formats Stride is the stride of the luma plane,
// chroma planes are packed without padding.
type Frame struct {
	Pix    []byte
	Stride int
	W, H   int
	Format PixFmt
	// PTS is the presentation time relative to the stream start.
	PTS time.Duration
}

// NewFrame returns an empty frame, call Allocate before use.
func NewFrame() *Frame { return &Frame{} }

// Allocate prepares the frame to hold a w x h picture in the pf format.
// The pixel storage is reused when it is large enough.
func (f *Frame) Allocate(w, h int, pf PixFmt) error {
	if f == nil {
		return ErrNilFrame
	}
	if w <= 0 || h <= 0 || w > maxDimension || h > maxDimension || !pf.Valid() {
		return fmt.Errorf("%w: %vx%v %v", ErrAllocation, w, h, pf)
	}
	n := pf.Size(w, h)
	if cap(f.Pix) >= n {
		f.Pix = f.Pix[:n]
	} else {
		f.Pix = make([]byte, n)
	}
	f.W, f.H, f.Format, f.Stride = w, h, pf, pf.stride(w)
	return nil
}

func (f *Frame) Bounds() image.Rectangle { return image.Rect(0, 0, f.W, f.H) }

func (f *Frame) String() string {
	if f == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%vx%v %v @%v", f.W, f.H, f.Format, f.PTS)
}

// planes returns Y, U, V planes of an I420 frame.
func (f *Frame) planes() (y, u, v []byte) {
	cw, ch := chroma(f.W, f.H)
	ys := f.Stride * f.H
	cs := cw * ch
	return f.Pix[:ys:ys], f.Pix[ys : ys+cs : ys+cs], f.Pix[ys+cs : ys+2*cs : ys+2*cs]
}

// YCbCr wraps the pixels of an I420 frame without copying.
func (f *Frame) YCbCr() *image.YCbCr {
	if f.Format != I420 {
		return nil
	}
	y, u, v := f.planes()
	cw, _ := chroma(f.W, f.H)
	return &image.YCbCr{
		Y: y, Cb: u, Cr: v,
		YStride:        f.Stride,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           f.Bounds(),
	}
}

// RGBA wraps the pixels of an RGBA frame without copying.
func (f *Frame) RGBA() *image.RGBA {
	if f.Format != RGBA {
		return nil
	}
	return &image.RGBA{Pix: f.Pix, Stride: f.Stride, Rect: f.Bounds()}
}

// Image returns the frame as a standard image.
// BGRA frames are copied with swapped channels.
func (f *Frame) Image() image.Image {
	switch f.Format {
	case I420:
		return f.YCbCr()
	case RGBA:
		return f.RGBA()
	case BGRA:
		img := image.NewRGBA(f.Bounds())
		swapRB(f.Pix, f.Stride, img.Pix, img.Stride, f.W, 0, f.H)
		return img
	}
	return nil
}

// CopyTo copies the picture into dst allocating it when needed.
func (f *Frame) CopyTo(dst *Frame) error {
	if err := dst.Allocate(f.W, f.H, f.Format); err != nil {
		return err
	}
	copy(dst.Pix, f.Pix)
	dst.PTS = f.PTS
	return nil
}
