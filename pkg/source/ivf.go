package source

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"os"
	"time"

	"github.com/framepump/framepump/pkg/video"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
)

// FourccMJPEG marks IVF files with every frame stored as a JPEG picture.
const FourccMJPEG = "MJPG"

func init() { Register(".ivf", OpenIVF) }

type IVF struct {
	path   string
	header ivfreader.IVFFileHeader
	rate   Rational
}

// OpenIVF opens an IVF container with motion JPEG payload.
func OpenIVF(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	defer func() { _ = f.Close() }()

	_, h, err := ivfreader.NewWith(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}
	if h.FourCC != FourccMJPEG {
		return nil, fmt.Errorf("%w: ivf codec %q", ErrUnsupportedMedia, h.FourCC)
	}
	// the time base is seconds per tick, one tick per frame
	rate := Rational{Num: int(h.TimebaseDenominator), Den: int(h.TimebaseNumerator)}
	if !rate.Valid() || h.Width == 0 || h.Height == 0 {
		return nil, fmt.Errorf("%w: bad ivf header", ErrInvalidParameter)
	}
	return &IVF{path: path, header: *h, rate: rate}, nil
}

// Frames returns the number of frames declared in the header.
func (v *IVF) Frames() int { return int(v.header.NumFrames) }

func (v *IVF) Streams() int { return 1 }

func (v *IVF) Resolution(stream int) (Resolution, error) {
	if err := checkStream(stream, v.Streams()); err != nil {
		return Resolution{}, err
	}
	return Resolution{W: int(v.header.Width), H: int(v.header.Height)}, nil
}

func (v *IVF) StreamType(stream int) (StreamType, error) {
	res, err := v.Resolution(stream)
	if err != nil {
		return StreamType{}, err
	}
	return StreamType{Media: Video, FrameRate: v.rate, Format: video.I420, Resolution: res}, nil
}

func (v *IVF) Iterator(media MediaType, stream int) (Iterator, error) {
	if err := checkStream(stream, v.Streams()); err != nil {
		return nil, err
	}
	if media != Video {
		return nil, fmt.Errorf("%w: %v in ivf", ErrUnsupportedMedia, media)
	}
	f, err := os.Open(v.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	it := &ivfIterator{IVF: v, f: f, frame: video.NewFrame()}
	if err := it.rewind(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return it, nil
}

func (v *IVF) Close() error { return nil }

type ivfPacket struct {
	data []byte
	pts  time.Duration
}

type ivfIterator struct {
	*IVF
	f     *os.File
	r     *ivfreader.IVFReader
	frame *video.Frame
	// pending is a packet read ahead while seeking
	pending *ivfPacket
	n       int64
	last    time.Duration
}

func (it *ivfIterator) rewind() error {
	if _, err := it.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
	r, _, err := ivfreader.NewWith(it.f)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
	it.r, it.pending, it.n, it.last = r, nil, 0, 0
	return nil
}

func (it *ivfIterator) packet() (*ivfPacket, error) {
	if p := it.pending; p != nil {
		it.pending = nil
		return p, nil
	}
	data, h, err := it.r.ParseNextFrame()
	if errors.Is(err, io.EOF) {
		return nil, ErrEndOfStream
	}
	if err != nil {
		return nil, fmt.Errorf("%w: ivf frame %v: %w", ErrInternal, it.n, err)
	}
	return &ivfPacket{data: data, pts: it.rate.Nth(int64(h.Timestamp))}, nil
}

func (it *ivfIterator) Next() (*video.Frame, Metadata, error) {
	p, err := it.packet()
	if err != nil {
		return nil, Metadata{}, err
	}
	if err := it.decode(p); err != nil {
		return nil, Metadata{}, err
	}
	md := Metadata{Index: it.n, PTS: p.pts, Duration: it.rate.FrameTime()}
	it.n++
	it.last = p.pts
	return it.frame, md, nil
}

func (it *ivfIterator) SkipFrame() error {
	p, err := it.packet()
	if err != nil {
		return err
	}
	it.n++
	it.last = p.pts
	return it.decode(p)
}

func (it *ivfIterator) SeekTo(t time.Duration) error {
	if it.n > 0 && t <= it.last {
		if err := it.rewind(); err != nil {
			return err
		}
	}
	for {
		p, err := it.packet()
		if errors.Is(err, ErrEndOfStream) {
			return nil
		}
		if err != nil {
			return err
		}
		if p.pts >= t {
			it.pending = p
			return nil
		}
		it.n++
		it.last = p.pts
	}
}

// decode unpacks a JPEG picture into the iterator frame.
func (it *ivfIterator) decode(p *ivfPacket) error {
	img, err := jpeg.Decode(bytes.NewReader(p.data))
	if err != nil {
		return fmt.Errorf("%w: ivf frame %v: %w", ErrInternal, it.n, err)
	}
	if err := fill(it.frame, img); err != nil {
		return err
	}
	it.frame.PTS = p.pts
	return nil
}

func (it *ivfIterator) Close() error { return it.f.Close() }
