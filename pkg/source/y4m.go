package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/framepump/framepump/pkg/video"
)

// YUV4MPEG2 is a raw 4:2:0 stream with a text header,
// see https://wiki.multimedia.cx/index.php/YUV4MPEG2
const (
	y4mMagic       = "YUV4MPEG2"
	y4mFrameMarker = "FRAME"
)

func init() { Register(".y4m", OpenY4M) }

type Y4M struct {
	path      string
	res       Resolution
	rate      Rational
	headerLen int64
}

// OpenY4M reads the stream header of a YUV4MPEG2 file.
func OpenY4M(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	defer func() { _ = f.Close() }()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("%w: no y4m header", ErrInvalidParameter)
	}
	y := Y4M{path: path, headerLen: int64(len(line))}
	if err := y.parseHeader(strings.TrimSuffix(line, "\n")); err != nil {
		return nil, err
	}
	return &y, nil
}

func (y *Y4M) parseHeader(line string) error {
	params := strings.Fields(line)
	if len(params) == 0 || params[0] != y4mMagic {
		return fmt.Errorf("%w: not a y4m file", ErrInvalidParameter)
	}
	for _, p := range params[1:] {
		v := p[1:]
		var err error
		switch p[0] {
		case 'W':
			y.res.W, err = strconv.Atoi(v)
		case 'H':
			y.res.H, err = strconv.Atoi(v)
		case 'F':
			num, den, ok := strings.Cut(v, ":")
			if !ok {
				return fmt.Errorf("%w: bad frame rate %v", ErrInvalidParameter, v)
			}
			if y.rate.Num, err = strconv.Atoi(num); err == nil {
				y.rate.Den, err = strconv.Atoi(den)
			}
		case 'C':
			switch v {
			case "420", "420jpeg", "420paldv", "420mpeg2":
			default:
				return fmt.Errorf("%w: y4m colorspace %v", ErrUnsupportedMedia, v)
			}
		}
		if err != nil {
			return fmt.Errorf("%w: bad y4m param %v", ErrInvalidParameter, p)
		}
	}
	if y.res.W <= 0 || y.res.H <= 0 || !y.rate.Valid() {
		return fmt.Errorf("%w: incomplete y4m header %q", ErrInvalidParameter, line)
	}
	return nil
}

func (y *Y4M) Streams() int { return 1 }

func (y *Y4M) Resolution(stream int) (Resolution, error) {
	if err := checkStream(stream, y.Streams()); err != nil {
		return Resolution{}, err
	}
	return y.res, nil
}

func (y *Y4M) StreamType(stream int) (StreamType, error) {
	if err := checkStream(stream, y.Streams()); err != nil {
		return StreamType{}, err
	}
	return StreamType{Media: Video, FrameRate: y.rate, Format: video.I420, Resolution: y.res}, nil
}

func (y *Y4M) Iterator(media MediaType, stream int) (Iterator, error) {
	if err := checkStream(stream, y.Streams()); err != nil {
		return nil, err
	}
	if media != Video {
		return nil, fmt.Errorf("%w: %v in y4m", ErrUnsupportedMedia, media)
	}
	f, err := os.Open(y.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	it := &y4mIterator{Y4M: y, f: f, r: bufio.NewReaderSize(f, 1<<16), frame: video.NewFrame()}
	if err := it.rewind(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return it, nil
}

func (y *Y4M) Close() error { return nil }

type y4mIterator struct {
	*Y4M
	f     *os.File
	r     *bufio.Reader
	frame *video.Frame
	// n is the index of the next frame
	n int64
}

func (it *y4mIterator) frameLen() int { return video.I420.Size(it.res.W, it.res.H) }

func (it *y4mIterator) rewind() error {
	if _, err := it.f.Seek(it.headerLen, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
	it.r.Reset(it.f)
	it.n = 0
	return nil
}

// read reads the next frame into dst or skips it when dst is nil.
func (it *y4mIterator) read(dst []byte) error {
	line, err := it.r.ReadString('\n')
	if errors.Is(err, io.EOF) && line == "" {
		return ErrEndOfStream
	}
	if err != nil {
		return fmt.Errorf("%w: frame %v header: %w", ErrInternal, it.n, err)
	}
	if !strings.HasPrefix(line, y4mFrameMarker) {
		return fmt.Errorf("%w: frame %v has no marker", ErrInternal, it.n)
	}
	if dst == nil {
		_, err = it.r.Discard(it.frameLen())
	} else {
		_, err = io.ReadFull(it.r, dst)
	}
	if err != nil {
		return fmt.Errorf("%w: truncated frame %v: %w", ErrInternal, it.n, err)
	}
	it.n++
	return nil
}

func (it *y4mIterator) Next() (*video.Frame, Metadata, error) {
	if err := it.frame.Allocate(it.res.W, it.res.H, video.I420); err != nil {
		return nil, Metadata{}, err
	}
	idx := it.n
	if err := it.read(it.frame.Pix); err != nil {
		return nil, Metadata{}, err
	}
	md := Metadata{Index: idx, PTS: it.rate.Nth(idx), Duration: it.rate.FrameTime()}
	it.frame.PTS = md.PTS
	return it.frame, md, nil
}

func (it *y4mIterator) SkipFrame() error { return it.read(nil) }

func (it *y4mIterator) SeekTo(t time.Duration) error {
	if t < 0 {
		t = 0
	}
	// the first frame with pts >= t
	d := int64(time.Second) * int64(it.rate.Den)
	target := (int64(t)*int64(it.rate.Num) + d - 1) / d
	if target < it.n {
		if err := it.rewind(); err != nil {
			return err
		}
	}
	for it.n < target {
		if err := it.read(nil); err != nil {
			if errors.Is(err, ErrEndOfStream) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (it *y4mIterator) Close() error { return it.f.Close() }
